package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reachmaps/reach-cli/internal/model"
	"github.com/reachmaps/reach-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the stored data over a read-only API",
	Long:  "Exposes geocoded centers and isochrone documents over HTTP for map frontends. Pure read-through to the store; nothing is written.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: apiRouter(st),
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func apiRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := st.Ping(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/centers", func(w http.ResponseWriter, req *http.Request) {
		centers, err := st.ListCenters(req.Context())
		if err != nil {
			zap.L().Error("api: list centers", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, centers)
	})

	r.Get("/api/isochrones/{name}", func(w http.ResponseWriter, req *http.Request) {
		id := model.Identity{
			Name:    chi.URLParam(req, "name"),
			State:   req.URL.Query().Get("state"),
			ZipCode: req.URL.Query().Get("zip"),
		}
		if id.State == "" || id.ZipCode == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state and zip query parameters are required"})
			return
		}

		records, err := st.IsochronesFor(req.Context(), id)
		if err != nil {
			zap.L().Error("api: isochrones", zap.String("center", id.String()), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
			return
		}
		if len(records) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no isochrones for center"})
			return
		}

		fc, err := store.FeatureCollection(records)
		if err != nil {
			zap.L().Error("api: build feature collection", zap.String("center", id.String()), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalid stored geometry"})
			return
		}
		writeJSON(w, http.StatusOK, fc)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
