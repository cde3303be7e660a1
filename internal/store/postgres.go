package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/reachmaps/reach-cli/internal/db"
	"github.com/reachmaps/reach-cli/internal/model"
)

// PostgresStore implements Store on PostGIS tables via pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. A bad DSN or
// unreachable server fails here, before any pipeline work starts.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS city_centers (
	id            SERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	address       TEXT,
	city          TEXT,
	state         TEXT NOT NULL,
	zip_code      TEXT NOT NULL,
	latitude      DOUBLE PRECISION,
	longitude     DOUBLE PRECISION,
	geom          GEOMETRY(Point, 4326),
	geocode_error TEXT,
	modified_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, state, zip_code)
);

CREATE TABLE IF NOT EXISTS locations (
	id            SERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	address       TEXT,
	city          TEXT,
	state         TEXT NOT NULL,
	zip_code      TEXT NOT NULL,
	latitude      DOUBLE PRECISION,
	longitude     DOUBLE PRECISION,
	geom          GEOMETRY(Point, 4326),
	geocode_error TEXT,
	modified_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, state, zip_code)
);

CREATE TABLE IF NOT EXISTS isochrones (
	id          SERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	state       TEXT NOT NULL,
	zip_code    TEXT NOT NULL,
	group_index INTEGER NOT NULL DEFAULT 0,
	value       DOUBLE PRECISION NOT NULL CHECK (value > 0),
	center      GEOMETRY(Point, 4326),
	geom        GEOMETRY(Polygon, 4326) NOT NULL,
	metadata    JSONB,
	modified_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, state, zip_code, value),
	FOREIGN KEY (name, state, zip_code)
		REFERENCES city_centers (name, state, zip_code)
		ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_city_centers_geom ON city_centers USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_locations_geom ON locations USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_isochrones_geom ON isochrones USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_isochrones_identity ON isochrones (name, state, zip_code);

CREATE OR REPLACE FUNCTION touch_modified_at() RETURNS trigger AS $$
BEGIN
	NEW.modified_at = now();
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_city_centers_modified ON city_centers;
CREATE TRIGGER trg_city_centers_modified BEFORE UPDATE ON city_centers
	FOR EACH ROW EXECUTE FUNCTION touch_modified_at();

DROP TRIGGER IF EXISTS trg_locations_modified ON locations;
CREATE TRIGGER trg_locations_modified BEFORE UPDATE ON locations
	FOR EACH ROW EXECUTE FUNCTION touch_modified_at();

DROP TRIGGER IF EXISTS trg_isochrones_modified ON isochrones;
CREATE TRIGGER trg_isochrones_modified BEFORE UPDATE ON isochrones
	FOR EACH ROW EXECUTE FUNCTION touch_modified_at();
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const upsertLocationSQL = ` (name, address, city, state, zip_code, latitude, longitude, geom, geocode_error)
	 VALUES ($1, $2, $3, $4, $5, $6, $7,
	         CASE WHEN $6::float8 IS NULL OR $7::float8 IS NULL THEN NULL
	              ELSE ST_SetSRID(ST_MakePoint($7, $6), 4326) END,
	         $8)
	 ON CONFLICT (name, state, zip_code) DO UPDATE SET
	   address = EXCLUDED.address,
	   city = EXCLUDED.city,
	   latitude = EXCLUDED.latitude,
	   longitude = EXCLUDED.longitude,
	   geom = EXCLUDED.geom,
	   geocode_error = EXCLUDED.geocode_error`

func (s *PostgresStore) UpsertCenters(ctx context.Context, rows []model.Location) error {
	return s.upsertLocationRows(ctx, "city_centers", rows)
}

func (s *PostgresStore) UpsertLocations(ctx context.Context, rows []model.Location) error {
	return s.upsertLocationRows(ctx, "locations", rows)
}

func (s *PostgresStore) upsertLocationRows(ctx context.Context, table string, rows []model.Location) error {
	for _, row := range rows {
		id := row.Identity()
		_, err := s.pool.Exec(ctx,
			"INSERT INTO "+table+upsertLocationSQL,
			id.Name, row.Address, row.City, id.State, id.ZipCode,
			row.Latitude, row.Longitude, nullString(row.GeocodeError),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert %s %s", table, id)
		}
	}
	return nil
}

func (s *PostgresStore) ListCenters(ctx context.Context) ([]model.Location, error) {
	return s.listLocationRows(ctx, "city_centers")
}

func (s *PostgresStore) ListLocations(ctx context.Context) ([]model.Location, error) {
	return s.listLocationRows(ctx, "locations")
}

func (s *PostgresStore) listLocationRows(ctx context.Context, table string) ([]model.Location, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, address, city, state, zip_code, latitude, longitude, geocode_error
		 FROM `+table+` ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", table)
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		var row model.Location
		var address, city, geocodeErr *string
		if err := rows.Scan(&row.Name, &address, &city, &row.State, &row.ZipCode,
			&row.Latitude, &row.Longitude, &geocodeErr); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s row", table)
		}
		if address != nil {
			row.Address = *address
		}
		if city != nil {
			row.City = *city
		}
		if geocodeErr != nil {
			row.GeocodeError = *geocodeErr
		}
		out = append(out, row)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: list %s iterate", table)
}

var isochroneUpsert = db.UpsertConfig{
	Table:        "isochrones",
	Columns:      []string{"name", "state", "zip_code", "group_index", "value", "center", "geom", "metadata"},
	ConflictKeys: []string{"name", "state", "zip_code", "value"},
}

// UpsertIsochrones bulk-writes records through the temp-table COPY path.
// Geometry travels as EWKB, which is PostGIS's binary wire format.
func (s *PostgresStore) UpsertIsochrones(ctx context.Context, records []model.Isochrone) error {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
		poly, err := rec.Polygon()
		if err != nil {
			return err
		}
		polyWKB, err := ewkb.Marshal(poly, ewkb.NDR)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode ring for %s", rec.Identity())
		}
		point := geom.NewPointFlat(geom.XY, []float64{rec.Center[0], rec.Center[1]}).SetSRID(4326)
		pointWKB, err := ewkb.Marshal(point, ewkb.NDR)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode center for %s", rec.Identity())
		}

		var metadata []byte
		if len(rec.Metadata) > 0 {
			metadata = []byte(rec.Metadata)
		}
		rows = append(rows, []any{
			rec.Name, rec.State, rec.ZipCode, rec.GroupIndex, rec.Value,
			pointWKB, polyWKB, metadata,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, isochroneUpsert, rows)
	return err
}

func (s *PostgresStore) IsochronesFor(ctx context.Context, id model.Identity) ([]model.Isochrone, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, state, zip_code, group_index, value,
		        ST_AsEWKB(center), ST_AsEWKB(geom), metadata, modified_at
		 FROM isochrones
		 WHERE name = $1 AND state = $2 AND zip_code = $3
		 ORDER BY value`,
		id.Name, id.State, id.ZipCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: isochrones for %s", id)
	}
	defer rows.Close()

	var out []model.Isochrone
	for rows.Next() {
		var rec model.Isochrone
		var centerWKB, polyWKB, metadata []byte
		if err := rows.Scan(&rec.Name, &rec.State, &rec.ZipCode, &rec.GroupIndex,
			&rec.Value, &centerWKB, &polyWKB, &metadata, &rec.ModifiedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan isochrone")
		}

		if len(centerWKB) > 0 {
			g, err := ewkb.Unmarshal(centerWKB)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: decode center for %s", rec.Identity())
			}
			if pt, ok := g.(*geom.Point); ok {
				rec.Center = pt.Coords()
			}
		}
		g, err := ewkb.Unmarshal(polyWKB)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: decode ring for %s", rec.Identity())
		}
		poly, ok := g.(*geom.Polygon)
		if !ok || poly.NumLinearRings() == 0 {
			return nil, eris.Errorf("postgres: stored geometry for %s is not a polygon", rec.Identity())
		}
		outer := poly.LinearRing(0)
		ring := make([]geom.Coord, outer.NumCoords())
		for i := range ring {
			ring[i] = outer.Coord(i)
		}
		rec.Ring = ring
		if len(metadata) > 0 {
			rec.Metadata = metadata
		}
		out = append(out, rec)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: isochrones for %s iterate", id)
}

// DeleteCenter deletes the center row; the FK cascade takes the isochrones
// with it.
func (s *PostgresStore) DeleteCenter(ctx context.Context, id model.Identity) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM city_centers WHERE name = $1 AND state = $2 AND zip_code = $3`,
		id.Name, id.State, id.ZipCode,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete center %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("center not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM city_centers),
		   (SELECT COUNT(*) FROM locations),
		   (SELECT COUNT(*) FROM isochrones)`,
	).Scan(&c.Centers, &c.Locations, &c.Isochrones)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Counts{}, nil
		}
		return Counts{}, eris.Wrap(err, "postgres: counts")
	}
	return c, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
