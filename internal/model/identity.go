// Package model defines the core records shared across the geocode and
// isochrone pipeline stages.
package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity is the natural key for a center or location: the place name (or
// city when no name is set), state, and zip code. Isochrones extend it with
// their threshold value.
type Identity struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
}

// Key returns the identity encoded as a single comparable string.
func (id Identity) Key() string {
	return strings.Join([]string{id.Name, id.State, id.ZipCode}, "|")
}

func (id Identity) String() string {
	return id.Name + ", " + id.State + " " + id.ZipCode
}

// slugStripper removes diacritic marks left behind by NFD decomposition.
var slugStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug returns the full identity encoded for document filenames. Every part
// of the tuple is included so same-named centers in different places map to
// distinct documents. Each part is reduced to ASCII alphanumerics, with
// diacritics decomposed and dropped first so "São Paulo" becomes "SaoPaulo",
// not "SoPaulo".
func (id Identity) Slug() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{id.Name, id.State, id.ZipCode} {
		if s := slugPart(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "_")
}

func slugPart(s string) string {
	out, _, err := transform.String(slugStripper, s)
	if err != nil {
		out = s
	}

	var b strings.Builder
	for _, r := range out {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
