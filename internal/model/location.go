package model

// Location is one row from a centers or points-of-interest file: a named
// place plus its resolved coordinates. Latitude and Longitude stay nil until
// the resolver fills them; GeocodeError carries the human-readable reason
// when resolution fails or needs manual review.
type Location struct {
	Name         string   `json:"name,omitempty"`
	Address      string   `json:"address,omitempty"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	ZipCode      string   `json:"zip_code"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	GeocodeError string   `json:"error,omitempty"`
}

// DisplayName returns the place name, falling back to the city.
func (l Location) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.City
}

// Identity returns the natural key for this row.
func (l Location) Identity() Identity {
	return Identity{Name: l.DisplayName(), State: l.State, ZipCode: l.ZipCode}
}

// Resolved reports whether the row carries usable coordinates.
func (l Location) Resolved() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Float64Ptr returns a pointer to v. Convenience for building Location
// literals in callers and tests.
func Float64Ptr(v float64) *float64 { return &v }
