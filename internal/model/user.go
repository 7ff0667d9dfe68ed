// Package model holds the request-scoped domain types shared by the recommendation pipeline.
package model

// Defaults applied when a user profile row is missing or has null columns.
const (
	DefaultAge             = 18
	DefaultRemainingCredit = 300.0
)

// UserContext is the enriched profile of the requesting user. It is built
// once per request and never mutated afterwards.
type UserContext struct {
	UserID          string   `json:"user_id"`
	Age             int      `json:"age"`
	BookingsCount   int      `json:"bookings_count"`
	ClicksCount     int      `json:"clicks_count"`
	FavoritesCount  int      `json:"favorites_count"`
	RemainingCredit float64  `json:"remaining_credit"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	RegionID        *string  `json:"region_id,omitempty"`
	Found           bool     `json:"found"`
}

// NewUserContext returns a user with default counters, as used when no
// profile row exists.
func NewUserContext(userID string) UserContext {
	return UserContext{
		UserID:          userID,
		Age:             DefaultAge,
		RemainingCredit: DefaultRemainingCredit,
	}
}

// IsGeolocated reports whether the user was resolved to a region.
func (u UserContext) IsGeolocated() bool {
	return u.RegionID != nil && u.Latitude != nil && u.Longitude != nil
}

// IsUnderage reports whether underage eligibility rules apply.
func (u UserContext) IsUnderage() bool {
	return u.Age < 18
}

// Location returns the user coordinates, or ok=false when unknown.
func (u UserContext) Location() (lat, lon float64, ok bool) {
	if u.Latitude == nil || u.Longitude == nil {
		return 0, 0, false
	}
	return *u.Latitude, *u.Longitude, true
}

// Region returns the region identifier or the empty string.
func (u UserContext) Region() string {
	if u.RegionID == nil {
		return ""
	}
	return *u.RegionID
}
