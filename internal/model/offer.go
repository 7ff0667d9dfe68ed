package model

// Offer is an anchor offer used by the similar-offer engine.
type Offer struct {
	OfferID       string   `json:"offer_id"`
	ItemID        *string  `json:"item_id,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	RegionID      *string  `json:"region_id,omitempty"`
	BookingNumber int      `json:"booking_number"`
	IsSensitive   bool     `json:"is_sensitive"`
	Found         bool     `json:"found"`
}

// IsGeolocated reports whether the anchor offer was resolved to a region.
func (o Offer) IsGeolocated() bool {
	return o.RegionID != nil && o.Latitude != nil && o.Longitude != nil
}

// Location returns the anchor coordinates, or ok=false when unknown.
func (o Offer) Location() (lat, lon float64, ok bool) {
	if o.Latitude == nil || o.Longitude == nil {
		return 0, 0, false
	}
	return *o.Latitude, *o.Longitude, true
}

// Item returns the item identifier or the empty string.
func (o Offer) Item() string {
	if o.ItemID == nil {
		return ""
	}
	return *o.ItemID
}

// Region returns the region identifier or the empty string.
func (o Offer) Region() string {
	if o.RegionID == nil {
		return ""
	}
	return *o.RegionID
}
