package model

import (
	"time"
)

// QueryOrder is the column the materializer sorts offers on.
type QueryOrder string

const (
	QueryOrderItemRank      QueryOrder = "item_rank"
	QueryOrderUserDistance  QueryOrder = "user_distance"
	QueryOrderBookingNumber QueryOrder = "booking_number"
)

// Valid reports whether q is a known query order.
func (q QueryOrder) Valid() bool {
	switch q {
	case QueryOrderItemRank, QueryOrderUserDistance, QueryOrderBookingNumber:
		return true
	}
	return false
}

// RecommendableItem is a candidate returned by a retrieval endpoint.
// ItemRank is the position inside the producing retrieval response (lower is better).
type RecommendableItem struct {
	ItemID                    string     `json:"item_id"`
	ItemRank                  int        `json:"item_rank"`
	ItemScore                 *float64   `json:"item_score,omitempty"`
	ItemOrigin                string     `json:"item_origin"`
	Category                  string     `json:"category,omitempty"`
	SubcategoryID             string     `json:"subcategory_id,omitempty"`
	SearchGroupName           string     `json:"search_group_name,omitempty"`
	GtlID                     string     `json:"gtl_id,omitempty"`
	GtlL1                     string     `json:"gtl_l1,omitempty"`
	GtlL2                     string     `json:"gtl_l2,omitempty"`
	GtlL3                     string     `json:"gtl_l3,omitempty"`
	GtlL4                     string     `json:"gtl_l4,omitempty"`
	BookingNumberLast7Days    int        `json:"booking_number_last_7_days"`
	BookingNumberLast14Days   int        `json:"booking_number_last_14_days"`
	BookingNumberLast28Days   int        `json:"booking_number_last_28_days"`
	ExampleOfferID            string     `json:"example_offer_id,omitempty"`
	ExampleVenueID            string     `json:"example_venue_id,omitempty"`
	ExampleVenueLatitude      *float64   `json:"example_venue_latitude,omitempty"`
	ExampleVenueLongitude     *float64   `json:"example_venue_longitude,omitempty"`
	ExampleStockPrice         *float64   `json:"example_stock_price,omitempty"`
	ExampleOfferCreationDate  *time.Time `json:"example_offer_creation_date,omitempty"`
	ExampleStockBeginningDate *time.Time `json:"example_stock_beginning_date,omitempty"`
	DefaultMaxDistance        float64    `json:"default_max_distance"`
	TotalOffers               int        `json:"total_offers"`
	IsGeolocated              bool       `json:"is_geolocated"`
}

// IsSingleVenue reports whether the item can be materialized from its exemplar offer.
func (it RecommendableItem) IsSingleVenue() bool {
	return it.TotalOffers <= 1 || !it.IsGeolocated
}

// RecommendableOffer is an item materialized into a concrete offer.
type RecommendableOffer struct {
	RecommendableItem
	OfferID            string     `json:"offer_id"`
	VenueID            string     `json:"venue_id,omitempty"`
	UserDistance       *float64   `json:"user_distance,omitempty"`
	VenueLatitude      *float64   `json:"venue_latitude,omitempty"`
	VenueLongitude     *float64   `json:"venue_longitude,omitempty"`
	BookingNumber      int        `json:"booking_number"`
	StockPrice         *float64   `json:"stock_price,omitempty"`
	OfferCreationDate  *time.Time `json:"offer_creation_date,omitempty"`
	StockBeginningDate *time.Time `json:"stock_beginning_date,omitempty"`
}

// RankedOffer is a RecommendableOffer with its display position.
type RankedOffer struct {
	RecommendableOffer
	OfferRank   int      `json:"offer_rank"`
	OfferScore  *float64 `json:"offer_score,omitempty"`
	OfferOrigin string   `json:"offer_origin"`
}

// Feature returns the value of a diversification feature. Unknown features
// yield the empty string, which groups all offers together.
func (o RankedOffer) Feature(name string) string {
	switch name {
	case "search_group_name":
		return o.SearchGroupName
	case "subcategory_id":
		return o.SubcategoryID
	case "category":
		return o.Category
	case "gtl_id":
		return o.GtlID
	case "gtl_l1":
		return o.GtlL1
	case "gtl_l2":
		return o.GtlL2
	case "gtl_l3":
		return o.GtlL3
	case "gtl_l4":
		return o.GtlL4
	case "item_id":
		return o.ItemID
	}
	return ""
}

// OfferIDs returns the offer identifiers in order.
func OfferIDs(offers []RankedOffer) []string {
	ids := make([]string, 0, len(offers))
	for _, o := range offers {
		ids = append(ids, o.OfferID)
	}
	return ids
}
