package model

import "time"

// Audit context tags.
const (
	ContextRecommendation         = "recommendation"
	ContextRecommendationFallback = "recommendation_fallback"
	ContextSimilarOffer           = "similar_offer"
	ContextHybridRecommendation   = "hybrid_recommendation"
)

// PastOfferContext is one audit row per emitted offer.
type PastOfferContext struct {
	CallID                     string
	Context                    string
	ContextExtraData           map[string]any
	Date                       time.Time
	UserID                     string
	UserBookingsCount          int
	UserClicksCount            int
	UserFavoritesCount         int
	UserDepositRemainingCredit float64
	UserRegionID               *string
	UserLatitude               *float64
	UserLongitude              *float64
	OfferID                    string
	OfferItemID                string
	OfferUserDistance          *float64
	OfferIsGeolocated          bool
	OfferBookingNumber         int
	OfferStockPrice            *float64
	OfferCreationDate          *time.Time
	OfferStockBeginningDate    *time.Time
	OfferCategory              string
	OfferSubcategoryID         string
	OfferItemRank              int
	OfferItemScore             *float64
	OfferOrder                 int
	OfferVenueID               string
	OfferExtraData             map[string]any
}

// PastRecommendation is written once per recommendation call.
type PastRecommendation struct {
	CallID       string
	UserID       string
	OfferIDs     []string
	Date         time.Time
	GroupID      string
	RecoOrigin   string
	ModelName    string
	ModelVersion string
	UserRegionID *string
	RecoFilters  map[string]any
}

// PastSimilar is written once per similar-offer call.
type PastSimilar struct {
	CallID        string
	UserID        string
	OriginOfferID string
	OfferIDs      []string
	Date          time.Time
	GroupID       string
	ModelName     string
	ModelVersion  string
	VenueRegionID *string
	RecoFilters   map[string]any
}

// AuditBatch is everything persisted for one request, in one transaction.
type AuditBatch struct {
	OfferContexts  []PastOfferContext
	Recommendation *PastRecommendation
	Similar        *PastSimilar
}
