package engine

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/configuration"
	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/scorer"
)

// AuditInput is everything the audit rows of one call are built from.
type AuditInput struct {
	CallID    string
	Context   string
	Now       time.Time
	User      model.UserContext
	Anchors   []model.Offer
	Params    model.PlaylistParams
	Fork      string
	Decision  configuration.Decision
	Offers    []model.RankedOffer
	Telemetry scorer.Telemetry
	// ItemScoreFromRank stores item_rank as offer_item_score.
	ItemScoreFromRank bool
	// Similar writes a past_similar_offers row instead of a
	// past_recommended_offers row.
	Similar bool
}

// Audit builds the rows of one call: one offer context per emitted offer
// and one call-level row.
func Audit(in AuditInput) model.AuditBatch {
	extra := in.Telemetry.AsMap()
	extra["configuration"] = in.Decision.Config.Name
	extra["fork"] = in.Fork
	extra["reco_origin"] = in.Decision.Origin

	batch := model.AuditBatch{OfferContexts: make([]model.PastOfferContext, 0, len(in.Offers))}
	for _, o := range in.Offers {
		batch.OfferContexts = append(batch.OfferContexts, offerContext(in, o, extra))
	}

	ids := model.OfferIDs(in.Offers)
	version := in.Telemetry.ModelVersion(retrievalNames(in.Decision.Config))
	filters := paramsMap(in.Params)

	if in.Similar {
		sim := &model.PastSimilar{
			CallID:       in.CallID,
			UserID:       in.User.UserID,
			OfferIDs:     ids,
			Date:         in.Now,
			GroupID:      in.Fork,
			ModelName:    in.Decision.Config.Name,
			ModelVersion: version,
			RecoFilters:  filters,
		}
		if len(in.Anchors) > 0 {
			sim.OriginOfferID = in.Anchors[0].OfferID
			sim.VenueRegionID = in.Anchors[0].RegionID
		}
		batch.Similar = sim
		return batch
	}

	batch.Recommendation = &model.PastRecommendation{
		CallID:       in.CallID,
		UserID:       in.User.UserID,
		OfferIDs:     ids,
		Date:         in.Now,
		GroupID:      in.Fork,
		RecoOrigin:   in.Decision.Origin,
		ModelName:    in.Decision.Config.Name,
		ModelVersion: version,
		UserRegionID: in.User.RegionID,
		RecoFilters:  filters,
	}
	return batch
}

func offerContext(in AuditInput, o model.RankedOffer, extra map[string]any) model.PastOfferContext {
	score := o.ItemScore
	if in.ItemScoreFromRank {
		rank := float64(o.ItemRank)
		score = &rank
	}

	offerExtra := map[string]any{
		"item_origin":  o.ItemOrigin,
		"offer_origin": o.OfferOrigin,
	}
	if o.OfferScore != nil {
		offerExtra["offer_score"] = *o.OfferScore
	}
	if o.ItemScore != nil {
		offerExtra["item_score"] = *o.ItemScore
	}
	if o.SearchGroupName != "" {
		offerExtra["search_group_name"] = o.SearchGroupName
	}

	return model.PastOfferContext{
		CallID:                     in.CallID,
		Context:                    in.Context,
		ContextExtraData:           extra,
		Date:                       in.Now,
		UserID:                     in.User.UserID,
		UserBookingsCount:          in.User.BookingsCount,
		UserClicksCount:            in.User.ClicksCount,
		UserFavoritesCount:         in.User.FavoritesCount,
		UserDepositRemainingCredit: in.User.RemainingCredit,
		UserRegionID:               in.User.RegionID,
		UserLatitude:               in.User.Latitude,
		UserLongitude:              in.User.Longitude,
		OfferID:                    o.OfferID,
		OfferItemID:                o.ItemID,
		OfferUserDistance:          o.UserDistance,
		OfferIsGeolocated:          o.IsGeolocated,
		OfferBookingNumber:         o.BookingNumber,
		OfferStockPrice:            o.StockPrice,
		OfferCreationDate:          o.OfferCreationDate,
		OfferStockBeginningDate:    o.StockBeginningDate,
		OfferCategory:              o.Category,
		OfferSubcategoryID:         o.SubcategoryID,
		OfferItemRank:              o.ItemRank,
		OfferItemScore:             score,
		OfferOrder:                 o.OfferRank,
		OfferVenueID:               o.VenueID,
		OfferExtraData:             offerExtra,
	}
}

func retrievalNames(cfg configuration.ModelConfiguration) []string {
	names := make([]string, 0, len(cfg.Retrievals))
	for _, r := range cfg.Retrievals {
		names = append(names, r.Name)
	}
	return names
}

// paramsMap renders the request filters as a JSON document.
func paramsMap(p model.PlaylistParams) map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		zap.L().Warn("engine: marshal reco filters", zap.Error(err))
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		zap.L().Warn("engine: decode reco filters", zap.Error(err))
		return nil
	}
	return out
}
