// Package ranking orders materialized offers, either locally or through a
// remote scoring model.
package ranking

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/prediction"
)

// Strategy names a ranking behavior.
type Strategy string

const (
	StrategyModel        Strategy = "model"
	StrategyNoPopularity Strategy = "no_popularity"
	StrategyDistance     Strategy = "distance"
	StrategyItemRank     Strategy = "item_rank"
	StrategyOff          Strategy = "off"
)

// Valid reports whether s is known.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyModel, StrategyNoPopularity, StrategyDistance, StrategyItemRank, StrategyOff:
		return true
	}
	return false
}

// Remote reports whether s calls a scoring model.
func (s Strategy) Remote() bool {
	return s == StrategyModel || s == StrategyNoPopularity
}

// Endpoint describes the ranking step of a configuration.
type Endpoint struct {
	Strategy     Strategy `json:"strategy" yaml:"strategy" validate:"required"`
	EndpointName string   `json:"endpoint_name,omitempty" yaml:"endpoint_name,omitempty"`
	Fallbacks    []string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

// Clone returns a deep copy.
func (e Endpoint) Clone() Endpoint {
	out := e
	if e.Fallbacks != nil {
		out.Fallbacks = append([]string(nil), e.Fallbacks...)
	}
	return out
}

// Request carries the per-call inputs of the ranking features.
type Request struct {
	User    model.UserContext
	CallID  string
	Context string
	Now     time.Time
}

// Result is the ranked list and the model identity when one was called.
type Result struct {
	Offers       []model.RankedOffer
	ModelVersion string
	ModelName    string
	// Degraded is set when the remote model failed and the input order was kept.
	Degraded bool
	Missing  int
}

// Ranker ranks offers.
type Ranker struct {
	client prediction.Client
}

// NewRanker creates a Ranker.
func NewRanker(client prediction.Client) *Ranker {
	return &Ranker{client: client}
}

// Rank orders offers according to ep. Ranks are dense from 0.
func (r *Ranker) Rank(ctx context.Context, ep Endpoint, req Request, offers []model.RecommendableOffer) Result {
	if len(offers) == 0 {
		return Result{Offers: []model.RankedOffer{}}
	}

	switch ep.Strategy {
	case StrategyDistance:
		ranked := wrap(offers, string(ep.Strategy))
		sort.SliceStable(ranked, func(i, j int) bool {
			return lessDistance(ranked[i].UserDistance, ranked[j].UserDistance)
		})
		return Result{Offers: renumber(ranked)}
	case StrategyItemRank:
		ranked := wrap(offers, string(ep.Strategy))
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].ItemRank < ranked[j].ItemRank
		})
		return Result{Offers: renumber(ranked)}
	case StrategyModel, StrategyNoPopularity:
		return r.rankRemote(ctx, ep, req, offers)
	default:
		return Result{Offers: renumber(wrap(offers, string(StrategyOff)))}
	}
}

func (r *Ranker) rankRemote(ctx context.Context, ep Endpoint, req Request, offers []model.RecommendableOffer) Result {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	instances := make([]map[string]any, 0, len(offers))
	for _, o := range offers {
		instances = append(instances, Features(req, o, now, ep.Strategy == StrategyNoPopularity))
	}

	res := r.client.Score(ctx, prediction.Request{
		Endpoint:  ep.EndpointName,
		Instances: instances,
		Fallbacks: ep.Fallbacks,
	})
	out := Result{ModelVersion: res.ModelVersion, ModelName: res.ModelDisplayName}
	if !res.OK() {
		zap.L().Warn("ranking: model unavailable, keeping retrieval order",
			zap.String("endpoint", ep.EndpointName),
			zap.String("call_id", req.CallID),
		)
		out.Offers = renumber(wrap(offers, string(StrategyOff)))
		out.Degraded = true
		return out
	}

	scores := make(map[string]float64, len(res.Predictions))
	for _, p := range res.Predictions {
		id, ok := p.String("offer_id")
		if !ok {
			continue
		}
		score, ok := p.Float("score")
		if !ok {
			continue
		}
		if _, dup := scores[id]; !dup {
			scores[id] = score
		}
	}

	found := make([]model.RankedOffer, 0, len(offers))
	var missing []model.RankedOffer
	for _, o := range offers {
		ro := model.RankedOffer{RecommendableOffer: o, OfferOrigin: string(ep.Strategy)}
		score, ok := scores[o.OfferID]
		if !ok {
			missing = append(missing, ro)
			continue
		}
		ro.OfferScore = &score
		found = append(found, ro)
	}
	sort.SliceStable(found, func(i, j int) bool {
		return *found[i].OfferScore > *found[j].OfferScore
	})

	if len(missing) > 0 {
		zap.L().Error("ranking: predictions missing offers",
			zap.String("endpoint", ep.EndpointName),
			zap.String("call_id", req.CallID),
			zap.Int("missing", len(missing)),
			zap.Int("total", len(offers)),
		)
	}
	out.Missing = len(missing)
	out.Offers = renumber(append(found, missing...))
	return out
}

// Features builds the scoring-model input for one offer.
func Features(req Request, o model.RecommendableOffer, now time.Time, noPopularity bool) map[string]any {
	bookings := o.BookingNumber
	if noPopularity {
		bookings = 0
	}
	return map[string]any{
		"offer_id":                          o.OfferID,
		"item_id":                           o.ItemID,
		"context":                           req.Context,
		"user_bookings_count":               req.User.BookingsCount,
		"user_clicks_count":                 req.User.ClicksCount,
		"user_favorites_count":              req.User.FavoritesCount,
		"user_deposit_remaining_credit":     req.User.RemainingCredit,
		"user_is_geolocated":                boolFloat(req.User.IsGeolocated()),
		"offer_user_distance":               floatOrNil(o.UserDistance),
		"offer_is_geolocated":               boolFloat(o.IsGeolocated),
		"offer_booking_number":              bookings,
		"offer_booking_number_last_7_days":  o.BookingNumberLast7Days,
		"offer_booking_number_last_14_days": o.BookingNumberLast14Days,
		"offer_booking_number_last_28_days": o.BookingNumberLast28Days,
		"offer_item_rank":                   o.ItemRank,
		"offer_stock_price":                 floatOrNil(o.StockPrice),
		"offer_creation_days":               daysSince(now, o.OfferCreationDate),
		"offer_stock_beginning_days":        daysSince(now, o.StockBeginningDate),
		"offer_category":                    o.Category,
		"offer_subcategory_id":              o.SubcategoryID,
		"day_of_the_week":                   int(now.Weekday()),
		"hour_of_the_day":                   now.Hour(),
	}
}

func wrap(offers []model.RecommendableOffer, origin string) []model.RankedOffer {
	out := make([]model.RankedOffer, len(offers))
	for i, o := range offers {
		out[i] = model.RankedOffer{RecommendableOffer: o, OfferOrigin: origin}
	}
	return out
}

func renumber(offers []model.RankedOffer) []model.RankedOffer {
	for i := range offers {
		offers[i].OfferRank = i
	}
	return offers
}

// lessDistance orders known distances ascending with unknown ones last.
func lessDistance(a, b *float64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a < *b
	}
}

func daysSince(now time.Time, t *time.Time) any {
	if t == nil {
		return nil
	}
	return now.Sub(*t).Hours() / 24
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
