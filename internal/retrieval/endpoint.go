package retrieval

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/prediction"
)

// Kind selects the instance shape sent to the model.
type Kind string

const (
	// KindFilter sends the filter only.
	KindFilter Kind = "filter"
	// KindRecommendation adds the user id.
	KindRecommendation Kind = "recommendation"
	// KindSimilarOffer adds the anchor item ids (dense or semantic models).
	KindSimilarOffer Kind = "similar_offer"
	// KindSimilarOfferFilter sends the filter for a similar-offer request.
	KindSimilarOfferFilter Kind = "similar_offer_filter"
)

// Valid reports whether k is known.
func (k Kind) Valid() bool {
	switch k {
	case KindFilter, KindRecommendation, KindSimilarOffer, KindSimilarOfferFilter:
		return true
	}
	return false
}

// DefaultSize is the number of items requested when an endpoint sets none.
const DefaultSize = 500

// Endpoint describes one retrieval model. It carries no request state.
type Endpoint struct {
	// Name tags retrieved items with their origin.
	Name         string   `json:"name" yaml:"name" validate:"required"`
	Kind         Kind     `json:"kind" yaml:"kind" validate:"required"`
	EndpointName string   `json:"endpoint_name" yaml:"endpoint_name" validate:"required"`
	Fallbacks    []string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	// ModelType is forwarded to the model as model_type.
	ModelType string `json:"model_type" yaml:"model_type" validate:"required"`
	Size      int    `json:"size,omitempty" yaml:"size,omitempty" validate:"gte=0"`
	// Cached enables the prediction result cache.
	Cached bool `json:"cached,omitempty" yaml:"cached,omitempty"`
}

// Clone returns a deep copy.
func (e Endpoint) Clone() Endpoint {
	out := e
	if e.Fallbacks != nil {
		out.Fallbacks = append([]string(nil), e.Fallbacks...)
	}
	return out
}

// Request binds an endpoint to one call.
type Request struct {
	User   model.UserContext
	Params model.PlaylistParams
	CallID string
	// ItemIDs are the anchor items of a similar-offer request.
	ItemIDs []string
	// OfferID is the first anchor offer id, forwarded for logging.
	OfferID string
	Debug   bool
}

// Retriever executes endpoints against a prediction client.
type Retriever struct {
	client prediction.Client
}

// NewRetriever creates a Retriever.
func NewRetriever(client prediction.Client) *Retriever {
	return &Retriever{client: client}
}

// Instance builds the model input for ep and req. The boolean is false
// when the endpoint cannot be called, e.g. a similar-offer model with no
// anchor item.
func Instance(ep Endpoint, req Request) (map[string]any, bool) {
	size := ep.Size
	if size <= 0 {
		size = DefaultSize
	}
	inst := map[string]any{
		"model_type": ep.ModelType,
		"size":       size,
		"params":     BuildFilter(req.User, req.Params).AsMap(),
		"call_id":    req.CallID,
		"debug":      boolInt(req.Debug),
	}

	switch ep.Kind {
	case KindRecommendation:
		inst["user_id"] = req.User.UserID
	case KindSimilarOffer:
		if len(req.ItemIDs) == 0 {
			return nil, false
		}
		inst["items"] = append([]string(nil), req.ItemIDs...)
		inst["offer_id"] = req.OfferID
		inst["user_id"] = req.User.UserID
	case KindSimilarOfferFilter:
		if len(req.ItemIDs) == 0 {
			return nil, false
		}
		inst["offer_id"] = req.OfferID
	}
	return inst, true
}

// Result is what one endpoint produced.
type Result struct {
	Endpoint     string
	Items        []model.RecommendableItem
	ModelVersion string
	ModelName    string
	Status       prediction.Status
	Duration     time.Duration
}

// Retrieve calls ep and returns its items in model order. Failures yield
// an empty item list.
func (r *Retriever) Retrieve(ctx context.Context, ep Endpoint, req Request) Result {
	start := time.Now()
	out := Result{Endpoint: ep.Name, Status: prediction.StatusError}

	inst, ok := Instance(ep, req)
	if !ok {
		zap.L().Debug("retrieval: endpoint skipped",
			zap.String("endpoint", ep.Name),
			zap.String("call_id", req.CallID),
		)
		return out
	}

	res := r.client.Score(ctx, prediction.Request{
		Endpoint:  ep.EndpointName,
		Instances: []map[string]any{inst},
		Fallbacks: ep.Fallbacks,
		Cached:    ep.Cached,
	})
	out.Status = res.Status
	out.ModelVersion = res.ModelVersion
	out.ModelName = res.ModelDisplayName
	out.Duration = time.Since(start)
	if res.Status != prediction.StatusSuccess {
		return out
	}

	exclude := make(map[string]struct{})
	if ep.Kind == KindSimilarOffer || ep.Kind == KindSimilarOfferFilter {
		for _, id := range req.ItemIDs {
			exclude[id] = struct{}{}
		}
	}

	out.Items = make([]model.RecommendableItem, 0, len(res.Predictions))
	for i, p := range res.Predictions {
		item := ParseItem(p, i)
		if _, skip := exclude[item.ItemID]; skip && item.ItemID != "" {
			continue
		}
		item.ItemOrigin = ep.Name
		out.Items = append(out.Items, item)
	}
	return out
}

// ParseItem decodes a retrieval prediction. The rank is taken from idx and
// defaults to the position in the response.
func ParseItem(p prediction.Prediction, position int) model.RecommendableItem {
	var item model.RecommendableItem
	if raw, err := json.Marshal(p); err == nil {
		if err := json.Unmarshal(raw, &item); err != nil {
			zap.L().Debug("retrieval: partial item decode", zap.Error(err))
		}
	}
	if id, ok := p.String("item_id"); ok {
		item.ItemID = id
	}
	// Models emit the flag as a bool or as the 0/1 used in filters.
	if geo, ok := p.Bool("is_geolocated"); ok {
		item.IsGeolocated = geo
	}

	item.ItemRank = position
	if idx, ok := p.Float("idx"); ok {
		item.ItemRank = int(idx)
	}
	if score, ok := p.Float("score"); ok {
		item.ItemScore = &score
	} else if dist, ok := p.Float("_distance"); ok {
		item.ItemScore = &dist
	}
	return item
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
