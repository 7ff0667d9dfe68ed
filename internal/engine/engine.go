// Package engine dispatches a request to the recommendation or the
// similar-offer flow, applies the fallback policy and writes the audit trail.
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/configuration"
	"github.com/offerreco/reco-api/internal/metrics"
	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/scorer"
)

// AnonymousUserID identifies similar-offer callers without a user.
const AnonymousUserID = "-1"

// Profiles loads the user and anchor contexts of a request.
type Profiles interface {
	User(ctx context.Context, userID string, lat, lon *float64) model.UserContext
	Offers(ctx context.Context, offerIDs []string, lat, lon *float64) []model.Offer
}

// Scorer runs the scoring pipeline.
type Scorer interface {
	Score(ctx context.Context, req scorer.Request) scorer.Result
}

// AuditStore persists what was shown.
type AuditStore interface {
	SaveAudit(ctx context.Context, batch model.AuditBatch) error
}

// Forks resolves the fork of a request.
type Forks interface {
	Resolve(override *string, fallback string, kind configuration.ForkKind) (configuration.ModelFork, error)
}

// Request is one engine call.
type Request struct {
	UserID string
	// OfferIDs are the anchor offers. Empty for a plain recommendation.
	OfferIDs  []string
	Latitude  *float64
	Longitude *float64
	Params    model.PlaylistParams
	// Caller is model.ContextRecommendation for playlist calls and
	// model.ContextSimilarOffer for similar-offer calls.
	Caller      string
	UseFallback bool
	Debug       bool
}

// Response is what the API returns.
type Response struct {
	OfferIDs    []string
	RecoOrigin  string
	ModelOrigin string
	CallID      string
	Context     string
}

// Engine is the request façade.
type Engine struct {
	profiles Profiles
	scorer   Scorer
	audit    AuditStore
	forks    Forks

	count             int
	itemScoreFromRank bool
	now               func() time.Time
	newCallID         func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithCount sets the display cap.
func WithCount(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.count = n
		}
	}
}

// WithItemScoreFromRank stores item_rank in offer_item_score instead of the
// retrieval score.
func WithItemScoreFromRank(v bool) Option {
	return func(e *Engine) { e.itemScoreFromRank = v }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCallIDs overrides call id generation.
func WithCallIDs(fn func() string) Option {
	return func(e *Engine) { e.newCallID = fn }
}

// New creates an Engine.
func New(profiles Profiles, sc Scorer, audit AuditStore, forks Forks, opts ...Option) *Engine {
	e := &Engine{
		profiles:          profiles,
		scorer:            sc,
		audit:             audit,
		forks:             forks,
		count:             scorer.DefaultCount,
		itemScoreFromRank: true,
		now:               time.Now,
		newCallID:         func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is one engine pass after dispatch.
type run struct {
	context  string
	similar  bool
	user     model.UserContext
	anchors  []model.Offer
	fork     configuration.ModelFork
	decision configuration.Decision
}

// Recommend serves a request. Only invalid input is returned as an error.
//
// When UseFallback is set and the first run is empty, the request is re-run
// through the default recommendation fork with context
// recommendation_fallback. This happens only when the first run was a
// similar-offer run or used a modelEndpoint override. An empty plain
// recommendation run is not repeated, since the fallback would run the same
// fork again.
func (e *Engine) Recommend(ctx context.Context, req Request) (Response, error) {
	if err := req.Params.Validate(); err != nil {
		return Response{}, err
	}
	if req.UserID == "" {
		req.UserID = AnonymousUserID
	}
	callID := e.newCallID()
	now := e.now().UTC()

	user := e.profiles.User(ctx, req.UserID, req.Latitude, req.Longitude)
	var anchors []model.Offer
	if len(req.OfferIDs) > 0 {
		anchors = e.profiles.Offers(ctx, req.OfferIDs, req.Latitude, req.Longitude)
	}

	first, err := e.plan(req, user, anchors, req.Params.ModelEndpoint)
	if err != nil {
		return Response{}, err
	}
	offers, tel := e.execute(ctx, req, first, callID, now)

	active := first
	if len(offers) == 0 && req.UseFallback && (first.similar || req.Params.ModelEndpoint != nil) {
		fb, err := e.recommendationRun(user, model.ContextRecommendationFallback, nil)
		if err != nil {
			return Response{}, err
		}
		zap.L().Info("engine: empty result, falling back to recommendation",
			zap.String("call_id", callID),
			zap.String("context", first.context),
		)
		active = fb
		offers, tel = e.execute(ctx, req, fb, callID, now)
	}

	metrics.Recommendations.WithLabelValues(active.context, active.decision.Origin, strconv.FormatBool(len(offers) == 0)).Inc()

	if len(offers) > 0 {
		e.save(ctx, Audit(AuditInput{
			CallID:            callID,
			Context:           active.context,
			Now:               now,
			User:              active.user,
			Anchors:           active.anchors,
			Params:            req.Params,
			Fork:              active.fork.Name,
			Decision:          active.decision,
			Offers:            offers,
			Telemetry:         tel,
			ItemScoreFromRank: e.itemScoreFromRank,
			Similar:           req.Caller == model.ContextSimilarOffer,
		}))
	}

	return Response{
		OfferIDs:    model.OfferIDs(offers),
		RecoOrigin:  active.decision.Origin,
		ModelOrigin: active.decision.Config.Name,
		CallID:      callID,
		Context:     active.context,
	}, nil
}

// plan applies the dispatch table.
func (e *Engine) plan(req Request, user model.UserContext, anchors []model.Offer, override *string) (run, error) {
	if len(anchors) == 0 || anySensitive(anchors) {
		return e.recommendationRun(user, model.ContextRecommendation, override)
	}
	ctxTag := model.ContextSimilarOffer
	if req.Caller == model.ContextRecommendation {
		ctxTag = model.ContextHybridRecommendation
	}
	fork, err := e.forks.Resolve(override, configuration.DefaultSimilarOfferFork, configuration.ForkOffer)
	if err != nil {
		return run{}, eris.Wrap(err, "engine: resolve similar-offer fork")
	}
	return run{
		context:  ctxTag,
		similar:  true,
		user:     user,
		anchors:  anchors,
		fork:     fork,
		decision: fork.ForOffers(anchors),
	}, nil
}

func (e *Engine) recommendationRun(user model.UserContext, ctxTag string, override *string) (run, error) {
	fork, err := e.forks.Resolve(override, configuration.DefaultRecommendationFork, configuration.ForkUser)
	if err != nil {
		return run{}, eris.Wrap(err, "engine: resolve recommendation fork")
	}
	return run{
		context:  ctxTag,
		user:     user,
		fork:     fork,
		decision: fork.ForUser(user),
	}, nil
}

// execute scores one run. A similar-offer run without any anchor item
// returns nothing without calling retrieval.
func (e *Engine) execute(ctx context.Context, req Request, r run, callID string, now time.Time) ([]model.RankedOffer, scorer.Telemetry) {
	if r.similar && len(scorer.AnchorItems(r.anchors)) == 0 {
		zap.L().Info("engine: anchors have no item",
			zap.String("call_id", callID),
			zap.Strings("offer_ids", req.OfferIDs),
		)
		return []model.RankedOffer{}, scorer.Telemetry{}
	}

	cfg := r.decision.Config
	if len(req.Params.SubmixingFeatureDict) > 0 {
		cfg.Submixing = make(map[string]string, len(req.Params.SubmixingFeatureDict))
		for k, v := range req.Params.SubmixingFeatureDict {
			cfg.Submixing[k] = v
		}
	}

	res := e.scorer.Score(ctx, scorer.Request{
		CallID:  callID,
		Context: r.context,
		User:    r.user,
		Anchors: r.anchors,
		Params:  req.Params,
		Config:  cfg,
		Count:   e.count,
		Debug:   req.Debug,
		Now:     now,
	})
	offers := res.Offers
	if len(offers) > e.count {
		offers = offers[:e.count]
	}
	return offers, res.Telemetry
}

func (e *Engine) save(ctx context.Context, batch model.AuditBatch) {
	if err := e.audit.SaveAudit(ctx, batch); err != nil {
		metrics.AuditErrors.Inc()
		zap.L().Error("engine: save audit", zap.Int("offers", len(batch.OfferContexts)), zap.Error(err))
	}
}

func anySensitive(anchors []model.Offer) bool {
	for _, a := range anchors {
		if a.IsSensitive {
			return true
		}
	}
	return false
}
