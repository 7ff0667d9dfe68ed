// Package scorer runs one recommendation request through retrieval,
// exclusion, materialization, ranking and diversification.
package scorer

import (
	"context"
	"hash/fnv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offerreco/reco-api/internal/configuration"
	"github.com/offerreco/reco-api/internal/diversify"
	"github.com/offerreco/reco-api/internal/materialize"
	"github.com/offerreco/reco-api/internal/metrics"
	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/ranking"
	"github.com/offerreco/reco-api/internal/retrieval"
)

// Retriever calls one retrieval endpoint.
type Retriever interface {
	Retrieve(ctx context.Context, ep retrieval.Endpoint, req retrieval.Request) retrieval.Result
}

// Materializer turns items into concrete offers.
type Materializer interface {
	Materialize(ctx context.Context, req materialize.Request) materialize.Result
}

// Ranker orders materialized offers.
type Ranker interface {
	Rank(ctx context.Context, ep ranking.Endpoint, req ranking.Request, offers []model.RecommendableOffer) ranking.Result
}

// Exclusions returns the items a user must never be shown.
type Exclusions interface {
	NonRecommendable(ctx context.Context, userID string) map[string]struct{}
}

// DefaultCount is the display cap when a request sets none.
const DefaultCount = 40

// Request is one scoring call. Config must already be a per-request clone.
type Request struct {
	CallID  string
	Context string
	User    model.UserContext
	// Anchors are set for similar-offer requests.
	Anchors []model.Offer
	Params  model.PlaylistParams
	Config  configuration.ModelConfiguration
	Count   int
	Debug   bool
	Now     time.Time
}

// Result is the diversified list and the telemetry of the call.
type Result struct {
	Offers    []model.RankedOffer
	Telemetry Telemetry
}

// Scorer wires the pipeline stages.
type Scorer struct {
	retriever    Retriever
	exclusions   Exclusions
	materializer Materializer
	ranker       Ranker
}

// New creates a Scorer.
func New(retriever Retriever, exclusions Exclusions, materializer Materializer, ranker Ranker) *Scorer {
	return &Scorer{
		retriever:    retriever,
		exclusions:   exclusions,
		materializer: materializer,
		ranker:       ranker,
	}
}

// Score returns at most req.Count offers. Upstream failures degrade the
// result and are never returned.
func (s *Scorer) Score(ctx context.Context, req Request) Result {
	start := time.Now()
	tel := newTelemetry(req)
	defer func() {
		tel.Durations["total"] = time.Since(start).Milliseconds()
		tel.log(req)
	}()

	// Retrieval fan-out.
	stageStart := time.Now()
	items := s.retrieve(ctx, req, &tel)
	tel.Retrieved = len(items)
	tel.stage("retrieval", len(items), time.Since(stageStart))
	if len(items) == 0 {
		return Result{Offers: []model.RankedOffer{}, Telemetry: tel}
	}

	// Exclusion and item dedup.
	stageStart = time.Now()
	items = s.exclude(ctx, req.User.UserID, items)
	tel.Excluded = tel.Retrieved - len(items)
	tel.stage("exclusion", len(items), time.Since(stageStart))
	if len(items) == 0 {
		return Result{Offers: []model.RankedOffer{}, Telemetry: tel}
	}

	// Materialization.
	stageStart = time.Now()
	mat := s.materializer.Materialize(ctx, materialize.Request{
		User:       req.User,
		Anchors:    req.Anchors,
		RegionID:   region(req),
		Items:      items,
		QueryOrder: req.Config.QueryOrder,
		Limit:      req.Config.MaterializeLimit(),
	})
	tel.Materialized = len(mat.Offers)
	tel.MaterializeCacheHit = mat.CacheHit
	tel.stage("materialize", len(mat.Offers), time.Since(stageStart))
	if len(mat.Offers) == 0 {
		return Result{Offers: []model.RankedOffer{}, Telemetry: tel}
	}

	// Ranking.
	stageStart = time.Now()
	ranked := s.ranker.Rank(ctx, req.Config.Ranking, ranking.Request{
		User:    req.User,
		CallID:  req.CallID,
		Context: req.Context,
		Now:     req.Now,
	}, mat.Offers)
	tel.Ranked = len(ranked.Offers)
	tel.RankingModel = ranked.ModelName
	tel.RankingVersion = ranked.ModelVersion
	tel.RankingDegraded = ranked.Degraded
	tel.RankingMissing = ranked.Missing
	tel.stage("ranking", len(ranked.Offers), time.Since(stageStart))

	// Diversification.
	stageStart = time.Now()
	opts := MixOptions(req, ranked)
	out := diversify.Mix(ranked.Offers, opts)
	tel.Emitted = len(out)
	tel.stage("diversification", len(out), time.Since(stageStart))

	return Result{Offers: out, Telemetry: tel}
}

// retrieve calls every endpoint concurrently and concatenates the results
// in configuration order.
func (s *Scorer) retrieve(ctx context.Context, req Request, tel *Telemetry) []model.RecommendableItem {
	rreq := retrieval.Request{
		User:    req.User,
		Params:  req.Params,
		CallID:  req.CallID,
		ItemIDs: AnchorItems(req.Anchors),
		Debug:   req.Debug,
	}
	if len(req.Anchors) > 0 {
		rreq.OfferID = req.Anchors[0].OfferID
	}

	results := make([]retrieval.Result, len(req.Config.Retrievals))
	g, gCtx := errgroup.WithContext(ctx)
	for i, ep := range req.Config.Retrievals {
		g.Go(func() error {
			results[i] = s.retriever.Retrieve(gCtx, ep, rreq)
			return nil
		})
	}
	_ = g.Wait()

	var items []model.RecommendableItem
	for i, res := range results {
		name := req.Config.Retrievals[i].Name
		tel.RetrievalCounts[name] = len(res.Items)
		if res.ModelName != "" {
			tel.RetrievalModels[name] = res.ModelName
		}
		if res.ModelVersion != "" {
			tel.RetrievalVersions[name] = res.ModelVersion
		}
		metrics.RetrievedItems.WithLabelValues(name).Observe(float64(len(res.Items)))
		items = append(items, res.Items...)
	}
	return items
}

// exclude drops non-recommendable and id-less items, keeping the first
// occurrence of each item.
func (s *Scorer) exclude(ctx context.Context, userID string, items []model.RecommendableItem) []model.RecommendableItem {
	blocked := s.exclusions.NonRecommendable(ctx, userID)
	seen := make(map[string]struct{}, len(items))
	out := make([]model.RecommendableItem, 0, len(items))
	for _, it := range items {
		if it.ItemID == "" {
			continue
		}
		if _, ok := blocked[it.ItemID]; ok {
			continue
		}
		if _, ok := seen[it.ItemID]; ok {
			continue
		}
		seen[it.ItemID] = struct{}{}
		out = append(out, it)
	}
	return out
}

// MixOptions derives the mixer options of a request. Offers ranked by a
// remote model are ordered by score, everything else by rank.
func MixOptions(req Request, ranked ranking.Result) diversify.Options {
	count := req.Count
	if count <= 0 {
		count = DefaultCount
	}
	opts := diversify.Options{
		Column:    diversify.ColumnOfferRank,
		Ascending: true,
		Submixing: req.Config.Submixing,
		Count:     count,
		Shuffle:   req.Config.Shuffle || req.Params.Shuffled(),
		Seed:      Seed(req.CallID),
	}
	if req.Config.Ranking.Strategy.Remote() && !ranked.Degraded {
		opts.Column = diversify.ColumnOfferScore
		opts.Ascending = false
	}
	if req.Config.Diversification != diversify.ModeOff {
		opts.Feature = req.Config.Diversification.Feature()
	}
	return opts
}

// Seed derives the shuffle seed from the call id so a call is reproducible.
func Seed(callID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(callID))
	return h.Sum64()
}

// AnchorItems returns the distinct item ids of the anchors, in order.
func AnchorItems(anchors []model.Offer) []string {
	var ids []string
	seen := make(map[string]struct{}, len(anchors))
	for _, a := range anchors {
		id := a.Item()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// region keys the materialization cache: the user region, or the first
// geolocated anchor region for similar offers.
func region(req Request) string {
	for _, a := range req.Anchors {
		if r := a.Region(); r != "" {
			return r
		}
	}
	return req.User.Region()
}
