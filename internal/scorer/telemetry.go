package scorer

import (
	"time"

	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/metrics"
)

// Telemetry summarizes one scoring call. It is logged, exported and
// stored with the audit rows.
type Telemetry struct {
	RetrievalCounts     map[string]int    `json:"retrieval_counts"`
	RetrievalModels     map[string]string `json:"retrieval_models,omitempty"`
	RetrievalVersions   map[string]string `json:"retrieval_versions,omitempty"`
	Retrieved           int               `json:"retrieved"`
	Excluded            int               `json:"excluded"`
	Materialized        int               `json:"materialized"`
	MaterializeCacheHit bool              `json:"materialize_cache_hit"`
	Ranked              int               `json:"ranked"`
	RankingModel        string            `json:"ranking_model,omitempty"`
	RankingVersion      string            `json:"ranking_version,omitempty"`
	RankingDegraded     bool              `json:"ranking_degraded"`
	RankingMissing      int               `json:"ranking_missing"`
	Emitted             int               `json:"emitted"`
	// Durations are in milliseconds, keyed by stage.
	Durations map[string]int64 `json:"durations_ms"`
}

func newTelemetry(req Request) Telemetry {
	return Telemetry{
		RetrievalCounts:   make(map[string]int, len(req.Config.Retrievals)),
		RetrievalModels:   make(map[string]string, len(req.Config.Retrievals)),
		RetrievalVersions: make(map[string]string, len(req.Config.Retrievals)),
		Durations:         make(map[string]int64, 6),
	}
}

func (t *Telemetry) stage(name string, items int, d time.Duration) {
	t.Durations[name] = d.Milliseconds()
	metrics.RecordStage(name, items, d)
}

// AsMap returns the telemetry as the audit extra-data document.
func (t Telemetry) AsMap() map[string]any {
	counts := make(map[string]any, len(t.RetrievalCounts))
	for k, v := range t.RetrievalCounts {
		counts[k] = v
	}
	durations := make(map[string]any, len(t.Durations))
	for k, v := range t.Durations {
		durations[k] = v
	}
	out := map[string]any{
		"retrieval_counts":      counts,
		"retrieved":             t.Retrieved,
		"excluded":              t.Excluded,
		"materialized":          t.Materialized,
		"materialize_cache_hit": t.MaterializeCacheHit,
		"ranked":                t.Ranked,
		"ranking_degraded":      t.RankingDegraded,
		"ranking_missing":       t.RankingMissing,
		"emitted":               t.Emitted,
		"durations_ms":          durations,
	}
	if t.RankingModel != "" {
		out["ranking_model"] = t.RankingModel
	}
	if t.RankingVersion != "" {
		out["ranking_version"] = t.RankingVersion
	}
	return out
}

// ModelVersion returns the ranking model version, or the version of the
// first retrieval that reported one.
func (t Telemetry) ModelVersion(order []string) string {
	if t.RankingVersion != "" {
		return t.RankingVersion
	}
	for _, name := range order {
		if v := t.RetrievalVersions[name]; v != "" {
			return v
		}
	}
	return ""
}

func (t Telemetry) log(req Request) {
	zap.L().Info("scorer: scored",
		zap.String("call_id", req.CallID),
		zap.String("user_id", req.User.UserID),
		zap.String("context", req.Context),
		zap.String("configuration", req.Config.Name),
		zap.Any("retrieval_counts", t.RetrievalCounts),
		zap.Int("retrieved", t.Retrieved),
		zap.Int("excluded", t.Excluded),
		zap.Int("materialized", t.Materialized),
		zap.Bool("materialize_cache_hit", t.MaterializeCacheHit),
		zap.Int("ranked", t.Ranked),
		zap.Bool("ranking_degraded", t.RankingDegraded),
		zap.Int("emitted", t.Emitted),
		zap.Int64("duration_ms", t.Durations["total"]),
	)
}
