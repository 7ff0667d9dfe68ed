// Package configuration holds the model configurations a request can run
// with and the fork that picks the warm or cold variant for a user or an
// anchor offer.
package configuration

import (
	"github.com/rotisserie/eris"

	"github.com/offerreco/reco-api/internal/diversify"
	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/ranking"
	"github.com/offerreco/reco-api/internal/retrieval"
)

// Sentinel errors mapped to client errors by the API.
var (
	ErrUnknownConfiguration = eris.New("configuration: unknown configuration")
	ErrInvalidOverride      = eris.New("configuration: invalid model endpoint override")
)

// Reco origins.
const (
	OriginAlgo      = "algo"
	OriginColdStart = "cold_start"
	OriginUnknown   = "unknown"
)

// ModelConfiguration is the retrieval, ranking and diversification
// triplet of one variant.
type ModelConfiguration struct {
	Name            string               `json:"name" yaml:"name" validate:"required"`
	Description     string               `json:"description,omitempty" yaml:"description,omitempty"`
	RetrievalSet    string               `json:"retrieval_set,omitempty" yaml:"retrieval_set,omitempty"`
	Retrievals      []retrieval.Endpoint `json:"retrievals" yaml:"retrievals" validate:"required,min=1,dive"`
	Ranking         ranking.Endpoint     `json:"ranking" yaml:"ranking"`
	Diversification diversify.Mode       `json:"diversification" yaml:"diversification" validate:"required"`
	QueryOrder      model.QueryOrder     `json:"query_order" yaml:"query_order" validate:"required"`
	// Limit caps the materialized list.
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty" validate:"gte=0"`
	// Submixing is filled from the request and never from templates.
	Submixing map[string]string `json:"submixing,omitempty" yaml:"submixing,omitempty"`
	Shuffle   bool              `json:"shuffle,omitempty" yaml:"shuffle,omitempty"`
}

// DefaultLimit is the materialization limit when a configuration sets none.
const DefaultLimit = 150

// Clone returns a deep copy.
func (c ModelConfiguration) Clone() ModelConfiguration {
	out := c
	if c.Retrievals != nil {
		out.Retrievals = make([]retrieval.Endpoint, len(c.Retrievals))
		for i, r := range c.Retrievals {
			out.Retrievals[i] = r.Clone()
		}
	}
	out.Ranking = c.Ranking.Clone()
	if c.Submixing != nil {
		out.Submixing = make(map[string]string, len(c.Submixing))
		for k, v := range c.Submixing {
			out.Submixing[k] = v
		}
	}
	return out
}

// MaterializeLimit returns Limit or DefaultLimit.
func (c ModelConfiguration) MaterializeLimit() int {
	if c.Limit > 0 {
		return c.Limit
	}
	return DefaultLimit
}

// Validate checks the configuration beyond struct tags.
func (c ModelConfiguration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(ErrInvalidOverride, err.Error())
	}
	for _, r := range c.Retrievals {
		if !r.Kind.Valid() {
			return eris.Wrapf(ErrInvalidOverride, "retrieval %s: unknown kind %q", r.Name, r.Kind)
		}
	}
	if !c.Ranking.Strategy.Valid() {
		return eris.Wrapf(ErrInvalidOverride, "unknown ranking strategy %q", c.Ranking.Strategy)
	}
	if c.Ranking.Strategy.Remote() && c.Ranking.EndpointName == "" {
		return eris.Wrapf(ErrInvalidOverride, "ranking strategy %s needs an endpoint", c.Ranking.Strategy)
	}
	if !c.Diversification.Valid() {
		return eris.Wrapf(ErrInvalidOverride, "unknown diversification %q", c.Diversification)
	}
	if !c.QueryOrder.Valid() {
		return eris.Wrapf(ErrInvalidOverride, "unknown query order %q", c.QueryOrder)
	}
	return nil
}

// EndpointNames lists the remote endpoints a configuration calls.
func (c ModelConfiguration) EndpointNames() []string {
	names := make([]string, 0, len(c.Retrievals)+1)
	for _, r := range c.Retrievals {
		names = append(names, r.EndpointName)
	}
	if c.Ranking.Strategy.Remote() {
		names = append(names, c.Ranking.EndpointName)
	}
	return names
}
