// Package diversify spreads a ranked list across feature groups with a
// round-robin over groups ordered once by their best offer.
package diversify

import (
	"math/rand/v2"
	"sort"

	"github.com/offerreco/reco-api/internal/model"
)

// Mode selects the grouping feature of a configuration.
type Mode string

const (
	ModeOn    Mode = "on"
	ModeOff   Mode = "off"
	ModeGtlID Mode = "gtl_id"
	ModeGtlL3 Mode = "gtl_l3"
	ModeGtlL4 Mode = "gtl_l4"
)

// DefaultFeature is the grouping feature of ModeOn.
const DefaultFeature = "search_group_name"

// Valid reports whether m is known.
func (m Mode) Valid() bool {
	switch m {
	case ModeOn, ModeOff, ModeGtlID, ModeGtlL3, ModeGtlL4:
		return true
	}
	return false
}

// Feature returns the grouping feature for m, or "" when mixing is off.
func (m Mode) Feature() string {
	switch m {
	case ModeOff:
		return ""
	case ModeGtlID, ModeGtlL3, ModeGtlL4:
		return string(m)
	default:
		return DefaultFeature
	}
}

// Order columns.
const (
	ColumnOfferRank  = "offer_rank"
	ColumnOfferScore = "offer_score"
	ColumnItemRank   = "item_rank"
)

// Options controls one mixing pass.
type Options struct {
	// Feature groups offers. Empty disables mixing.
	Feature string
	// Column is the order column, ColumnOfferRank by default.
	Column string
	// Ascending is true when lower column values are better.
	Ascending bool
	// Submixing maps a group value to the feature mixed inside that group.
	Submixing map[string]string
	// Count caps the output. Zero means no cap.
	Count int
	// Shuffle replaces the order column with a seeded random value.
	Shuffle bool
	Seed    uint64
}

// DefaultOptions orders by offer_rank ascending on the default feature.
func DefaultOptions(count int) Options {
	return Options{Feature: DefaultFeature, Column: ColumnOfferRank, Ascending: true, Count: count}
}

type entry struct {
	offer model.RankedOffer
	value float64
}

// Mix returns the diversified list with offer_rank renumbered from 0.
// The input is not modified.
func Mix(offers []model.RankedOffer, opts Options) []model.RankedOffer {
	entries := dedupe(offers, opts)

	if opts.Shuffle {
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
		for i := range entries {
			entries[i].value = rng.Float64()
		}
	}

	var mixed []entry
	if opts.Feature == "" {
		mixed = entries
		if opts.Shuffle {
			sortEntries(mixed, opts.Ascending)
		}
	} else {
		mixed = mix(entries, opts.Feature, opts.Ascending, opts.Submixing, opts.Count)
	}

	if opts.Count > 0 && len(mixed) > opts.Count {
		mixed = mixed[:opts.Count]
	}
	out := make([]model.RankedOffer, len(mixed))
	for i, e := range mixed {
		out[i] = e.offer
		out[i].OfferRank = i
	}
	return out
}

func dedupe(offers []model.RankedOffer, opts Options) []entry {
	seen := make(map[string]bool, len(offers))
	out := make([]entry, 0, len(offers))
	for _, o := range offers {
		key := o.ItemID
		if key == "" {
			key = "offer:" + o.OfferID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, entry{offer: o, value: columnValue(o, opts.Column, opts.Ascending)})
	}
	return out
}

// columnValue reads the order column. Missing scores sort last.
func columnValue(o model.RankedOffer, column string, ascending bool) float64 {
	switch column {
	case ColumnOfferScore:
		if o.OfferScore != nil {
			return *o.OfferScore
		}
		if ascending {
			return float64(1 << 53)
		}
		return -float64(1 << 53)
	case ColumnItemRank:
		return float64(o.ItemRank)
	default:
		return float64(o.OfferRank)
	}
}

type group struct {
	key   string
	first int
	queue []entry
	// top and size are taken from the full sorted queue.
	top  float64
	size int
}

func mix(entries []entry, feature string, ascending bool, submixing map[string]string, count int) []entry {
	var groups []*group
	byKey := make(map[string]*group)
	for _, e := range entries {
		k := e.offer.Feature(feature)
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k, first: len(groups)}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.queue = append(g.queue, e)
	}

	for _, g := range groups {
		sortEntries(g.queue, ascending)
		g.top, g.size = g.queue[0].value, len(g.queue)
		if sub, ok := submixing[g.key]; ok && sub != "" && sub != feature {
			g.queue = mix(g.queue, sub, ascending, nil, 0)
		}
	}

	// The group order is fixed before the first pop.
	sort.SliceStable(groups, func(i, j int) bool {
		return groupBefore(groups[i], groups[j], ascending)
	})

	out := make([]entry, 0, len(entries))
	for len(out) < len(entries) {
		for _, g := range groups {
			if len(g.queue) == 0 {
				continue
			}
			out = append(out, g.queue[0])
			g.queue = g.queue[1:]
		}
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out
}

// groupBefore orders groups by (top value, size), following the column
// direction, then by first appearance.
func groupBefore(a, b *group, ascending bool) bool {
	if a.top != b.top {
		if ascending {
			return a.top < b.top
		}
		return a.top > b.top
	}
	if a.size != b.size {
		if ascending {
			return a.size < b.size
		}
		return a.size > b.size
	}
	return a.first < b.first
}

func sortEntries(entries []entry, ascending bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		if ascending {
			return entries[i].value < entries[j].value
		}
		return entries[i].value > entries[j].value
	})
}
