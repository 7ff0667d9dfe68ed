// Package retrieval queries remote retrieval models for candidate items.
package retrieval

import (
	"math"

	"github.com/offerreco/reco-api/internal/model"
)

// Filter operators understood by the retrieval models.
const (
	OpEq  = "$eq"
	OpIn  = "$in"
	OpGte = "$gte"
	OpLte = "$lte"
)

// Filter is the params object of a retrieval instance, keyed by column.
type Filter map[string]map[string]any

func (f Filter) set(column, op string, value any) {
	if f[column] == nil {
		f[column] = make(map[string]any)
	}
	f[column][op] = value
}

func (f Filter) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	f.set(column, OpIn, append([]string(nil), values...))
}

// AsMap converts the filter to a plain map for JSON encoding and auditing.
func (f Filter) AsMap() map[string]any {
	out := make(map[string]any, len(f))
	for col, ops := range f {
		inner := make(map[string]any, len(ops))
		for op, v := range ops {
			inner[op] = v
		}
		out[col] = inner
	}
	return out
}

// BuildFilter assembles the eligibility and request filters for user.
func BuildFilter(user model.UserContext, params model.PlaylistParams) Filter {
	f := make(Filter)

	if !user.IsGeolocated() {
		f.set("is_geolocated", OpEq, 0)
	}
	if user.IsUnderage() {
		f.set("is_underage_recommendable", OpEq, 1)
	}

	dateColumn := "offer_creation_date"
	if params.Event() {
		dateColumn = "stock_beginning_date"
	}
	if params.StartDate != nil {
		f.set(dateColumn, OpGte, params.StartDate.Unix())
	}
	if params.EndDate != nil {
		f.set(dateColumn, OpLte, params.EndDate.Unix())
	}

	priceMin := 0.0
	if params.PriceMin != nil {
		priceMin = *params.PriceMin
	}
	priceMax := user.RemainingCredit
	if params.PriceMax != nil {
		priceMax = math.Min(*params.PriceMax, user.RemainingCredit)
	}
	f.set("stock_price", OpGte, priceMin)
	f.set("stock_price", OpLte, priceMax)

	f.in("search_group_name", params.Categories)
	f.in("subcategory_id", params.Subcategories)
	f.in("gtl_id", params.GtlIDs)
	f.in("gtl_l1", params.GtlL1)
	f.in("gtl_l2", params.GtlL2)
	f.in("gtl_l3", params.GtlL3)
	f.in("gtl_l4", params.GtlL4)

	domains, labels := params.OfferTypeColumns()
	f.in("offer_type_domain", domains)
	f.in("offer_type_label", labels)

	if params.IsDuo != nil {
		v := 0
		if *params.IsDuo {
			v = 1
		}
		f.set("is_duo", OpEq, v)
	}
	return f
}
