package model

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// ErrInvalidParams is returned when playlist parameters are malformed.
var ErrInvalidParams = eris.New("model: invalid playlist params")

var validate = validator.New(validator.WithRequiredStructEnabled())

// OfferTypeFilter is a single offer-type key/value pair, e.g. {"key": "BOOK", "value": "Manga"}.
type OfferTypeFilter struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// PlaylistParams is the request filter bundle.
type PlaylistParams struct {
	ModelEndpoint        *string           `json:"modelEndpoint,omitempty"`
	StartDate            *time.Time        `json:"startDate,omitempty"`
	EndDate              *time.Time        `json:"endDate,omitempty"`
	IsEvent              *bool             `json:"isEvent,omitempty"`
	IsDuo                *bool             `json:"isDuo,omitempty"`
	PriceMin             *float64          `json:"priceMin,omitempty" validate:"omitempty,gte=0"`
	PriceMax             *float64          `json:"priceMax,omitempty" validate:"omitempty,gte=0"`
	Categories           []string          `json:"categories,omitempty" validate:"dive,required"`
	Subcategories        []string          `json:"subcategories,omitempty" validate:"dive,required"`
	GtlIDs               []string          `json:"gtlIds,omitempty" validate:"dive,required"`
	GtlL1                []string          `json:"gtlL1,omitempty" validate:"dive,required"`
	GtlL2                []string          `json:"gtlL2,omitempty" validate:"dive,required"`
	GtlL3                []string          `json:"gtlL3,omitempty" validate:"dive,required"`
	GtlL4                []string          `json:"gtlL4,omitempty" validate:"dive,required"`
	OfferTypeList        []OfferTypeFilter `json:"offerTypeList,omitempty" validate:"dive"`
	IsRestrainedSearch   *bool             `json:"isRestrainedSearch,omitempty"`
	IsRecoShuffled       *bool             `json:"isRecoShuffled,omitempty"`
	Offers               []string          `json:"offers,omitempty" validate:"dive,required"`
	SubmixingFeatureDict map[string]string `json:"submixingFeatureDict,omitempty" validate:"dive,keys,required,endkeys,required"`
}

// Validate checks the parameters for well-formedness. The returned error
// wraps ErrInvalidParams.
func (p PlaylistParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return eris.Wrap(ErrInvalidParams, err.Error())
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return eris.Wrap(ErrInvalidParams, "endDate is before startDate")
	}
	if p.PriceMin != nil && p.PriceMax != nil && *p.PriceMax < *p.PriceMin {
		return eris.Wrap(ErrInvalidParams, "priceMax is below priceMin")
	}
	return nil
}

// Event reports whether the request targets events.
func (p PlaylistParams) Event() bool {
	return p.IsEvent != nil && *p.IsEvent
}

// Shuffled reports whether the caller asked for a shuffled playlist.
func (p PlaylistParams) Shuffled() bool {
	return p.IsRecoShuffled != nil && *p.IsRecoShuffled
}

// Restrained reports whether the search is restrained to the explicit filters.
func (p PlaylistParams) Restrained() bool {
	return p.IsRestrainedSearch != nil && *p.IsRestrainedSearch
}

// OfferTypeColumns splits the offer-type list into domain and label values.
// A key of "MOVIE" yields domain "MOVIE" and label from the value.
func (p PlaylistParams) OfferTypeColumns() (domains, labels []string) {
	for _, ot := range p.OfferTypeList {
		domains = append(domains, strings.ToUpper(ot.Key))
		labels = append(labels, ot.Value)
	}
	return domains, labels
}

// Clone returns a deep copy so per-request mutation cannot leak.
func (p PlaylistParams) Clone() PlaylistParams {
	out := p
	out.Categories = cloneStrings(p.Categories)
	out.Subcategories = cloneStrings(p.Subcategories)
	out.GtlIDs = cloneStrings(p.GtlIDs)
	out.GtlL1 = cloneStrings(p.GtlL1)
	out.GtlL2 = cloneStrings(p.GtlL2)
	out.GtlL3 = cloneStrings(p.GtlL3)
	out.GtlL4 = cloneStrings(p.GtlL4)
	out.Offers = cloneStrings(p.Offers)
	if p.OfferTypeList != nil {
		out.OfferTypeList = append([]OfferTypeFilter(nil), p.OfferTypeList...)
	}
	if p.SubmixingFeatureDict != nil {
		out.SubmixingFeatureDict = make(map[string]string, len(p.SubmixingFeatureDict))
		for k, v := range p.SubmixingFeatureDict {
			out.SubmixingFeatureDict[k] = v
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
