package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/offerreco/reco-api/internal/model"
)

// parseLocation reads the optional latitude and longitude. Both or neither
// must be set.
func parseLocation(q url.Values) (lat, lon *float64, err error) {
	rawLat, rawLon := q.Get("latitude"), q.Get("longitude")
	if rawLat == "" && rawLon == "" {
		return nil, nil, nil
	}
	if rawLat == "" || rawLon == "" {
		return nil, nil, eris.New("latitude and longitude must be set together")
	}
	la, err := strconv.ParseFloat(rawLat, 64)
	if err != nil || la < -90 || la > 90 {
		return nil, nil, eris.Errorf("invalid latitude %q", rawLat)
	}
	lo, err := strconv.ParseFloat(rawLon, 64)
	if err != nil || lo < -180 || lo > 180 {
		return nil, nil, eris.Errorf("invalid longitude %q", rawLon)
	}
	return &la, &lo, nil
}

// parseQueryParams reads playlist params from a query string. List values
// may repeat the key or be comma-separated.
func parseQueryParams(q url.Values) (model.PlaylistParams, error) {
	var (
		p   model.PlaylistParams
		err error
	)

	if me := q.Get("modelEndpoint"); me != "" {
		p.ModelEndpoint = &me
	}
	if p.StartDate, err = queryTime(q, "startDate"); err != nil {
		return p, err
	}
	if p.EndDate, err = queryTime(q, "endDate"); err != nil {
		return p, err
	}
	if p.PriceMin, err = queryFloat(q, "priceMin"); err != nil {
		return p, err
	}
	if p.PriceMax, err = queryFloat(q, "priceMax"); err != nil {
		return p, err
	}
	if p.IsEvent, err = queryBool(q, "isEvent"); err != nil {
		return p, err
	}
	if p.IsDuo, err = queryBool(q, "isDuo"); err != nil {
		return p, err
	}
	if p.IsRestrainedSearch, err = queryBool(q, "isRestrainedSearch"); err != nil {
		return p, err
	}
	if p.IsRecoShuffled, err = queryBool(q, "isRecoShuffled"); err != nil {
		return p, err
	}

	p.Categories = queryList(q, "categories")
	p.Subcategories = queryList(q, "subcategories")
	p.GtlIDs = queryList(q, "gtlIds")
	p.GtlL1 = queryList(q, "gtlL1")
	p.GtlL2 = queryList(q, "gtlL2")
	p.GtlL3 = queryList(q, "gtlL3")
	p.GtlL4 = queryList(q, "gtlL4")
	p.Offers = queryList(q, "offers")
	return p, nil
}

func queryList(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func queryFloat(q url.Values, key string) (*float64, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, eris.Errorf("invalid %s %q", key, raw)
	}
	return &f, nil
}

func queryBool(q url.Values, key string) (*bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, eris.Errorf("invalid %s %q", key, raw)
	}
	return &b, nil
}

func queryTime(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, eris.Errorf("invalid %s %q", key, raw)
}
