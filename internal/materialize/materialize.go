// Package materialize turns retrieved items into the nearest acceptable
// concrete offers for a request.
package materialize

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/cache"
	"github.com/offerreco/reco-api/internal/db"
	"github.com/offerreco/reco-api/internal/geo"
	"github.com/offerreco/reco-api/internal/metrics"
	"github.com/offerreco/reco-api/internal/model"
)

// DefaultMaxDistance applies to items that carry no maximum distance, in meters.
const DefaultMaxDistance = 100_000.0

// Request is one materialization call.
type Request struct {
	User model.UserContext
	// Anchors replace the user location by their mean coordinate when set.
	Anchors []model.Offer
	// RegionID keys the content cache.
	RegionID   string
	Items      []model.RecommendableItem
	QueryOrder model.QueryOrder
	Limit      int
}

// Result is the materialized list.
type Result struct {
	Offers   []model.RecommendableOffer
	CacheHit bool
}

// Materializer reads the physical offer table and caches the result.
type Materializer struct {
	pool  db.Pool
	views *db.ViewResolver
	cache cache.Store
	ttl   time.Duration
}

// New creates a Materializer. A nil store disables caching.
func New(pool db.Pool, views *db.ViewResolver, store cache.Store, ttl time.Duration) *Materializer {
	return &Materializer{pool: pool, views: views, cache: store, ttl: ttl}
}

// Reference returns the point distances are measured from.
func Reference(user model.UserContext, anchors []model.Offer) (geo.Coordinate, bool) {
	if len(anchors) > 0 {
		var pts []geo.Coordinate
		for _, a := range anchors {
			if lat, lon, ok := a.Location(); ok {
				pts = append(pts, geo.Coordinate{Latitude: lat, Longitude: lon})
			}
		}
		return geo.MeanCoordinate(pts)
	}
	lat, lon, ok := user.Location()
	return geo.Coordinate{Latitude: lat, Longitude: lon}, ok
}

// Materialize returns at most req.Limit offers, one per item. Database
// errors are logged and yield an empty list.
func (m *Materializer) Materialize(ctx context.Context, req Request) Result {
	if len(req.Items) == 0 {
		return Result{Offers: []model.RecommendableOffer{}}
	}

	key := cacheKey(req)
	if offers, ok := m.lookup(ctx, key); ok {
		return Result{Offers: offers, CacheHit: true}
	}

	ref, hasRef := Reference(req.User, req.Anchors)

	var (
		offers []model.RecommendableOffer
		multi  []model.RecommendableItem
	)
	for _, it := range req.Items {
		if it.DefaultMaxDistance <= 0 {
			it.DefaultMaxDistance = DefaultMaxDistance
		}
		if it.IsSingleVenue() || !hasRef {
			if o, ok := fromExemplar(it, ref, hasRef); ok {
				offers = append(offers, o)
			}
			continue
		}
		multi = append(multi, it)
	}

	if len(multi) > 0 {
		nearest, err := m.nearest(ctx, ref, multi)
		if err != nil {
			zap.L().Error("materialize: query nearest offers",
				zap.Int("items", len(multi)),
				zap.Error(err),
			)
			return Result{Offers: []model.RecommendableOffer{}}
		}
		offers = append(offers, nearest...)
	}

	Sort(offers, req.QueryOrder)
	if req.Limit > 0 && len(offers) > req.Limit {
		offers = offers[:req.Limit]
	}
	if offers == nil {
		offers = []model.RecommendableOffer{}
	}

	m.store(ctx, key, offers)
	return Result{Offers: offers}
}

// fromExemplar emits the exemplar offer of a single-venue item when it is
// within reach. Items without coordinates pass with an unknown distance.
func fromExemplar(it model.RecommendableItem, ref geo.Coordinate, hasRef bool) (model.RecommendableOffer, bool) {
	o := model.RecommendableOffer{
		RecommendableItem:  it,
		OfferID:            it.ExampleOfferID,
		VenueID:            it.ExampleVenueID,
		VenueLatitude:      it.ExampleVenueLatitude,
		VenueLongitude:     it.ExampleVenueLongitude,
		BookingNumber:      it.BookingNumberLast28Days,
		StockPrice:         it.ExampleStockPrice,
		OfferCreationDate:  it.ExampleOfferCreationDate,
		StockBeginningDate: it.ExampleStockBeginningDate,
	}
	if o.OfferID == "" {
		return o, false
	}
	if !it.IsGeolocated || !hasRef || it.ExampleVenueLatitude == nil || it.ExampleVenueLongitude == nil {
		return o, true
	}
	d := geo.HaversineMeters(ref.Latitude, ref.Longitude, *it.ExampleVenueLatitude, *it.ExampleVenueLongitude)
	if d > it.DefaultMaxDistance {
		return o, false
	}
	o.UserDistance = &d
	return o, true
}

const nearestQuery = `SELECT item_id, offer_id, venue_id, venue_latitude, venue_longitude,
	user_distance, booking_number, stock_price, offer_creation_date, stock_beginning_date
FROM (
	SELECT ro.item_id, ro.offer_id, ro.venue_id, ro.venue_latitude, ro.venue_longitude,
		ST_Distance(ro.venue_geo, ST_GeomFromEWKB($1)::geography) AS user_distance,
		ro.booking_number, ro.stock_price, ro.offer_creation_date, ro.stock_beginning_date,
		ROW_NUMBER() OVER (
			PARTITION BY ro.item_id
			ORDER BY ST_Distance(ro.venue_geo, ST_GeomFromEWKB($1)::geography) ASC
		) AS rank
	FROM %s ro
	JOIN unnest($2::text[], $3::float8[]) AS it(item_id, max_distance) ON it.item_id = ro.item_id
	WHERE ST_DWithin(ro.venue_geo, ST_GeomFromEWKB($1)::geography, it.max_distance)
) q
WHERE q.rank = 1`

type nearestRow struct {
	ItemID             string
	OfferID            string
	VenueID            *string
	VenueLatitude      *float64
	VenueLongitude     *float64
	UserDistance       *float64
	BookingNumber      *int
	StockPrice         *float64
	OfferCreationDate  *time.Time
	StockBeginningDate *time.Time
}

func (m *Materializer) nearest(ctx context.Context, ref geo.Coordinate, items []model.RecommendableItem) ([]model.RecommendableOffer, error) {
	table, err := m.views.Quoted(ctx, db.TableRecommendableOffersRaw)
	if err != nil {
		return nil, err
	}
	point, err := geo.EncodePoint(ref.Latitude, ref.Longitude)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(items))
	maxes := make([]float64, len(items))
	byID := make(map[string]model.RecommendableItem, len(items))
	for i, it := range items {
		ids[i] = it.ItemID
		maxes[i] = it.DefaultMaxDistance
		byID[it.ItemID] = it
	}

	rows, err := m.pool.Query(ctx, fmt.Sprintf(nearestQuery, table), point, ids, maxes)
	if err != nil {
		return nil, eris.Wrap(err, "materialize: query offers")
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (nearestRow, error) {
		var r nearestRow
		err := row.Scan(&r.ItemID, &r.OfferID, &r.VenueID, &r.VenueLatitude, &r.VenueLongitude,
			&r.UserDistance, &r.BookingNumber, &r.StockPrice, &r.OfferCreationDate, &r.StockBeginningDate)
		return r, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "materialize: scan offers")
	}

	out := make([]model.RecommendableOffer, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, r := range found {
		it, ok := byID[r.ItemID]
		if !ok || seen[r.ItemID] {
			continue
		}
		seen[r.ItemID] = true
		o := model.RecommendableOffer{
			RecommendableItem:  it,
			OfferID:            r.OfferID,
			VenueLatitude:      r.VenueLatitude,
			VenueLongitude:     r.VenueLongitude,
			UserDistance:       r.UserDistance,
			StockPrice:         r.StockPrice,
			OfferCreationDate:  r.OfferCreationDate,
			StockBeginningDate: r.StockBeginningDate,
		}
		if r.VenueID != nil {
			o.VenueID = *r.VenueID
		}
		if r.BookingNumber != nil {
			o.BookingNumber = *r.BookingNumber
		}
		out = append(out, o)
	}
	return out, nil
}

// Sort orders offers by the query order with item_rank as the secondary key.
func Sort(offers []model.RecommendableOffer, order model.QueryOrder) {
	sort.SliceStable(offers, func(i, j int) bool {
		a, b := offers[i], offers[j]
		switch order {
		case model.QueryOrderUserDistance:
			if !sameDistance(a.UserDistance, b.UserDistance) {
				return lessDistance(a.UserDistance, b.UserDistance)
			}
		case model.QueryOrderBookingNumber:
			if a.BookingNumber != b.BookingNumber {
				return a.BookingNumber > b.BookingNumber
			}
		}
		return a.ItemRank < b.ItemRank
	})
}

func sameDistance(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

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

func cacheKey(req Request) string {
	ids := make([]string, len(req.Items))
	for i, it := range req.Items {
		ids[i] = it.ItemID
	}
	return cache.MaterializationKey(req.RegionID, ids) + ":" + string(req.QueryOrder) + ":" + strconv.Itoa(req.Limit)
}

func (m *Materializer) lookup(ctx context.Context, key string) ([]model.RecommendableOffer, bool) {
	if m.cache == nil {
		return nil, false
	}
	raw, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("materialize", "get").Inc()
		zap.L().Warn("materialize: cache read failed", zap.String("backend", m.cache.Name()), zap.Error(err))
		return nil, false
	}
	metrics.RecordCache("materialize", ok)
	if !ok {
		return nil, false
	}
	var offers []model.RecommendableOffer
	if err := json.Unmarshal(raw, &offers); err != nil {
		zap.L().Warn("materialize: cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return offers, true
}

func (m *Materializer) store(ctx context.Context, key string, offers []model.RecommendableOffer) {
	if m.cache == nil || len(offers) == 0 {
		return
	}
	raw, err := json.Marshal(offers)
	if err != nil {
		zap.L().Warn("materialize: encode cache entry", zap.Error(err))
		return
	}
	if err := m.cache.Set(ctx, key, raw, m.ttl); err != nil {
		metrics.CacheErrors.WithLabelValues("materialize", "set").Inc()
		zap.L().Warn("materialize: cache write failed", zap.String("backend", m.cache.Name()), zap.Error(err))
	}
}
