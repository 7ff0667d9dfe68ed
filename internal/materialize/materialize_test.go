package materialize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/cache"
	"github.com/offerreco/reco-api/internal/db"
	"github.com/offerreco/reco-api/internal/geo"
	"github.com/offerreco/reco-api/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func ptr[T any](v T) *T { return &v }

func parisUser() model.UserContext {
	u := model.NewUserContext("111")
	u.Latitude, u.Longitude, u.RegionID = ptr(48.832), ptr(2.333), ptr("751145620")
	return u
}

func singleVenue(id string, rank int, lat, lon float64, maxDist float64) model.RecommendableItem {
	return model.RecommendableItem{
		ItemID:                id,
		ItemRank:              rank,
		ExampleOfferID:        "offer-" + id,
		ExampleVenueLatitude:  ptr(lat),
		ExampleVenueLongitude: ptr(lon),
		DefaultMaxDistance:    maxDist,
		TotalOffers:           1,
		IsGeolocated:          true,
	}
}

func multiVenue(id string, rank int) model.RecommendableItem {
	return model.RecommendableItem{ItemID: id, ItemRank: rank, TotalOffers: 12, IsGeolocated: true, DefaultMaxDistance: 50_000}
}

var nearestColumns = []string{
	"item_id", "offer_id", "venue_id", "venue_latitude", "venue_longitude",
	"user_distance", "booking_number", "stock_price", "offer_creation_date", "stock_beginning_date",
}

func expectView(m pgxmock.PgxPoolIface, table, present string) {
	m.ExpectQuery(`SELECT relname FROM pg_class`).
		WithArgs(db.Variants(table)).
		WillReturnRows(pgxmock.NewRows([]string{"relname"}).AddRow(present))
}

func newMaterializer(t *testing.T, store cache.Store) (*Materializer, pgxmock.PgxPoolIface) {
	t.Helper()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return New(m, db.NewViewResolver(m, 0), store, time.Hour), m
}

func TestMaterialize_SingleVenueWithinDistance(t *testing.T) {
	mat, m := newMaterializer(t, nil)

	res := mat.Materialize(context.Background(), Request{
		User: parisUser(),
		Items: []model.RecommendableItem{
			singleVenue("near", 1, 48.84, 2.34, 10_000),
			singleVenue("far", 0, 43.29, 5.36, 10_000),
			{ItemID: "digital", ItemRank: 2, ExampleOfferID: "offer-digital", TotalOffers: 1},
		},
		QueryOrder: model.QueryOrderItemRank,
	})

	ids := offerIDs(res.Offers)
	assert.Equal(t, []string{"offer-near", "offer-digital"}, ids)
	require.NotNil(t, res.Offers[0].UserDistance)
	assert.LessOrEqual(t, *res.Offers[0].UserDistance, res.Offers[0].DefaultMaxDistance)
	assert.Nil(t, res.Offers[1].UserDistance)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestMaterialize_MultiVenueNearest(t *testing.T) {
	mat, m := newMaterializer(t, nil)
	point, err := geo.EncodePoint(48.832, 2.333)
	require.NoError(t, err)

	expectView(m, db.TableRecommendableOffersRaw, "recommendable_offers_raw_mv")
	m.ExpectQuery(`ROW_NUMBER\(\) OVER`).
		WithArgs(point, []string{"book", "movie"}, []float64{50_000, 50_000}).
		WillReturnRows(pgxmock.NewRows(nearestColumns).
			AddRow("movie", "o-movie", ptr("v1"), ptr(48.83), ptr(2.33), ptr(800.0), ptr(4), ptr(7.5), nil, nil).
			AddRow("book", "o-book", ptr("v2"), ptr(48.85), ptr(2.35), ptr(2500.0), ptr(40), ptr(12.0), nil, nil))

	res := mat.Materialize(context.Background(), Request{
		User:       parisUser(),
		Items:      []model.RecommendableItem{multiVenue("book", 0), multiVenue("movie", 1)},
		QueryOrder: model.QueryOrderUserDistance,
	})

	assert.Equal(t, []string{"o-movie", "o-book"}, offerIDs(res.Offers))
	assert.Equal(t, "v1", res.Offers[0].VenueID)
	assert.Equal(t, 4, res.Offers[0].BookingNumber)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestMaterialize_DBErrorYieldsEmpty(t *testing.T) {
	mat, m := newMaterializer(t, nil)

	expectView(m, db.TableRecommendableOffersRaw, "recommendable_offers_raw_mv")
	m.ExpectQuery(`ROW_NUMBER`).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("function st_distance does not exist"))

	res := mat.Materialize(context.Background(), Request{
		User:  parisUser(),
		Items: []model.RecommendableItem{singleVenue("near", 0, 48.84, 2.34, 10_000), multiVenue("book", 1)},
	})

	assert.NotNil(t, res.Offers)
	assert.Empty(t, res.Offers)
}

func TestMaterialize_LimitAndCache(t *testing.T) {
	store := cache.NewMemoryStore(10, time.Hour)
	mat, m := newMaterializer(t, store)
	req := Request{
		User:     parisUser(),
		RegionID: "751145620",
		Items: []model.RecommendableItem{
			singleVenue("a", 2, 48.833, 2.334, 10_000),
			singleVenue("b", 0, 48.834, 2.335, 10_000),
			singleVenue("c", 1, 48.835, 2.336, 10_000),
		},
		QueryOrder: model.QueryOrderItemRank,
		Limit:      2,
	}

	first := mat.Materialize(context.Background(), req)
	assert.False(t, first.CacheHit)
	assert.Equal(t, []string{"offer-b", "offer-c"}, offerIDs(first.Offers))

	// Same candidate set in another order hits the cache.
	req.Items = []model.RecommendableItem{req.Items[2], req.Items[0], req.Items[1]}
	second := mat.Materialize(context.Background(), req)
	assert.True(t, second.CacheHit)
	assert.Equal(t, offerIDs(first.Offers), offerIDs(second.Offers))
	assert.NoError(t, m.ExpectationsWereMet())
}

type failingStore struct{}

func (failingStore) Name() string { return "failing" }
func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis down")
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis down")
}

func TestMaterialize_CacheFailureIsAMiss(t *testing.T) {
	mat, _ := newMaterializer(t, failingStore{})

	res := mat.Materialize(context.Background(), Request{
		User:  parisUser(),
		Items: []model.RecommendableItem{singleVenue("a", 0, 48.833, 2.334, 10_000)},
	})

	assert.False(t, res.CacheHit)
	assert.Equal(t, []string{"offer-a"}, offerIDs(res.Offers))
}

func TestMaterialize_AnchorMeanReplacesUser(t *testing.T) {
	mat, _ := newMaterializer(t, nil)
	anchors := []model.Offer{
		{OfferID: "x", Latitude: ptr(43.0), Longitude: ptr(5.0)},
		{OfferID: "y", Latitude: ptr(43.6), Longitude: ptr(5.6)},
		{OfferID: "z"},
	}

	res := mat.Materialize(context.Background(), Request{
		User:    parisUser(),
		Anchors: anchors,
		Items:   []model.RecommendableItem{singleVenue("marseille", 0, 43.3, 5.3, 20_000), singleVenue("paris", 1, 48.84, 2.34, 20_000)},
	})

	assert.Equal(t, []string{"offer-marseille"}, offerIDs(res.Offers))
}

func TestReference(t *testing.T) {
	ref, ok := Reference(parisUser(), nil)
	require.True(t, ok)
	assert.InDelta(t, 48.832, ref.Latitude, 1e-9)

	_, ok = Reference(parisUser(), []model.Offer{{OfferID: "no-coords"}})
	assert.False(t, ok)

	_, ok = Reference(model.NewUserContext("1"), nil)
	assert.False(t, ok)
}

func TestSort(t *testing.T) {
	offers := []model.RecommendableOffer{
		{RecommendableItem: model.RecommendableItem{ItemRank: 2}, OfferID: "a", BookingNumber: 5, UserDistance: ptr(10.0)},
		{RecommendableItem: model.RecommendableItem{ItemRank: 0}, OfferID: "b", BookingNumber: 5, UserDistance: nil},
		{RecommendableItem: model.RecommendableItem{ItemRank: 1}, OfferID: "c", BookingNumber: 9, UserDistance: ptr(10.0)},
	}

	Sort(offers, model.QueryOrderBookingNumber)
	assert.Equal(t, []string{"c", "b", "a"}, offerIDs(offers))

	Sort(offers, model.QueryOrderUserDistance)
	assert.Equal(t, []string{"c", "a", "b"}, offerIDs(offers))

	Sort(offers, model.QueryOrderItemRank)
	assert.Equal(t, []string{"b", "c", "a"}, offerIDs(offers))
}

func offerIDs(offers []model.RecommendableOffer) []string {
	out := make([]string, len(offers))
	for i, o := range offers {
		out[i] = o.OfferID
	}
	return out
}
