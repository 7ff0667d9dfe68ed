package configuration

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offerreco/reco-api/internal/diversify"
	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/ranking"
)

func user(found bool, bookings, clicks, favorites int) model.UserContext {
	u := model.NewUserContext("u")
	u.Found = found
	u.BookingsCount, u.ClicksCount, u.FavoritesCount = bookings, clicks, favorites
	return u
}

func defaultFork(t *testing.T) ModelFork {
	t.Helper()
	f, err := NewRegistry().Get(DefaultRecommendationFork)
	require.NoError(t, err)
	return f
}

func TestForUser(t *testing.T) {
	f := defaultFork(t)

	tests := []struct {
		name       string
		user       model.UserContext
		wantOrigin string
		wantConfig string
	}{
		{"not found", user(false, 10, 100, 10), OriginUnknown, "default_cold"},
		{"cold start user", user(true, 1, 2, 2), OriginColdStart, "default_cold"},
		{"enough bookings", user(true, 2, 0, 0), OriginAlgo, "default_warm"},
		{"enough clicks", user(true, 0, 25, 0), OriginAlgo, "default_warm"},
		{"favorites ignored without threshold", user(true, 0, 0, 50), OriginColdStart, "default_cold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.ForUser(tt.user)
			assert.Equal(t, tt.wantOrigin, d.Origin)
			assert.Equal(t, tt.wantConfig, d.Config.Name)
			assert.Equal(t, DefaultRecommendationFork, d.Fork)
		})
	}
}

func TestForUser_FavoritesThreshold(t *testing.T) {
	f := defaultFork(t)
	f.Thresholds.Favorites = intPtr(1)

	d := f.ForUser(user(true, 0, 0, 1))
	assert.Equal(t, OriginAlgo, d.Origin)
}

func TestForOffers(t *testing.T) {
	f, err := NewRegistry().Get(DefaultSimilarOfferFork)
	require.NoError(t, err)

	d := f.ForOffers([]model.Offer{{OfferID: "a", Found: true}})
	assert.Equal(t, OriginAlgo, d.Origin)
	assert.Equal(t, "similar_offer_warm", d.Config.Name)

	d = f.ForOffers([]model.Offer{{OfferID: "a"}})
	assert.Equal(t, OriginUnknown, d.Origin)
	assert.Equal(t, "similar_offer_cold", d.Config.Name)

	f.Thresholds.Bookings = intPtr(10)
	d = f.ForOffers([]model.Offer{
		{OfferID: "a", Found: true, BookingNumber: 6},
		{OfferID: "b", Found: true, BookingNumber: 4},
		{OfferID: "c"},
	})
	assert.Equal(t, OriginAlgo, d.Origin)
}

func TestDecisionIsolated(t *testing.T) {
	r := NewRegistry()
	f, err := r.Get(DefaultRecommendationFork)
	require.NoError(t, err)

	d := f.ForUser(user(true, 5, 0, 0))
	d.Config.Submixing = map[string]string{"CINEMA": "gtl_l3"}
	d.Config.Retrievals[0].Fallbacks = append(d.Config.Retrievals[0].Fallbacks, "mutated")

	again, err := r.Get(DefaultRecommendationFork)
	require.NoError(t, err)
	assert.Nil(t, again.Warm.Submixing)
	assert.NotContains(t, again.Warm.Retrievals[0].Fallbacks, "mutated")
}

func TestBuiltinsValid(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{
		"default", "cold_start", "random", "tops", "semantic", "version_b", "similar_offer", "similar_offer_semantic",
	}, r.Names())
	for _, f := range Builtins() {
		assert.NoError(t, f.Validate(), f.Name)
	}
}

func TestColdStartForkNeverWarm(t *testing.T) {
	f, err := NewRegistry().Get("cold_start")
	require.NoError(t, err)
	assert.Equal(t, OriginColdStart, f.ForUser(user(true, 100, 100, 100)).Origin)
}

func TestGet_Unknown(t *testing.T) {
	_, err := NewRegistry().Get("nope")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownConfiguration))
}

func TestResolve(t *testing.T) {
	r := NewRegistry()

	f, err := r.Resolve(nil, DefaultRecommendationFork, ForkUser)
	require.NoError(t, err)
	assert.Equal(t, "default", f.Name)

	name := "tops"
	f, err = r.Resolve(&name, DefaultRecommendationFork, ForkUser)
	require.NoError(t, err)
	assert.Equal(t, "tops", f.Name)

	encoded, err := Encode(f)
	require.NoError(t, err)
	f2, err := r.Resolve(&encoded, DefaultRecommendationFork, ForkUser)
	require.NoError(t, err)
	assert.Equal(t, f, f2)
}

func TestDecode_SingleConfiguration(t *testing.T) {
	payload := `{
		"name": "custom",
		"retrievals": [{"name": "tops", "kind": "filter", "endpoint_name": "recommendation_user_retrieval", "model_type": "tops", "size": 10}],
		"ranking": {"strategy": "distance"},
		"diversification": "gtl_id",
		"query_order": "user_distance"
	}`
	f, err := Decode(base64.StdEncoding.EncodeToString([]byte(payload)), ForkOffer)

	require.NoError(t, err)
	assert.Equal(t, "custom", f.Name)
	assert.Equal(t, ForkOffer, f.Kind)
	assert.Equal(t, ranking.StrategyDistance, f.Warm.Ranking.Strategy)
	assert.Equal(t, diversify.ModeGtlID, f.Cold.Diversification)
	assert.Equal(t, 10, f.Warm.Retrievals[0].Size)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"not base64", "%%%"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("{"))},
		{"unknown field", base64.StdEncoding.EncodeToString([]byte(`{"name":"x","colour":"red"}`))},
		{"no retrievals", base64.StdEncoding.EncodeToString([]byte(`{"name":"x","ranking":{"strategy":"off"},"diversification":"on","query_order":"item_rank"}`))},
		{"bad strategy", base64.StdEncoding.EncodeToString([]byte(`{"name":"x","retrievals":[{"name":"t","kind":"filter","endpoint_name":"e","model_type":"tops"}],"ranking":{"strategy":"magic"},"diversification":"on","query_order":"item_rank"}`))},
		{"model without endpoint", base64.StdEncoding.EncodeToString([]byte(`{"name":"x","retrievals":[{"name":"t","kind":"filter","endpoint_name":"e","model_type":"tops"}],"ranking":{"strategy":"model"},"diversification":"on","query_order":"item_rank"}`))},
		{"bad query order", base64.StdEncoding.EncodeToString([]byte(`{"name":"x","retrievals":[{"name":"t","kind":"filter","endpoint_name":"e","model_type":"tops"}],"ranking":{"strategy":"off"},"diversification":"on","query_order":"price"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.encoded, ForkUser)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidOverride), err.Error())
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	content := `
forks:
  - name: tops
    kind: user
    thresholds:
      bookings: 1
    warm:
      name: tops_warm
      retrievals:
        - name: tops
          kind: filter
          endpoint_name: recommendation_user_retrieval
          model_type: tops
          size: 20
      ranking:
        strategy: item_rank
      diversification: gtl_l4
      query_order: booking_number
    cold:
      name: tops_cold
      retrievals:
        - name: tops
          kind: filter
          endpoint_name: recommendation_user_retrieval
          model_type: tops
      ranking:
        strategy: "off"
      diversification: "off"
      query_order: item_rank
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r := NewRegistry()
	require.NoError(t, r.LoadFile(path))

	f, err := r.Get("tops")
	require.NoError(t, err)
	assert.Equal(t, "tops_warm", f.Warm.Name)
	assert.Equal(t, 20, f.Warm.Retrievals[0].Size)
	assert.Equal(t, diversify.ModeOff, f.Cold.Diversification)
	assert.Len(t, r.Names(), 8)
}

func TestLoadFile_Errors(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("forks:\n  - name: broken\n    kind: user\n"), 0o600))
	err := r.LoadFile(path)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidOverride))
}

func TestEndpointNames(t *testing.T) {
	f := defaultFork(t)
	assert.Equal(t, []string{EndpointUserRetrieval, EndpointUserRetrieval, EndpointUserRanking}, f.Warm.EndpointNames())
}
