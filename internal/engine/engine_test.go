package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/configuration"
	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/scorer"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

// --- Mocks ---

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) User(ctx context.Context, userID string, lat, lon *float64) model.UserContext {
	args := m.Called(ctx, userID, lat, lon)
	return args.Get(0).(model.UserContext)
}

func (m *mockProfiles) Offers(ctx context.Context, offerIDs []string, lat, lon *float64) []model.Offer {
	args := m.Called(ctx, offerIDs, lat, lon)
	return args.Get(0).([]model.Offer)
}

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) Score(ctx context.Context, req scorer.Request) scorer.Result {
	args := m.Called(ctx, req)
	return args.Get(0).(scorer.Result)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) SaveAudit(ctx context.Context, batch model.AuditBatch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func ranked(n int) []model.RankedOffer {
	out := make([]model.RankedOffer, n)
	for i := range out {
		out[i].OfferID = fmt.Sprintf("o%d", i)
		out[i].ItemID = fmt.Sprintf("i%d", i)
		out[i].ItemRank = i
		out[i].OfferRank = i
	}
	return out
}

func warmUser(id string) model.UserContext {
	u := model.NewUserContext(id)
	u.Found = true
	u.BookingsCount = 10
	return u
}

func contextIs(tag string) any {
	return mock.MatchedBy(func(r scorer.Request) bool { return r.Context == tag })
}

func newEngine(p *mockProfiles, s *mockScorer, a *mockAudit, opts ...Option) *Engine {
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithCallIDs(func() string { return "call-1" }),
	}, opts...)
	return New(p, s, a, configuration.NewRegistry(), opts...)
}

func TestRecommend_PlainRecommendation(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	p.On("User", mock.Anything, "111", mock.Anything, mock.Anything).Return(warmUser("111"))
	s.On("Score", mock.Anything, mock.MatchedBy(func(r scorer.Request) bool {
		return r.Context == model.ContextRecommendation && r.Config.Name == "default_warm" &&
			r.CallID == "call-1" && r.Count == scorer.DefaultCount && r.Now.Equal(testNow)
	})).Return(scorer.Result{Offers: ranked(3)})
	a.On("SaveAudit", mock.Anything, mock.MatchedBy(func(b model.AuditBatch) bool {
		return len(b.OfferContexts) == 3 && b.Recommendation != nil && b.Similar == nil &&
			b.Recommendation.RecoOrigin == configuration.OriginAlgo
	})).Return(nil)

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{UserID: "111", Caller: model.ContextRecommendation})
	require.NoError(t, err)

	assert.Equal(t, []string{"o0", "o1", "o2"}, resp.OfferIDs)
	assert.Equal(t, configuration.OriginAlgo, resp.RecoOrigin)
	assert.Equal(t, "default_warm", resp.ModelOrigin)
	assert.Equal(t, "call-1", resp.CallID)
	assert.Equal(t, model.ContextRecommendation, resp.Context)
	p.AssertNotCalled(t, "Offers", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	a.AssertExpectations(t)
}

func TestRecommend_ColdStartUser(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	u := model.NewUserContext("112")
	u.Found = true
	u.BookingsCount, u.ClicksCount, u.FavoritesCount = 1, 2, 2
	p.On("User", mock.Anything, "112", mock.Anything, mock.Anything).Return(u)
	s.On("Score", mock.Anything, mock.Anything).Return(scorer.Result{Offers: ranked(1)})
	a.On("SaveAudit", mock.Anything, mock.Anything).Return(nil)

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{UserID: "112", Caller: model.ContextRecommendation})
	require.NoError(t, err)
	assert.Equal(t, configuration.OriginColdStart, resp.RecoOrigin)
	assert.Equal(t, "default_cold", resp.ModelOrigin)
}

func TestRecommend_UnknownUser(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	p.On("User", mock.Anything, "404", mock.Anything, mock.Anything).Return(model.NewUserContext("404"))
	s.On("Score", mock.Anything, mock.Anything).Return(scorer.Result{Offers: []model.RankedOffer{}})

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{UserID: "404", Caller: model.ContextRecommendation, UseFallback: true})
	require.NoError(t, err)
	assert.Equal(t, configuration.OriginUnknown, resp.RecoOrigin)
	assert.Empty(t, resp.OfferIDs)
	s.AssertNumberOfCalls(t, "Score", 1)
	a.AssertNotCalled(t, "SaveAudit", mock.Anything, mock.Anything)
}

func TestRecommend_SensitiveAnchorUsesRecommendation(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	item := "item-1"
	p.On("User", mock.Anything, "111", mock.Anything, mock.Anything).Return(warmUser("111"))
	p.On("Offers", mock.Anything, []string{"off-1"}, mock.Anything, mock.Anything).
		Return([]model.Offer{{OfferID: "off-1", ItemID: &item, IsSensitive: true, Found: true}})
	s.On("Score", mock.Anything, mock.MatchedBy(func(r scorer.Request) bool {
		return r.Context == model.ContextRecommendation && len(r.Anchors) == 0
	})).Return(scorer.Result{Offers: ranked(2)})
	a.On("SaveAudit", mock.Anything, mock.Anything).Return(nil)

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{UserID: "111", OfferIDs: []string{"off-1"}, Caller: model.ContextSimilarOffer})
	require.NoError(t, err)
	assert.Equal(t, model.ContextRecommendation, resp.Context)
	s.AssertExpectations(t)
}

func TestRecommend_HybridRecommendation(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	item := "item-1"
	p.On("User", mock.Anything, "111", mock.Anything, mock.Anything).Return(warmUser("111"))
	p.On("Offers", mock.Anything, []string{"off-1"}, mock.Anything, mock.Anything).
		Return([]model.Offer{{OfferID: "off-1", ItemID: &item, BookingNumber: 3, Found: true}})
	s.On("Score", mock.Anything, mock.MatchedBy(func(r scorer.Request) bool {
		return r.Context == model.ContextHybridRecommendation && r.Config.Name == "similar_offer_warm"
	})).Return(scorer.Result{Offers: ranked(2)})
	a.On("SaveAudit", mock.Anything, mock.MatchedBy(func(b model.AuditBatch) bool {
		return b.Recommendation != nil && b.Similar == nil
	})).Return(nil)

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{UserID: "111", OfferIDs: []string{"off-1"}, Caller: model.ContextRecommendation})
	require.NoError(t, err)
	assert.Equal(t, model.ContextHybridRecommendation, resp.Context)
	assert.Equal(t, configuration.OriginAlgo, resp.RecoOrigin)
	s.AssertExpectations(t)
	a.AssertExpectations(t)
}

func TestRecommend_SimilarOfferWritesSimilarRow(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	item, region := "item-1", "690010101"
	p.On("User", mock.Anything, AnonymousUserID, mock.Anything, mock.Anything).Return(model.NewUserContext(AnonymousUserID))
	p.On("Offers", mock.Anything, []string{"off-1"}, mock.Anything, mock.Anything).
		Return([]model.Offer{{OfferID: "off-1", ItemID: &item, RegionID: &region, Found: true}})
	s.On("Score", mock.Anything, contextIs(model.ContextSimilarOffer)).Return(scorer.Result{Offers: ranked(2)})
	a.On("SaveAudit", mock.Anything, mock.MatchedBy(func(b model.AuditBatch) bool {
		return b.Similar != nil && b.Recommendation == nil &&
			b.Similar.OriginOfferID == "off-1" && *b.Similar.VenueRegionID == region &&
			b.Similar.UserID == AnonymousUserID
	})).Return(nil)

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{OfferIDs: []string{"off-1"}, Caller: model.ContextSimilarOffer})
	require.NoError(t, err)
	assert.Equal(t, model.ContextSimilarOffer, resp.Context)
	assert.Equal(t, []string{"o0", "o1"}, resp.OfferIDs)
	a.AssertExpectations(t)
}

func TestRecommend_AnchorWithoutItem(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	p.On("User", mock.Anything, AnonymousUserID, mock.Anything, mock.Anything).Return(model.NewUserContext(AnonymousUserID))
	p.On("Offers", mock.Anything, []string{"off-1"}, mock.Anything, mock.Anything).
		Return([]model.Offer{{OfferID: "off-1", Found: true}})

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{OfferIDs: []string{"off-1"}, Caller: model.ContextSimilarOffer})
	require.NoError(t, err)
	assert.Empty(t, resp.OfferIDs)
	s.AssertNotCalled(t, "Score", mock.Anything, mock.Anything)
	a.AssertNotCalled(t, "SaveAudit", mock.Anything, mock.Anything)
}

func TestRecommend_FallbackAfterEmptySimilar(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	item := "item-1"
	p.On("User", mock.Anything, "111", mock.Anything, mock.Anything).Return(warmUser("111"))
	p.On("Offers", mock.Anything, []string{"off-1"}, mock.Anything, mock.Anything).
		Return([]model.Offer{{OfferID: "off-1", ItemID: &item, Found: true}})
	s.On("Score", mock.Anything, contextIs(model.ContextSimilarOffer)).Return(scorer.Result{Offers: []model.RankedOffer{}})
	s.On("Score", mock.Anything, mock.MatchedBy(func(r scorer.Request) bool {
		return r.Context == model.ContextRecommendationFallback && len(r.Anchors) == 0 && r.Config.Name == "default_warm"
	})).Return(scorer.Result{Offers: ranked(2)})
	a.On("SaveAudit", mock.Anything, mock.MatchedBy(func(b model.AuditBatch) bool {
		return b.Similar != nil && b.OfferContexts[0].Context == model.ContextRecommendationFallback
	})).Return(nil)

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{
		UserID: "111", OfferIDs: []string{"off-1"}, Caller: model.ContextSimilarOffer, UseFallback: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ContextRecommendationFallback, resp.Context)
	assert.Equal(t, []string{"o0", "o1"}, resp.OfferIDs)
	s.AssertNumberOfCalls(t, "Score", 2)
	a.AssertExpectations(t)
}

func TestRecommend_NoFallbackWhenDisabled(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	item := "item-1"
	p.On("User", mock.Anything, "111", mock.Anything, mock.Anything).Return(warmUser("111"))
	p.On("Offers", mock.Anything, []string{"off-1"}, mock.Anything, mock.Anything).
		Return([]model.Offer{{OfferID: "off-1", ItemID: &item, Found: true}})
	s.On("Score", mock.Anything, mock.Anything).Return(scorer.Result{Offers: []model.RankedOffer{}})

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{UserID: "111", OfferIDs: []string{"off-1"}, Caller: model.ContextSimilarOffer})
	require.NoError(t, err)
	assert.Empty(t, resp.OfferIDs)
	assert.Equal(t, model.ContextSimilarOffer, resp.Context)
	s.AssertNumberOfCalls(t, "Score", 1)
}

func TestRecommend_EmptyPlainRunIsNotRepeated(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	p.On("User", mock.Anything, "111", mock.Anything, mock.Anything).Return(warmUser("111"))
	s.On("Score", mock.Anything, contextIs(model.ContextRecommendation)).Return(scorer.Result{Offers: []model.RankedOffer{}})

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{UserID: "111", Caller: model.ContextRecommendation, UseFallback: true})
	require.NoError(t, err)
	assert.Empty(t, resp.OfferIDs)
	assert.Equal(t, model.ContextRecommendation, resp.Context)
	s.AssertNumberOfCalls(t, "Score", 1)
	a.AssertNotCalled(t, "SaveAudit", mock.Anything, mock.Anything)
}

func TestRecommend_InvalidParams(t *testing.T) {
	e := newEngine(new(mockProfiles), new(mockScorer), new(mockAudit))
	neg := -1.0
	_, err := e.Recommend(context.Background(), Request{UserID: "111", Params: model.PlaylistParams{PriceMin: &neg}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrInvalidParams))
}

func TestRecommend_Overrides(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	p.On("User", mock.Anything, "111", mock.Anything, mock.Anything).Return(warmUser("111"))
	s.On("Score", mock.Anything, mock.Anything).Return(scorer.Result{Offers: ranked(1)})
	a.On("SaveAudit", mock.Anything, mock.Anything).Return(nil)
	e := newEngine(p, s, a)

	named := "tops"
	resp, err := e.Recommend(context.Background(), Request{UserID: "111", Params: model.PlaylistParams{ModelEndpoint: &named}})
	require.NoError(t, err)
	assert.Equal(t, "tops", resp.ModelOrigin)

	bad := "%%%not-base64%%%"
	_, err = e.Recommend(context.Background(), Request{UserID: "111", Params: model.PlaylistParams{ModelEndpoint: &bad}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, configuration.ErrInvalidOverride))

	f, err := configuration.NewRegistry().Get("random")
	require.NoError(t, err)
	encoded, err := configuration.Encode(f)
	require.NoError(t, err)
	resp, err = e.Recommend(context.Background(), Request{UserID: "111", Params: model.PlaylistParams{ModelEndpoint: &encoded}})
	require.NoError(t, err)
	assert.Equal(t, "random", resp.ModelOrigin)
}

func TestRecommend_TruncatesAndForwardsSubmixing(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	p.On("User", mock.Anything, "111", mock.Anything, mock.Anything).Return(warmUser("111"))
	s.On("Score", mock.Anything, mock.MatchedBy(func(r scorer.Request) bool {
		return r.Count == 2 && r.Config.Submixing["LIVRES"] == "gtl_l3"
	})).Return(scorer.Result{Offers: ranked(5)})
	a.On("SaveAudit", mock.Anything, mock.MatchedBy(func(b model.AuditBatch) bool {
		return len(b.OfferContexts) == 2
	})).Return(nil)

	e := newEngine(p, s, a, WithCount(2))
	resp, err := e.Recommend(context.Background(), Request{
		UserID: "111",
		Params: model.PlaylistParams{SubmixingFeatureDict: map[string]string{"LIVRES": "gtl_l3"}},
	})
	require.NoError(t, err)
	assert.Len(t, resp.OfferIDs, 2)
	s.AssertExpectations(t)
	a.AssertExpectations(t)
}

func TestRecommend_AuditFailureDoesNotFail(t *testing.T) {
	p, s, a := new(mockProfiles), new(mockScorer), new(mockAudit)
	p.On("User", mock.Anything, "111", mock.Anything, mock.Anything).Return(warmUser("111"))
	s.On("Score", mock.Anything, mock.Anything).Return(scorer.Result{Offers: ranked(2)})
	a.On("SaveAudit", mock.Anything, mock.Anything).Return(eris.New("connection reset"))

	e := newEngine(p, s, a)
	resp, err := e.Recommend(context.Background(), Request{UserID: "111"})
	require.NoError(t, err)
	assert.Len(t, resp.OfferIDs, 2)
}
