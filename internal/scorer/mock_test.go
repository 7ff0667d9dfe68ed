package scorer

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/offerreco/reco-api/internal/materialize"
	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/ranking"
	"github.com/offerreco/reco-api/internal/retrieval"
)

// --- Retriever Mock ---

type mockRetriever struct {
	mock.Mock
}

func (m *mockRetriever) Retrieve(ctx context.Context, ep retrieval.Endpoint, req retrieval.Request) retrieval.Result {
	args := m.Called(ctx, ep, req)
	return args.Get(0).(retrieval.Result)
}

// --- Exclusions Mock ---

type mockExclusions struct {
	mock.Mock
}

func (m *mockExclusions) NonRecommendable(ctx context.Context, userID string) map[string]struct{} {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[string]struct{})
}

// --- Materializer Mock ---

type mockMaterializer struct {
	mock.Mock
}

func (m *mockMaterializer) Materialize(ctx context.Context, req materialize.Request) materialize.Result {
	args := m.Called(ctx, req)
	return args.Get(0).(materialize.Result)
}

// --- Ranker Mock ---

type mockRanker struct {
	mock.Mock
}

func (m *mockRanker) Rank(ctx context.Context, ep ranking.Endpoint, req ranking.Request, offers []model.RecommendableOffer) ranking.Result {
	args := m.Called(ctx, ep, req, offers)
	return args.Get(0).(ranking.Result)
}

func endpointNamed(name string) any {
	return mock.MatchedBy(func(ep retrieval.Endpoint) bool { return ep.Name == name })
}

func items(origin string, ids ...string) []model.RecommendableItem {
	out := make([]model.RecommendableItem, 0, len(ids))
	for i, id := range ids {
		out = append(out, model.RecommendableItem{ItemID: id, ItemRank: i, ItemOrigin: origin, SearchGroupName: "G" + id})
	}
	return out
}

func offersFor(in []model.RecommendableItem) []model.RecommendableOffer {
	out := make([]model.RecommendableOffer, 0, len(in))
	for _, it := range in {
		out = append(out, model.RecommendableOffer{RecommendableItem: it, OfferID: "o-" + it.ItemID})
	}
	return out
}
