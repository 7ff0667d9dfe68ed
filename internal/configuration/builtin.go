package configuration

import (
	"github.com/offerreco/reco-api/internal/diversify"
	"github.com/offerreco/reco-api/internal/model"
	"github.com/offerreco/reco-api/internal/ranking"
	"github.com/offerreco/reco-api/internal/retrieval"
)

// Remote endpoint names, suffixed with the environment tag at call time.
const (
	EndpointUserRetrieval          = "recommendation_user_retrieval"
	EndpointUserRetrievalVersionB  = "recommendation_user_retrieval_version_b"
	EndpointSemanticRetrieval      = "recommendation_semantic_retrieval"
	EndpointSimilarRetrieval       = "similar_offers_retrieval"
	EndpointSimilarSemantic        = "similar_offers_semantic_retrieval"
	EndpointUserRanking            = "recommendation_user_ranking"
	EndpointUserRankingVersionB    = "recommendation_user_ranking_version_b"
	EndpointSimilarOfferRanking    = "similar_offers_ranking"
	DefaultRecommendationFork      = "default"
	DefaultSimilarOfferFork        = "similar_offer"
	defaultRecommendationRetrieval = 150
)

func recommendationRetrieval() retrieval.Endpoint {
	return retrieval.Endpoint{
		Name:         "recommendation",
		Kind:         retrieval.KindRecommendation,
		EndpointName: EndpointUserRetrieval,
		ModelType:    "recommendation",
		Size:         defaultRecommendationRetrieval,
	}
}

func topsRetrieval() retrieval.Endpoint {
	return retrieval.Endpoint{
		Name:         "tops",
		Kind:         retrieval.KindFilter,
		EndpointName: EndpointUserRetrieval,
		ModelType:    "tops",
		Size:         50,
		Cached:       true,
	}
}

func semanticRetrieval() retrieval.Endpoint {
	return retrieval.Endpoint{
		Name:         "semantic",
		Kind:         retrieval.KindRecommendation,
		EndpointName: EndpointSemanticRetrieval,
		ModelType:    "semantic",
		Size:         defaultRecommendationRetrieval,
		Fallbacks:    []string{EndpointUserRetrieval},
	}
}

func randomRetrieval() retrieval.Endpoint {
	return retrieval.Endpoint{
		Name:         "random",
		Kind:         retrieval.KindFilter,
		EndpointName: EndpointUserRetrieval,
		ModelType:    "random",
		Size:         100,
	}
}

func similarRetrieval() retrieval.Endpoint {
	return retrieval.Endpoint{
		Name:         "similar_offer",
		Kind:         retrieval.KindSimilarOffer,
		EndpointName: EndpointSimilarRetrieval,
		ModelType:    "similar_offer",
		Size:         100,
	}
}

func similarSemanticRetrieval() retrieval.Endpoint {
	return retrieval.Endpoint{
		Name:         "similar_offer_semantic",
		Kind:         retrieval.KindSimilarOffer,
		EndpointName: EndpointSimilarSemantic,
		ModelType:    "semantic",
		Size:         100,
		Fallbacks:    []string{EndpointSimilarRetrieval},
	}
}

func similarFilterRetrieval() retrieval.Endpoint {
	return retrieval.Endpoint{
		Name:         "similar_offer_filter",
		Kind:         retrieval.KindSimilarOfferFilter,
		EndpointName: EndpointUserRetrieval,
		ModelType:    "tops",
		Size:         50,
	}
}

// RetrievalSets maps a retrieval-set name to its endpoints.
func RetrievalSets() map[string][]retrieval.Endpoint {
	return map[string][]retrieval.Endpoint{
		"mix":                    {recommendationRetrieval(), topsRetrieval()},
		"mix_tops":               {topsRetrieval(), semanticRetrieval()},
		"recommendation":         {recommendationRetrieval()},
		"semantic":               {semanticRetrieval()},
		"tops":                   {topsRetrieval()},
		"random":                 {randomRetrieval()},
		"similar_offer":          {similarRetrieval(), similarFilterRetrieval()},
		"similar_offer_semantic": {similarSemanticRetrieval(), similarFilterRetrieval()},
		"similar_offer_filter":   {similarFilterRetrieval()},
	}
}

func configFor(name, set string, rank ranking.Endpoint, div diversify.Mode, order model.QueryOrder) ModelConfiguration {
	return ModelConfiguration{
		Name:            name,
		RetrievalSet:    set,
		Retrievals:      RetrievalSets()[set],
		Ranking:         rank,
		Diversification: div,
		QueryOrder:      order,
	}
}

func modelRanking(endpoint string) ranking.Endpoint {
	return ranking.Endpoint{Strategy: ranking.StrategyModel, EndpointName: endpoint}
}

func userFork(name string, warm, cold ModelConfiguration) ModelFork {
	return ModelFork{Name: name, Kind: ForkUser, Thresholds: DefaultUserThresholds(), Warm: warm, Cold: cold}
}

func offerFork(name string, warm, cold ModelConfiguration) ModelFork {
	return ModelFork{Name: name, Kind: ForkOffer, Thresholds: DefaultOfferThresholds(), Warm: warm, Cold: cold}
}

// Builtins returns the built-in forks in display order.
func Builtins() []ModelFork {
	warm := configFor("default_warm", "mix", modelRanking(EndpointUserRanking), diversify.ModeOn, model.QueryOrderItemRank)
	cold := configFor("default_cold", "mix_tops", modelRanking(EndpointUserRanking), diversify.ModeOn, model.QueryOrderBookingNumber)

	warmB := configFor("version_b_warm", "mix", modelRanking(EndpointUserRankingVersionB), diversify.ModeOn, model.QueryOrderItemRank)
	warmB.Retrievals[0].EndpointName = EndpointUserRetrievalVersionB
	warmB.Retrievals[0].Fallbacks = []string{EndpointUserRetrieval}

	random := configFor("random", "random", ranking.Endpoint{Strategy: ranking.StrategyOff}, diversify.ModeOn, model.QueryOrderItemRank)
	random.Shuffle = true

	tops := configFor("tops", "tops", ranking.Endpoint{Strategy: ranking.StrategyItemRank}, diversify.ModeOn, model.QueryOrderBookingNumber)
	semantic := configFor("semantic", "semantic", modelRanking(EndpointUserRanking), diversify.ModeGtlL3, model.QueryOrderItemRank)

	similarWarm := configFor("similar_offer_warm", "similar_offer", modelRanking(EndpointSimilarOfferRanking), diversify.ModeOff, model.QueryOrderUserDistance)
	similarCold := configFor("similar_offer_cold", "similar_offer_filter", ranking.Endpoint{Strategy: ranking.StrategyDistance}, diversify.ModeOff, model.QueryOrderUserDistance)
	similarSemantic := configFor("similar_offer_semantic", "similar_offer_semantic", ranking.Endpoint{Strategy: ranking.StrategyItemRank}, diversify.ModeGtlL4, model.QueryOrderItemRank)

	return []ModelFork{
		userFork(DefaultRecommendationFork, warm, cold),
		{Name: "cold_start", Kind: ForkUser, Warm: cold.Clone(), Cold: cold.Clone()},
		userFork("random", random, random.Clone()),
		userFork("tops", tops, tops.Clone()),
		userFork("semantic", semantic, cold.Clone()),
		userFork("version_b", warmB, cold.Clone()),
		offerFork(DefaultSimilarOfferFork, similarWarm, similarCold),
		offerFork("similar_offer_semantic", similarSemantic, similarCold.Clone()),
	}
}
