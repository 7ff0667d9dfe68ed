package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/cache"
	"github.com/offerreco/reco-api/internal/config"
	"github.com/offerreco/reco-api/internal/configuration"
	"github.com/offerreco/reco-api/internal/db"
	"github.com/offerreco/reco-api/internal/engine"
	"github.com/offerreco/reco-api/internal/geo"
	"github.com/offerreco/reco-api/internal/materialize"
	"github.com/offerreco/reco-api/internal/prediction"
	"github.com/offerreco/reco-api/internal/profile"
	"github.com/offerreco/reco-api/internal/ranking"
	"github.com/offerreco/reco-api/internal/resilience"
	"github.com/offerreco/reco-api/internal/retrieval"
	"github.com/offerreco/reco-api/internal/scorer"
	"github.com/offerreco/reco-api/internal/store"
)

// engineEnv holds the pool, caches and the engine used by the serve command.
type engineEnv struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client // nil with the memory backend
	Registry *configuration.Registry
	Engine   *engine.Engine
}

// Close releases resources held by the engine environment.
func (ee *engineEnv) Close() {
	if ee.Redis != nil {
		_ = ee.Redis.Close()
	}
	if ee.Pool != nil {
		ee.Pool.Close()
	}
}

// initRegistry returns the built-in forks plus the optional registry file.
func initRegistry(c *config.Config) (*configuration.Registry, error) {
	reg := configuration.NewRegistry()
	if c.Recommendation.ConfigFile == "" {
		return reg, nil
	}
	if err := reg.LoadFile(c.Recommendation.ConfigFile); err != nil {
		return nil, err
	}
	zap.L().Info("model configurations loaded",
		zap.String("file", c.Recommendation.ConfigFile),
		zap.Strings("names", reg.Names()),
	)
	return reg, nil
}

// initCache returns the materialization cache store. The redis client is
// nil for the memory backend.
func initCache(ctx context.Context, c config.CacheConfig) (cache.Store, *redis.Client, error) {
	if c.Backend != "redis" {
		return cache.NewMemoryStore(c.MaterializeMaxEntries, c.MaterializeTTL), nil, nil
	}
	client, err := cache.DialRedis(ctx, c.RedisAddr, c.RedisDB)
	if err != nil {
		return nil, nil, eris.Wrap(err, "init redis cache")
	}
	zap.L().Info("materialization cache using redis", zap.String("addr", c.RedisAddr))
	return cache.NewRedisStore(client, "reco:"), client, nil
}

// newPredictionClient builds the prediction client from config.
func newPredictionClient(c config.PredictionConfig, env string, metadataEntries int) prediction.Client {
	breakers := resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: c.BreakerFailures,
		ResetTimeout:     c.BreakerReset,
		OnStateChange: func(name string, from, to resilience.State) {
			zap.L().Warn("prediction endpoint breaker state changed",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	opts := []prediction.Option{
		prediction.WithEnv(env),
		prediction.WithRegion(c.Region),
		prediction.WithTimeout(c.Timeout),
		prediction.WithMetadataCache(metadataEntries, c.MetadataTTL),
		prediction.WithBreakers(breakers),
	}
	if c.RateLimit > 0 {
		opts = append(opts, prediction.WithRateLimit(c.RateLimit, c.RateBurst))
	}
	return prediction.NewClient(c.BaseURL, opts...)
}

// initEngine opens the database and wires the engine. Callers should
// defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	reg, err := initRegistry(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := db.Open(ctx, cfg.Store.DSN(), cfg.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}
	env := &engineEnv{Pool: pool, Registry: reg}

	contentCache, redisClient, err := initCache(ctx, cfg.Cache)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Redis = redisClient

	views := db.NewViewResolver(pool, cfg.Store.ViewTTL)
	client := newPredictionClient(cfg.Prediction, cfg.Env, cfg.Cache.MetadataMaxEntries)
	st := store.New(pool, views)

	sc := scorer.New(
		retrieval.NewRetriever(client),
		st,
		materialize.New(pool, views, contentCache, cfg.Cache.MaterializeTTL),
		ranking.NewRanker(client),
	)
	env.Engine = engine.New(
		profile.NewLoader(pool, views, geo.NewRegionResolver(pool, views)),
		sc,
		st,
		reg,
		engine.WithCount(cfg.Recommendation.NumberOfRecommendations),
		engine.WithItemScoreFromRank(cfg.Audit.ItemScoreFromRank),
	)

	zap.L().Info("engine initialized",
		zap.String("env", cfg.Env),
		zap.String("prediction", cfg.Prediction.BaseURL),
		zap.String("cache", contentCache.Name()),
		zap.Int("recommendations", cfg.Recommendation.NumberOfRecommendations),
	)
	return env, nil
}
