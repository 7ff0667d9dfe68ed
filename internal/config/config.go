package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/offerreco/reco-api/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Env            string               `yaml:"env" mapstructure:"env"`
	API            APIConfig            `yaml:"api" mapstructure:"api"`
	Server         ServerConfig         `yaml:"server" mapstructure:"server"`
	Store          StoreConfig          `yaml:"store" mapstructure:"store"`
	Prediction     PredictionConfig     `yaml:"prediction" mapstructure:"prediction"`
	Cache          CacheConfig          `yaml:"cache" mapstructure:"cache"`
	Recommendation RecommendationConfig `yaml:"recommendation" mapstructure:"recommendation"`
	Audit          AuditConfig          `yaml:"audit" mapstructure:"audit"`
	Log            LogConfig            `yaml:"log" mapstructure:"log"`
}

// APIConfig configures request authentication.
type APIConfig struct {
	// Local bypasses the token check and forces console logging.
	Local bool   `yaml:"local" mapstructure:"local"`
	Token string `yaml:"token" mapstructure:"token"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port              int           `yaml:"port" mapstructure:"port"`
	CORSAllowedOrigin string        `yaml:"cors_allowed_origin" mapstructure:"cors_allowed_origin"`
	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// StoreConfig configures the database. DatabaseURL wins over the parts.
type StoreConfig struct {
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	User        string        `yaml:"user" mapstructure:"user"`
	Password    string        `yaml:"password" mapstructure:"password"`
	Database    string        `yaml:"database" mapstructure:"database"`
	Host        string        `yaml:"host" mapstructure:"host"`
	Port        int           `yaml:"port" mapstructure:"port"`
	ViewTTL     time.Duration `yaml:"view_ttl" mapstructure:"view_ttl"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// DSN returns the connection string.
func (s StoreConfig) DSN() string {
	if s.DatabaseURL != "" {
		return s.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", s.Host, s.Port),
		Path:   "/" + s.Database,
	}
	if s.User != "" {
		u.User = url.UserPassword(s.User, s.Password)
	}
	return u.String()
}

// PredictionConfig configures the remote prediction backend.
type PredictionConfig struct {
	BaseURL         string        `yaml:"base_url" mapstructure:"base_url"`
	Region          string        `yaml:"region" mapstructure:"region"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MetadataTTL     time.Duration `yaml:"metadata_ttl" mapstructure:"metadata_ttl"`
	RateLimit       float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst" mapstructure:"rate_burst"`
	BreakerFailures int           `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" mapstructure:"breaker_reset"`
}

// CacheConfig configures the process caches.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend               string        `yaml:"backend" mapstructure:"backend"`
	RedisAddr             string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisDB               int           `yaml:"redis_db" mapstructure:"redis_db"`
	MaterializeTTL        time.Duration `yaml:"materialize_ttl" mapstructure:"materialize_ttl"`
	MaterializeMaxEntries int           `yaml:"materialize_max_entries" mapstructure:"materialize_max_entries"`
	MetadataMaxEntries    int           `yaml:"metadata_max_entries" mapstructure:"metadata_max_entries"`
}

// RecommendationConfig configures the engine.
type RecommendationConfig struct {
	NumberOfRecommendations int `yaml:"number_of_recommendations" mapstructure:"number_of_recommendations"`
	// ConfigFile is an optional YAML file of extra model forks.
	ConfigFile string `yaml:"config_file" mapstructure:"config_file"`
}

// AuditConfig configures the audit rows.
type AuditConfig struct {
	ItemScoreFromRank bool `yaml:"item_score_from_rank" mapstructure:"item_score_from_rank"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envBindings maps the deployment environment variables onto config keys.
var envBindings = map[string]string{
	"env":       "ENV_SHORT_NAME",
	"api.local": "API_LOCAL",
	"api.token": "API_TOKEN",
	"recommendation.number_of_recommendations": "NUMBER_OF_RECOMMENDATIONS",
	"server.cors_allowed_origin":               "CORS_ALLOWED_ORIGIN",
	"store.user":                               "SQL_BASE_USER",
	"store.password":                           "SQL_BASE_PASSWORD",
	"store.database":                           "SQL_BASE",
	"store.host":                               "SQL_HOST",
	"store.port":                               "SQL_PORT",
	"prediction.region":                        "REGION",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RECO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, "RECO_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", env)
		}
	}

	v.SetDefault("env", "dev")
	v.SetDefault("api.local", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origin", "*")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.database", "postgres")
	v.SetDefault("store.view_ttl", "1m")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("prediction.base_url", "http://localhost:8081")
	v.SetDefault("prediction.region", "europe-west1")
	v.SetDefault("prediction.timeout", "2s")
	v.SetDefault("prediction.metadata_ttl", "10m")
	v.SetDefault("prediction.rate_limit", 0)
	v.SetDefault("prediction.rate_burst", 10)
	v.SetDefault("prediction.breaker_failures", 5)
	v.SetDefault("prediction.breaker_reset", "30s")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.materialize_ttl", "50m")
	v.SetDefault("cache.materialize_max_entries", 10000)
	v.SetDefault("cache.metadata_max_entries", 1000)
	v.SetDefault("recommendation.number_of_recommendations", 40)
	v.SetDefault("audit.item_score_from_rank", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if cfg.API.Local {
		cfg.Log.Format = "console"
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is "serve" or "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if !c.API.Local && c.API.Token == "" {
			errs = append(errs, "api.token is required outside local mode")
		}
		if c.Prediction.BaseURL == "" {
			errs = append(errs, "prediction.base_url is required")
		}
		if c.Prediction.Timeout <= 0 {
			errs = append(errs, "prediction.timeout must be > 0")
		}
		if c.Recommendation.NumberOfRecommendations <= 0 {
			errs = append(errs, "recommendation.number_of_recommendations must be > 0")
		}
		switch c.Cache.Backend {
		case "memory":
		case "redis":
			if c.Cache.RedisAddr == "" {
				errs = append(errs, "cache.redis_addr is required for the redis backend")
			}
		default:
			errs = append(errs, fmt.Sprintf("cache.backend %q must be memory or redis", c.Cache.Backend))
		}
		if c.Store.DatabaseURL == "" && c.Store.Host == "" {
			errs = append(errs, "store.database_url or store.host is required")
		}
	case "migrate":
		if c.Store.DatabaseURL == "" && c.Store.Host == "" {
			errs = append(errs, "store.database_url or store.host is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
