// Package api is the HTTP surface of the recommendation engine.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/offerreco/reco-api/internal/engine"
)

// Recommender serves engine requests.
type Recommender interface {
	Recommend(ctx context.Context, req engine.Request) (engine.Response, error)
}

// Options configures the HTTP surface.
type Options struct {
	// Token is compared with the token query parameter.
	Token string
	// Local disables the token check.
	Local bool
	// CORSAllowedOrigins is a comma-separated origin list.
	CORSAllowedOrigins string
}

// Server holds the handlers.
type Server struct {
	engine Recommender
	opts   Options
}

// NewServer creates a Server.
func NewServer(rec Recommender, opts Options) *Server {
	return &Server{engine: rec, opts: opts}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestMetrics)
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(s.opts.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health/api", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/playlist_recommendation/{user_id}", s.handlePlaylist)
		r.Get("/similar_offers/{offer_id}", s.handleSimilarOffers)
	})

	return r
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
