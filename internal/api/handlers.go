package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/configuration"
	"github.com/offerreco/reco-api/internal/engine"
	"github.com/offerreco/reco-api/internal/model"
)

// ResponseParams is the metadata block of a recommendation response.
type ResponseParams struct {
	RecoOrigin  string `json:"reco_origin"`
	ModelOrigin string `json:"model_origin"`
	CallID      string `json:"call_id"`
}

// PlaylistResponse is the body of POST /playlist_recommendation/{user_id}.
type PlaylistResponse struct {
	PlaylistRecommendedOffers []string       `json:"playlist_recommended_offers"`
	Params                    ResponseParams `json:"params"`
}

// SimilarOffersResponse is the body of GET /similar_offers/{offer_id}.
type SimilarOffersResponse struct {
	Results []string       `json:"results"`
	Params  ResponseParams `json:"params"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, "Recommendation API is up")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, "OK")
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	var params model.PlaylistParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeDetail(w, r, http.StatusUnprocessableEntity, "invalid playlist params: "+err.Error())
		return
	}

	q := r.URL.Query()
	lat, lon, err := parseLocation(q)
	if err != nil {
		writeDetail(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if me := q.Get("modelEndpoint"); me != "" {
		params.ModelEndpoint = &me
	}

	resp, err := s.engine.Recommend(r.Context(), engine.Request{
		UserID:      userID,
		OfferIDs:    params.Offers,
		Latitude:    lat,
		Longitude:   lon,
		Params:      params,
		Caller:      model.ContextRecommendation,
		UseFallback: !params.Restrained(),
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, PlaylistResponse{
		PlaylistRecommendedOffers: nonNil(resp.OfferIDs),
		Params:                    responseParams(resp),
	})
}

func (s *Server) handleSimilarOffers(w http.ResponseWriter, r *http.Request) {
	offerID := chi.URLParam(r, "offer_id")

	q := r.URL.Query()
	lat, lon, err := parseLocation(q)
	if err != nil {
		writeDetail(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	params, err := parseQueryParams(q)
	if err != nil {
		writeDetail(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	offerIDs := append([]string{offerID}, params.Offers...)
	resp, err := s.engine.Recommend(r.Context(), engine.Request{
		UserID:      q.Get("user_id"),
		OfferIDs:    dedupe(offerIDs),
		Latitude:    lat,
		Longitude:   lon,
		Params:      params,
		Caller:      model.ContextSimilarOffer,
		UseFallback: !params.Restrained(),
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, SimilarOffersResponse{
		Results: nonNil(resp.OfferIDs),
		Params:  responseParams(resp),
	})
}

// writeEngineError maps input errors to 422. Anything else is a bug.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case eris.Is(err, model.ErrInvalidParams),
		eris.Is(err, configuration.ErrInvalidOverride),
		eris.Is(err, configuration.ErrUnknownConfiguration):
		writeDetail(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		zap.L().Error("api: engine failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeDetail(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

func responseParams(resp engine.Response) ResponseParams {
	return ResponseParams{RecoOrigin: resp.RecoOrigin, ModelOrigin: resp.ModelOrigin, CallID: resp.CallID}
}

// writeJSON writes data, or 204 when the client has disconnected.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	if clientGone(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("api: encode response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func writeDetail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeJSON(w, r, status, map[string]string{"detail": detail})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
