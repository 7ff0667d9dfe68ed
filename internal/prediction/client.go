// Package prediction calls remote model endpoints. Endpoints are discovered
// by display name, metadata is cached, each attempt is bounded by a short
// deadline and failures degrade to an error Result instead of an error value.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/offerreco/reco-api/internal/cache"
	"github.com/offerreco/reco-api/internal/metrics"
	"github.com/offerreco/reco-api/internal/resilience"
)

// Status is the outcome of a prediction call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Prediction is one row returned by a model.
type Prediction map[string]any

// Result is returned by every Score call.
type Result struct {
	Status           Status
	Predictions      []Prediction
	ModelVersion     string
	ModelDisplayName string
}

// OK reports a successful call with at least one prediction.
func (r Result) OK() bool {
	return r.Status == StatusSuccess && len(r.Predictions) > 0
}

// Request describes one Score call.
type Request struct {
	Endpoint  string
	Instances []map[string]any
	// Fallbacks are tried in order when Endpoint fails or returns nothing.
	Fallbacks []string
	// Cached enables the result cache for user-independent calls.
	Cached bool
}

// Client scores instances against a remote endpoint.
type Client interface {
	Score(ctx context.Context, req Request) Result
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) Result

// Score implements Client.
func (f ClientFunc) Score(ctx context.Context, req Request) Result { return f(ctx, req) }

// Metadata is the discovery payload of an endpoint.
type Metadata struct {
	EndpointPath     string `json:"endpoint_path"`
	ModelDisplayName string `json:"model_display_name"`
	ModelVersion     string `json:"model_version"`
}

// Option configures the HTTP client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithEnv sets the environment tag appended to endpoint display names.
func WithEnv(env string) Option {
	return func(c *httpClient) { c.env = env }
}

// WithRegion sets the location used for endpoint discovery.
func WithRegion(region string) Option {
	return func(c *httpClient) { c.region = region }
}

// WithTimeout sets the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetadataCache sets the size and TTL of the metadata and result caches.
func WithMetadataCache(maxEntries int, ttl time.Duration) Option {
	return func(c *httpClient) {
		c.metadata = cache.NewLRU[Metadata](maxEntries, ttl)
		c.results = cache.NewLRU[Result](maxEntries, ttl)
	}
}

// WithRateLimit bounds outgoing predict calls. A zero limit disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBreakers sets the per-endpoint circuit breakers.
func WithBreakers(b *resilience.Breakers) Option {
	return func(c *httpClient) { c.breakers = b }
}

const (
	defaultTimeout     = 2 * time.Second
	defaultMetadataTTL = 10 * time.Minute
	defaultMaxEntries  = 1000
)

type httpClient struct {
	baseURL  string
	env      string
	region   string
	timeout  time.Duration
	http     *http.Client
	metadata *cache.LRU[Metadata]
	results  *cache.LRU[Result]
	breakers *resilience.Breakers
	limiter  *rate.Limiter
}

// NewClient creates a prediction client against baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  defaultTimeout,
		metadata: cache.NewLRU[Metadata](defaultMaxEntries, defaultMetadataTTL),
		results:  cache.NewLRU[Result](defaultMaxEntries, defaultMetadataTTL),
		breakers: resilience.NewBreakers(resilience.DefaultBreakerConfig()),
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Score(ctx context.Context, req Request) Result {
	res := c.scoreEndpoint(ctx, req.Endpoint, req.Instances, req.Cached)
	if res.OK() {
		return res
	}
	for _, fb := range req.Fallbacks {
		metrics.PredictionFallbacks.WithLabelValues(fb).Inc()
		zap.L().Debug("prediction: trying fallback endpoint",
			zap.String("endpoint", req.Endpoint),
			zap.String("fallback", fb),
		)
		res = c.scoreEndpoint(ctx, fb, req.Instances, req.Cached)
		if res.OK() {
			return res
		}
	}
	return res
}

// DisplayName returns the environment-tagged display name of an endpoint.
func DisplayName(endpoint, env string) string {
	if env == "" || strings.HasSuffix(endpoint, "-"+env) {
		return endpoint
	}
	return endpoint + "-" + env
}

func (c *httpClient) scoreEndpoint(ctx context.Context, endpoint string, instances []map[string]any, cached bool) Result {
	start := time.Now()
	name := DisplayName(endpoint, c.env)

	var resultKey string
	if cached {
		resultKey = resultCacheKey(name, instances)
		if res, ok := c.results.Get(resultKey); ok {
			metrics.RecordCache("prediction_result", true)
			return res
		}
		metrics.RecordCache("prediction_result", false)
	}

	breaker := c.breakers.Get(name)
	if err := breaker.Allow(); err != nil {
		c.logFailure(name, err)
		return Result{Status: StatusError, ModelDisplayName: name}
	}

	meta, err := c.resolve(ctx, name)
	if err != nil {
		breaker.Record(err)
		c.logFailure(name, err)
		metrics.RecordPrediction(name, string(StatusError), time.Since(start))
		return Result{Status: StatusError, ModelDisplayName: name}
	}

	res := Result{
		Status:           StatusError,
		ModelDisplayName: meta.ModelDisplayName,
		ModelVersion:     meta.ModelVersion,
	}
	if res.ModelDisplayName == "" {
		res.ModelDisplayName = name
	}

	predictions, version, err := c.predict(ctx, meta.EndpointPath, instances)
	breaker.Record(err)
	if err != nil {
		c.logFailure(name, err)
		metrics.RecordPrediction(name, string(StatusError), time.Since(start))
		return res
	}

	res.Status = StatusSuccess
	res.Predictions = predictions
	if version != "" {
		res.ModelVersion = version
	}
	metrics.RecordPrediction(name, string(StatusSuccess), time.Since(start))

	if cached && res.OK() {
		c.results.Put(resultKey, res)
	}
	return res
}

func (c *httpClient) logFailure(endpoint string, err error) {
	kind := resilience.Classify(err)
	metrics.PredictionErrors.WithLabelValues(endpoint, string(kind)).Inc()
	zap.L().Warn("prediction: call failed",
		zap.String("endpoint", endpoint),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
}

// resolve returns cached endpoint metadata, discovering it on a miss.
func (c *httpClient) resolve(ctx context.Context, name string) (Metadata, error) {
	key := name + "|" + c.region
	if meta, ok := c.metadata.Get(key); ok {
		metrics.RecordCache("endpoint_metadata", true)
		return meta, nil
	}
	metrics.RecordCache("endpoint_metadata", false)

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/v1/endpoints/%s", c.baseURL, url.PathEscape(name))
	if c.region != "" {
		u += "?location=" + url.QueryEscape(c.region)
	}
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u, nil)
	if err != nil {
		return Metadata{}, eris.Wrap(err, "prediction: create discovery request")
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return Metadata{}, eris.Wrapf(err, "prediction: discover %s", name)
	}

	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return Metadata{}, eris.Wrapf(err, "prediction: decode metadata for %s", name)
	}
	if meta.EndpointPath == "" {
		return Metadata{}, eris.Errorf("prediction: endpoint %s has no path", name)
	}

	c.metadata.Put(key, meta)
	return meta, nil
}

type predictRequest struct {
	Instances []map[string]any `json:"instances"`
}

type predictResponse struct {
	Predictions  []Prediction `json:"predictions"`
	ModelVersion string       `json:"model_version"`
}

func (c *httpClient) predict(ctx context.Context, path string, instances []map[string]any) ([]Prediction, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", eris.Wrap(err, "prediction: rate limit wait")
		}
	}

	payload, err := json.Marshal(predictRequest{Instances: instances})
	if err != nil {
		return nil, "", eris.Wrap(err, "prediction: marshal instances")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+path+":predict", bytes.NewReader(payload))
	if err != nil {
		return nil, "", eris.Wrap(err, "prediction: create predict request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, "", eris.Wrap(err, "prediction: predict")
	}

	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", eris.Wrap(err, "prediction: decode predictions")
	}
	return resp.Predictions, resp.ModelVersion, nil
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.StatusError{
			Err:        eris.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200)),
			StatusCode: resp.StatusCode,
		}
	}
	return body, nil
}

// requestScopedKeys change on every call and never affect predictions.
var requestScopedKeys = []string{"call_id", "debug"}

func resultCacheKey(endpoint string, instances []map[string]any) string {
	stripped := make([]map[string]any, len(instances))
	for i, inst := range instances {
		m := make(map[string]any, len(inst))
		for k, v := range inst {
			m[k] = v
		}
		for _, k := range requestScopedKeys {
			delete(m, k)
		}
		stripped[i] = m
	}
	// encoding/json sorts map keys, so equal instances give equal payloads.
	payload, err := json.Marshal(stripped)
	if err != nil {
		return endpoint
	}
	return endpoint + "|" + cache.Digest([]string{string(payload)})
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
