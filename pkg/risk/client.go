// Package risk provides a client for the area risk scoring service.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/geo"
)

// Client defines the risk service operations.
type Client interface {
	// AreaRisk scores the area of radiusMeters around p. Results are cached
	// per rounded coordinate.
	AreaRisk(ctx context.Context, p geo.Point, radiusMeters float64) (*model.AreaRisk, error)
	// Health checks that the service is up.
	Health(ctx context.Context) error
}

// Option configures the risk client.
type Option func(*httpClient)

// WithBaseURL sets the service base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithCacheTTL sets how long scores are reused. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(c *httpClient) {
		c.ttl = d
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	cache   *gocache.Cache
}

type areaRiskRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

// NewClient creates a new risk service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "http://localhost:5000",
		ttl:     5 * time.Minute,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ttl > 0 {
		c.cache = gocache.New(c.ttl, 2*c.ttl)
	}
	return c
}

// cacheKey rounds to three decimals, roughly 110 m.
func cacheKey(p geo.Point, radius float64) string {
	return fmt.Sprintf("%.3f|%.3f|%.0f", p.Lat, p.Lng, radius)
}

func (c *httpClient) AreaRisk(ctx context.Context, p geo.Point, radiusMeters float64) (*model.AreaRisk, error) {
	if !geo.Valid(p) {
		return nil, eris.New("risk: invalid coordinate")
	}
	if radiusMeters <= 0 {
		radiusMeters = 1000
	}

	key := cacheKey(p, radiusMeters)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			r := v.(model.AreaRisk)
			return &r, nil
		}
	}

	payload, err := json.Marshal(areaRiskRequest{Latitude: p.Lat, Longitude: p.Lng, Radius: radiusMeters})
	if err != nil {
		return nil, eris.Wrap(err, "risk: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/predict/area-risk", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "risk: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.send(req)
	if err != nil {
		return nil, err
	}

	var out model.AreaRisk
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "risk: decode area risk")
	}
	if out.RiskLevel == "" {
		out.RiskLevel = Level(out.RiskScore)
	}
	if len(out.Recommendations) == 0 {
		out.Recommendations = Recommendations(out.RiskScore)
	}

	if c.cache != nil {
		c.cache.SetDefault(key, out)
	}
	return &out, nil
}

func (c *httpClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return eris.Wrap(err, "risk: create request")
	}
	_, err = c.send(req)
	return err
}

func (c *httpClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "risk: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "risk: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("risk: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
