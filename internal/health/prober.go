// Package health probes the local service endpoint after an activation.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/rollout/internal/config"
	"github.com/loykin/rollout/internal/metrics"
)

// HealthyStatus is the status marker a healthy service must report.
const HealthyStatus = "healthy"

// HTTPClient is the subset of http.Client the prober needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober performs the post-activation health check. Any non-200 response,
// unexpected payload, or transport failure counts as unhealthy.
type Prober struct {
	cfg config.HealthConfig
	hc  HTTPClient
	log *slog.Logger
}

// New creates a Prober.
func New(cfg config.HealthConfig, log *slog.Logger) *Prober {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{cfg: cfg, hc: &http.Client{Timeout: timeout}, log: log}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func (p *Prober) WithHTTPClient(hc HTTPClient) *Prober {
	if hc != nil {
		p.hc = hc
	}
	return p
}

// GracePeriod is how long the activation pipeline waits before probing.
func (p *Prober) GracePeriod() time.Duration { return p.cfg.GracePeriod }

// Healthy reports whether the local service answers with the healthy marker.
func (p *Prober) Healthy(ctx context.Context) bool {
	ok := p.probe(ctx)
	if !ok {
		metrics.IncHealthProbeFailure()
	}
	return ok
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		p.log.Error("health probe: build request", "err", err)
		return false
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		p.log.Error("health probe failed", "url", p.cfg.URL, "err", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		p.log.Error("health probe: unexpected status", "status", resp.StatusCode)
		return false
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		p.log.Error("health probe: decode response", "err", err)
		return false
	}
	return body.Status == HealthyStatus
}
