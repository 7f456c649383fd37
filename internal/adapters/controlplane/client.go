// Package controlplane talks to the optional central service that
// hands out dynamic rate-limit parameters and collects interaction
// telemetry. The engine must keep working when the service is down,
// so every remote failure degrades to cached or default behavior and
// a circuit breaker stops hammering a dead endpoint.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mfields/cadence/internal/audit"
	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/domain"
	"github.com/mfields/cadence/internal/ports"
)

const (
	failureThreshold = 3
	openInterval     = 30 * time.Second
	apiKeyHeader     = "X-API-Key"
)

// Client is safe for concurrent use. A nil-endpoint configuration is
// valid; every call then reports ErrNotConfigured or no-ops.
type Client struct {
	cfg   *config.Config
	http  *http.Client
	clock ports.Clock
	log   *audit.Logger

	mu          sync.Mutex
	apiKey      string
	state       domain.CircuitState
	failures    int
	openedAt    time.Time
	cached      *domain.RateLimitParams
	lastFetched time.Time
}

func NewClient(cfg *config.Config, httpClient *http.Client, clock ports.Clock, log *audit.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Snapshot().RequestTimeout()}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if log == nil {
		log = audit.Nop()
	}

	return &Client{
		cfg:   cfg,
		http:  httpClient,
		clock: clock,
		log:   log.WithComponent("controlplane"),
		state: domain.CircuitClosed,
	}
}

// SetAPIKey installs the key returned by registration; subsequent
// requests carry it in the X-API-Key header.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// HasEndpoint reports whether a control plane URL is set. Registration
// needs only the endpoint; it is the call that obtains the API key.
func (c *Client) HasEndpoint() bool {
	return c.cfg.Snapshot().ControlPlaneURL != ""
}

// IsConfigured reports whether the client is usable for authenticated
// calls: both the endpoint and an API key must be present, otherwise
// the client stays disabled.
func (c *Client) IsConfigured() bool {
	if !c.HasEndpoint() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.apiKey != ""
}

// CircuitState exposes the breaker state for status output.
func (c *Client) CircuitState() domain.CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.circuitStateLocked()
}

// Register announces this deployment to the control plane and returns
// its identity, including the API key for subsequent calls.
func (c *Client) Register(ctx context.Context, metadata map[string]any) (domain.Deployment, error) {
	if !c.HasEndpoint() {
		return domain.Deployment{}, domain.ErrNotConfigured
	}
	if !c.allowRequest() {
		return domain.Deployment{}, domain.ErrCircuitOpen
	}

	snap := c.cfg.Snapshot()
	payload := map[string]any{
		"deploymentId": snap.DeploymentID,
		"metadata":     metadata,
	}

	body, err := c.post(ctx, "register", payload)
	if err != nil {
		c.recordFailure()
		return domain.Deployment{}, fmt.Errorf("register deployment: %w", err)
	}
	c.recordSuccess()

	var deployment domain.Deployment
	if err := json.Unmarshal(body, &deployment); err != nil {
		return domain.Deployment{}, fmt.Errorf("decode registration response: %w", err)
	}

	c.SetAPIKey(deployment.ControlPlaneAPIKey)

	return deployment, nil
}

// SyncRateLimits fetches the current rate-limit parameters, caching
// them for the configured TTL. Failures are soft: the previous cached
// value (or nil) comes back with no error so interaction flow never
// stalls on the control plane.
func (c *Client) SyncRateLimits(ctx context.Context) *domain.RateLimitParams {
	if !c.IsConfigured() {
		return nil
	}

	snap := c.cfg.Snapshot()

	c.mu.Lock()
	cached := c.cached
	fresh := c.cached != nil && c.clock.Now().Sub(c.lastFetched) < snap.SyncTTL()
	c.mu.Unlock()

	if fresh {
		return cached
	}

	if !c.allowRequest() {
		return cached
	}

	endpoint, err := c.buildURL("rate-limits")
	if err != nil {
		c.log.Warnf("rate limit sync: %v", err)
		return cached
	}
	endpoint += "?deploymentId=" + url.QueryEscape(snap.DeploymentID)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		c.recordFailure()
		c.log.Warnf("rate limit sync failed, serving cached parameters: %v", err)
		return cached
	}
	c.recordSuccess()

	var params domain.RateLimitParams
	if err := json.Unmarshal(body, &params); err != nil {
		c.log.Warnf("rate limit sync: decode response: %v", err)
		return cached
	}

	c.mu.Lock()
	c.cached = &params
	c.lastFetched = c.clock.Now()
	c.mu.Unlock()

	return &params
}

// ReportInteraction ships one telemetry record, fire and forget. The
// outcome never reaches the caller; a failed report must not fail the
// interaction it describes.
func (c *Client) ReportInteraction(ctx context.Context, operation string, metadata map[string]any) {
	if !c.IsConfigured() || !c.allowRequest() {
		return
	}

	snap := c.cfg.Snapshot()
	payload := map[string]any{
		"deploymentId": snap.DeploymentID,
		"operation":    operation,
		"metadata":     metadata,
		"timestamp":    c.clock.Now().UnixMilli(),
	}

	if _, err := c.post(ctx, "report-interaction", payload); err != nil {
		c.recordFailure()
		c.log.Debugf("interaction report dropped: %v", err)
		return
	}
	c.recordSuccess()
}

// allowRequest applies the breaker: closed and half-open let one
// request through, open rejects until the cool-off has elapsed.
func (c *Client) allowRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.circuitStateLocked() != domain.CircuitOpen
}

func (c *Client) circuitStateLocked() domain.CircuitState {
	if c.state == domain.CircuitOpen && c.clock.Now().Sub(c.openedAt) >= openInterval {
		c.state = domain.CircuitHalfOpen
	}

	return c.state
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	if c.state == domain.CircuitHalfOpen || c.failures >= failureThreshold {
		c.state = domain.CircuitOpen
		c.openedAt = c.clock.Now()
		c.log.Warnf("control plane circuit opened after %d failures", c.failures)
	}
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.CircuitClosed {
		c.log.Infof("control plane circuit closed")
	}
	c.state = domain.CircuitClosed
	c.failures = 0
}

func (c *Client) buildURL(path string) (string, error) {
	base := c.cfg.Snapshot().ControlPlaneURL
	joined, err := url.JoinPath(base, path)
	if err != nil {
		return "", fmt.Errorf("build control plane url: %w", err)
	}

	return joined, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	endpoint, err := c.buildURL(path)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.Lock()
	key := c.apiKey
	c.mu.Unlock()
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("control plane returned %s", resp.Status)
	}

	return body, nil
}
