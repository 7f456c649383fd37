package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/domain"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	return nil
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func clientSettings(endpoint string) config.Settings {
	s := config.DefaultSettings()
	s.ControlPlaneURL = endpoint
	s.DeploymentID = "deploy-1"
	s.SyncTTLMinutes = 5

	return s
}

func TestSyncRateLimitsCachesWithinTTL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "deploy-1", r.URL.Query().Get("deploymentId"))
		_ = json.NewEncoder(w).Encode(domain.RateLimitParams{ActionsPerMinute: 4})
	}))
	defer server.Close()

	clock := newManualClock()
	client := NewClient(config.New(clientSettings(server.URL)), server.Client(), clock, nil)
	client.SetAPIKey("test-key")

	params := client.SyncRateLimits(context.Background())
	require.NotNil(t, params)
	assert.Equal(t, 4, params.ActionsPerMinute)
	assert.Equal(t, int32(1), hits.Load())

	// Second call inside the TTL never leaves the cache.
	client.SyncRateLimits(context.Background())
	assert.Equal(t, int32(1), hits.Load())

	clock.Advance(6 * time.Minute)
	client.SyncRateLimits(context.Background())
	assert.Equal(t, int32(2), hits.Load())
}

func TestSyncRateLimitsServesStaleOnFailure(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.RateLimitParams{ActionsPerHour: 80})
	}))
	defer server.Close()

	clock := newManualClock()
	client := NewClient(config.New(clientSettings(server.URL)), server.Client(), clock, nil)
	client.SetAPIKey("test-key")

	require.NotNil(t, client.SyncRateLimits(context.Background()))

	fail.Store(true)
	clock.Advance(6 * time.Minute)

	params := client.SyncRateLimits(context.Background())
	require.NotNil(t, params, "stale parameters keep serving")
	assert.Equal(t, 80, params.ActionsPerHour)
}

func TestCircuitOpensAfterThreeFailuresAndHalfOpens(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.Deployment{ID: "deploy-1"})
	}))
	defer server.Close()

	clock := newManualClock()
	client := NewClient(config.New(clientSettings(server.URL)), server.Client(), clock, nil)
	client.SetAPIKey("test-key")

	for i := 0; i < 3; i++ {
		_, err := client.Register(context.Background(), nil)
		require.Error(t, err)
	}
	assert.Equal(t, domain.CircuitOpen, client.CircuitState())

	// Open circuit rejects without touching the network.
	_, err := client.Register(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, int32(3), hits.Load())

	// After the cool-off one probe goes through; success closes.
	clock.Advance(31 * time.Second)
	assert.Equal(t, domain.CircuitHalfOpen, client.CircuitState())

	fail.Store(false)
	_, err = client.Register(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CircuitClosed, client.CircuitState())
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	clock := newManualClock()
	client := NewClient(config.New(clientSettings(server.URL)), server.Client(), clock, nil)
	client.SetAPIKey("test-key")

	for i := 0; i < 3; i++ {
		_, _ = client.Register(context.Background(), nil)
	}
	require.Equal(t, domain.CircuitOpen, client.CircuitState())

	clock.Advance(31 * time.Second)
	_, err := client.Register(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.CircuitOpen, client.CircuitState())
}

func TestRegisterStoresAPIKeyForLaterRequests(t *testing.T) {
	t.Parallel()

	var lastKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastKey.Store(r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case "/register":
			_ = json.NewEncoder(w).Encode(domain.Deployment{ID: "deploy-1", ControlPlaneAPIKey: "cp-key-123"})
		default:
			_ = json.NewEncoder(w).Encode(domain.RateLimitParams{})
		}
	}))
	defer server.Close()

	client := NewClient(config.New(clientSettings(server.URL)), server.Client(), newManualClock(), nil)

	deployment, err := client.Register(context.Background(), map[string]any{"version": "dev"})
	require.NoError(t, err)
	assert.Equal(t, "cp-key-123", deployment.ControlPlaneAPIKey)

	client.SyncRateLimits(context.Background())
	assert.Equal(t, "cp-key-123", lastKey.Load())
}

func TestReportInteractionNeverFailsTheCaller(t *testing.T) {
	t.Parallel()

	var payload atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		payload.Store(body)
	}))
	defer server.Close()

	client := NewClient(config.New(clientSettings(server.URL)), server.Client(), newManualClock(), nil)
	client.SetAPIKey("test-key")

	client.ReportInteraction(context.Background(), "connect", map[string]any{"target": "profile/9"})

	body, ok := payload.Load().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "deploy-1", body["deploymentId"])
	assert.Equal(t, "connect", body["operation"])
	assert.NotNil(t, body["timestamp"])
}

func TestEndpointWithoutKeyStaysDisabled(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(domain.RateLimitParams{ActionsPerMinute: 4})
	}))
	defer server.Close()

	client := NewClient(config.New(clientSettings(server.URL)), server.Client(), newManualClock(), nil)

	assert.True(t, client.HasEndpoint())
	assert.False(t, client.IsConfigured())

	// Authenticated traffic stays off until a key arrives.
	assert.Nil(t, client.SyncRateLimits(context.Background()))
	client.ReportInteraction(context.Background(), "connect", nil)
	assert.Equal(t, int32(0), hits.Load())

	client.SetAPIKey("cp-key-456")
	assert.True(t, client.IsConfigured())

	params := client.SyncRateLimits(context.Background())
	require.NotNil(t, params)
	assert.Equal(t, int32(1), hits.Load())
}

func TestUnconfiguredClientDegrades(t *testing.T) {
	t.Parallel()

	client := NewClient(config.New(clientSettings("")), nil, newManualClock(), nil)

	assert.False(t, client.IsConfigured())
	assert.Nil(t, client.SyncRateLimits(context.Background()))

	_, err := client.Register(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)

	// No endpoint, no panic.
	client.ReportInteraction(context.Background(), "connect", nil)
}
