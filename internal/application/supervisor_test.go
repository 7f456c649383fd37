package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/domain"
	"github.com/mfields/cadence/internal/ports"
)

type fakeOp struct {
	kind     string
	x, y     float64
	delta    float64
	r        rune
	selector string
}

type fakeBrowserSession struct {
	mu     sync.Mutex
	ops    []fakeOp
	alive  bool
	closed bool
	url    string
	box    *ports.Box
}

func newFakeBrowserSession() *fakeBrowserSession {
	return &fakeBrowserSession{alive: true, url: "https://example.com/feed"}
}

func (s *fakeBrowserSession) record(op fakeOp) {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.mu.Unlock()
}

func (s *fakeBrowserSession) opKinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make([]string, len(s.ops))
	for i, op := range s.ops {
		kinds[i] = op.kind
	}

	return kinds
}

func (s *fakeBrowserSession) opsOf(kind string) []fakeOp {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []fakeOp
	for _, op := range s.ops {
		if op.kind == kind {
			out = append(out, op)
		}
	}

	return out
}

func (s *fakeBrowserSession) Navigate(_ context.Context, url string) error {
	s.record(fakeOp{kind: "navigate", selector: url})
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()

	return nil
}

func (s *fakeBrowserSession) CurrentURL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.url, nil
}

func (s *fakeBrowserSession) ElementBox(context.Context, string) (*ports.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.box, nil
}

func (s *fakeBrowserSession) MoveMouse(_ context.Context, x, y float64) error {
	s.record(fakeOp{kind: "move", x: x, y: y})
	return nil
}

func (s *fakeBrowserSession) Click(context.Context) error {
	s.record(fakeOp{kind: "click"})
	return nil
}

func (s *fakeBrowserSession) Scroll(_ context.Context, deltaY float64) error {
	s.record(fakeOp{kind: "scroll", delta: deltaY})
	return nil
}

func (s *fakeBrowserSession) Focus(_ context.Context, selector string) error {
	s.record(fakeOp{kind: "focus", selector: selector})
	return nil
}

func (s *fakeBrowserSession) TypeRune(_ context.Context, r rune) error {
	s.record(fakeOp{kind: "type", r: r})
	return nil
}

func (s *fakeBrowserSession) Backspace(context.Context) error {
	s.record(fakeOp{kind: "backspace"})
	return nil
}

func (s *fakeBrowserSession) Alive(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.alive
}

func (s *fakeBrowserSession) Close(context.Context) error {
	s.mu.Lock()
	s.alive = false
	s.closed = true
	s.mu.Unlock()

	return nil
}

func (s *fakeBrowserSession) kill() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

type fakeBrowserFactory struct {
	mu       sync.Mutex
	sessions []*fakeBrowserSession
	failWith error
}

func (f *fakeBrowserFactory) NewSession(context.Context, ports.SessionOptions) (ports.BrowserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	session := newFakeBrowserSession()
	f.sessions = append(f.sessions, session)

	return session, nil
}

func (f *fakeBrowserFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.sessions)
}

func supervisorSettings() config.Settings {
	s := config.DefaultSettings()
	s.MaxSessionErrors = 2

	return s
}

func TestInstanceCreatesSessionOnce(t *testing.T) {
	t.Parallel()

	factory := &fakeBrowserFactory{}
	supervisor := NewSessionSupervisor(config.New(supervisorSettings()), factory, newManualClock(), nil)

	first, err := supervisor.Instance(context.Background(), InstanceOptions{})
	require.NoError(t, err)
	second, err := supervisor.Instance(context.Background(), InstanceOptions{})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, factory.created())
	assert.Equal(t, StateActiveHealthy, supervisor.State())
}

func TestInstanceReinitializesDeadSession(t *testing.T) {
	t.Parallel()

	factory := &fakeBrowserFactory{}
	supervisor := NewSessionSupervisor(config.New(supervisorSettings()), factory, newManualClock(), nil)

	first, err := supervisor.Instance(context.Background(), InstanceOptions{})
	require.NoError(t, err)
	first.(*fakeBrowserSession).kill()

	// Without the option the dead handle is returned as-is.
	same, err := supervisor.Instance(context.Background(), InstanceOptions{})
	require.NoError(t, err)
	assert.Same(t, first, same)

	replaced, err := supervisor.Instance(context.Background(), InstanceOptions{ReinitializeIfUnhealthy: true})
	require.NoError(t, err)
	assert.NotSame(t, first, replaced)
	assert.Equal(t, 2, factory.created())
	assert.True(t, first.(*fakeBrowserSession).closed)
}

func TestHealthCheckRecoversPastErrorCeiling(t *testing.T) {
	t.Parallel()

	factory := &fakeBrowserFactory{}
	supervisor := NewSessionSupervisor(config.New(supervisorSettings()), factory, newManualClock(), nil)

	_, err := supervisor.Instance(context.Background(), InstanceOptions{})
	require.NoError(t, err)

	supervisor.RecordError(errors.New("detached frame"))
	supervisor.RecordError(errors.New("detached frame"))
	assert.Equal(t, StateActiveUnhealthy, supervisor.State())

	// At the ceiling: no recovery, state heals back.
	require.NoError(t, supervisor.HealthCheck(context.Background()))
	assert.Equal(t, 1, factory.created())
	assert.Equal(t, StateActiveHealthy, supervisor.State())

	supervisor.RecordError(errors.New("detached frame"))
	require.NoError(t, supervisor.HealthCheck(context.Background()))

	assert.Equal(t, 2, factory.created())
	assert.Equal(t, StateActiveHealthy, supervisor.State())
	assert.Zero(t, supervisor.HealthStatus(context.Background()).ErrorCount)
}

func TestHealthCheckRecoversDeadSession(t *testing.T) {
	t.Parallel()

	factory := &fakeBrowserFactory{}
	supervisor := NewSessionSupervisor(config.New(supervisorSettings()), factory, newManualClock(), nil)

	session, err := supervisor.Instance(context.Background(), InstanceOptions{})
	require.NoError(t, err)
	session.(*fakeBrowserSession).kill()

	require.NoError(t, supervisor.HealthCheck(context.Background()))
	assert.Equal(t, 2, factory.created())
}

func TestRecoverFailurePreservesError(t *testing.T) {
	t.Parallel()

	factory := &fakeBrowserFactory{}
	supervisor := NewSessionSupervisor(config.New(supervisorSettings()), factory, newManualClock(), nil)

	_, err := supervisor.Instance(context.Background(), InstanceOptions{})
	require.NoError(t, err)

	factory.mu.Lock()
	factory.failWith = errors.New("no executable")
	factory.mu.Unlock()

	err = supervisor.Recover(context.Background())
	require.ErrorIs(t, err, domain.ErrSessionUnavailable)
	assert.Equal(t, StateUninitialized, supervisor.State())
}

func TestHealthStatusSnapshot(t *testing.T) {
	t.Parallel()

	factory := &fakeBrowserFactory{}
	clock := newManualClock()
	supervisor := NewSessionSupervisor(config.New(supervisorSettings()), factory, clock, nil)

	status := supervisor.HealthStatus(context.Background())
	assert.False(t, status.IsActive)
	assert.False(t, status.IsHealthy)

	_, err := supervisor.Instance(context.Background(), InstanceOptions{})
	require.NoError(t, err)
	supervisor.SetAuthenticationStatus(true)
	clock.Advance(90 * time.Second)

	status = supervisor.HealthStatus(context.Background())
	assert.True(t, status.IsActive)
	assert.True(t, status.IsHealthy)
	assert.True(t, status.IsAuthenticated)
	assert.Equal(t, "https://example.com/feed", status.CurrentURL)
	assert.NotZero(t, status.SessionAge)
	assert.NotZero(t, status.MemoryBytes)
}
