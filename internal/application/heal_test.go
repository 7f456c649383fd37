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
)

type memoryHealRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.HealSession
}

func newMemoryHealRepo() *memoryHealRepo {
	return &memoryHealRepo{sessions: make(map[string]domain.HealSession)}
}

func (r *memoryHealRepo) Save(_ context.Context, session domain.HealSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.SessionID] = session

	return nil
}

func (r *memoryHealRepo) Get(_ context.Context, sessionID string) (domain.HealSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.HealSession{}, domain.ErrHealSessionNotFound
	}

	return session, nil
}

func (r *memoryHealRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)

	return nil
}

func (r *memoryHealRepo) List(_ context.Context) ([]domain.HealSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]domain.HealSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}

	return sessions, nil
}

func (r *memoryHealRepo) has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[sessionID]

	return ok
}

// spinClock keeps Now frozen so wait deadlines never fire, while
// Sleep yields briefly so pollers make progress without burning CPU.
type spinClock struct {
	now time.Time
}

func newSpinClock() *spinClock {
	return &spinClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *spinClock) Now() time.Time { return c.now }

func (c *spinClock) Sleep(ctx context.Context, _ time.Duration) error {
	timer := time.NewTimer(time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func healSettings() config.Settings {
	s := config.DefaultSettings()
	s.HealPollIntervalMs = 1000
	s.HealTimeoutMinutes = 1

	return s
}

func TestAuthorizeResolvesWaiter(t *testing.T) {
	t.Parallel()

	repo := newMemoryHealRepo()
	coordinator := NewHealCoordinator(config.New(healSettings()), repo, newSpinClock(), nil)

	done := make(chan error, 1)
	go func() {
		done <- coordinator.WaitForAuthorization(context.Background(), "heal-1")
	}()

	require.Eventually(t, func() bool {
		return repo.has("heal-1")
	}, time.Second, time.Millisecond)

	ok, err := coordinator.Authorize(context.Background(), "heal-1")
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter did not observe the authorization")
	}

	assert.False(t, repo.has("heal-1"), "resolved record should be removed")
}

func TestCancelRejectsWaiter(t *testing.T) {
	t.Parallel()

	repo := newMemoryHealRepo()
	coordinator := NewHealCoordinator(config.New(healSettings()), repo, newSpinClock(), nil)

	done := make(chan error, 1)
	go func() {
		done <- coordinator.WaitForAuthorization(context.Background(), "heal-2")
	}()

	require.Eventually(t, func() bool {
		return repo.has("heal-2")
	}, time.Second, time.Millisecond)

	ok, err := coordinator.Cancel(context.Background(), "heal-2")
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case err := <-done:
		require.ErrorIs(t, err, domain.ErrHealCancelled)
	case <-time.After(time.Second):
		t.Fatal("waiter did not observe the cancellation")
	}

	assert.False(t, repo.has("heal-2"))
}

func TestResolveUnknownSessionReturnsFalse(t *testing.T) {
	t.Parallel()

	coordinator := NewHealCoordinator(config.New(healSettings()), newMemoryHealRepo(), newManualClock(), nil)

	ok, err := coordinator.Authorize(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = coordinator.Cancel(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveIsSingleShot(t *testing.T) {
	t.Parallel()

	repo := newMemoryHealRepo()
	clock := newManualClock()
	coordinator := NewHealCoordinator(config.New(healSettings()), repo, clock, nil)

	require.NoError(t, repo.Save(context.Background(), domain.HealSession{
		SessionID: "heal-3",
		Timestamp: clock.Now(),
		Status:    domain.HealPending,
	}))

	ok, err := coordinator.Authorize(context.Background(), "heal-3")
	require.NoError(t, err)
	assert.True(t, ok)

	// Already authorized; a second flip must not land.
	ok, err = coordinator.Cancel(context.Background(), "heal-3")
	require.NoError(t, err)
	assert.False(t, ok)

	record, err := repo.Get(context.Background(), "heal-3")
	require.NoError(t, err)
	assert.Equal(t, domain.HealAuthorized, record.Status)
}

func TestWaitTimesOutAndCleansUp(t *testing.T) {
	t.Parallel()

	repo := newMemoryHealRepo()
	coordinator := NewHealCoordinator(config.New(healSettings()), repo, newManualClock(), nil)

	err := coordinator.WaitForAuthorization(context.Background(), "heal-4")

	require.ErrorIs(t, err, domain.ErrHealTimeout)
	assert.False(t, repo.has("heal-4"), "timed-out record should be removed")
}

func TestWaitContextCancelRemovesRecord(t *testing.T) {
	t.Parallel()

	repo := newMemoryHealRepo()
	coordinator := NewHealCoordinator(config.New(healSettings()), repo, newSpinClock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- coordinator.WaitForAuthorization(ctx, "heal-5")
	}()

	require.Eventually(t, func() bool {
		return repo.has("heal-5")
	}, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not observe cancellation")
	}

	assert.False(t, repo.has("heal-5"))
}

func TestPendingAuthorizationsFiltersResolved(t *testing.T) {
	t.Parallel()

	repo := newMemoryHealRepo()
	clock := newManualClock()
	coordinator := NewHealCoordinator(config.New(healSettings()), repo, clock, nil)

	for id, status := range map[string]domain.HealStatus{
		"a": domain.HealPending,
		"b": domain.HealAuthorized,
		"c": domain.HealCancelled,
	} {
		require.NoError(t, repo.Save(context.Background(), domain.HealSession{
			SessionID: id,
			Timestamp: clock.Now(),
			Status:    status,
		}))
	}

	pending, err := coordinator.PendingAuthorizations(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].SessionID)
}

type faultyHealRepo struct {
	*memoryHealRepo
	getErr error
}

func (r *faultyHealRepo) Get(ctx context.Context, sessionID string) (domain.HealSession, error) {
	if r.getErr != nil {
		return domain.HealSession{}, r.getErr
	}

	return r.memoryHealRepo.Get(ctx, sessionID)
}

func TestWaitRepositoryFailureRemovesRecord(t *testing.T) {
	t.Parallel()

	repo := &faultyHealRepo{memoryHealRepo: newMemoryHealRepo(), getErr: errors.New("disk read failed")}
	coordinator := NewHealCoordinator(config.New(healSettings()), repo, newManualClock(), nil)

	err := coordinator.WaitForAuthorization(context.Background(), "heal-9")
	require.ErrorContains(t, err, "poll heal session")
	assert.False(t, repo.has("heal-9"))
}
