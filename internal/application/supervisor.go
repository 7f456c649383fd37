package application

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/mfields/cadence/internal/audit"
	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/domain"
	"github.com/mfields/cadence/internal/ports"
)

type SessionState string

const (
	StateUninitialized   SessionState = "uninitialized"
	StateActiveHealthy   SessionState = "active-healthy"
	StateActiveUnhealthy SessionState = "active-unhealthy"
	StateRecovering      SessionState = "recovering"
)

// InstanceOptions tune how Instance hands out the session.
type InstanceOptions struct {
	// ReinitializeIfUnhealthy tears down and recreates the session
	// when the liveness probe fails.
	ReinitializeIfUnhealthy bool
}

// SessionSupervisor owns the single automation session per process:
// creation, liveness probes, error accounting and forced recovery.
// Callers must re-fetch the session handle after a recovery since the
// old page state is discarded.
type SessionSupervisor struct {
	cfg     *config.Config
	factory ports.BrowserFactory
	clock   ports.Clock
	log     *audit.Logger

	mu            sync.Mutex
	session       ports.BrowserSession
	state         SessionState
	createdAt     time.Time
	lastActivity  time.Time
	errorCount    int
	authenticated bool
}

func NewSessionSupervisor(cfg *config.Config, factory ports.BrowserFactory, clock ports.Clock, log *audit.Logger) *SessionSupervisor {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if log == nil {
		log = audit.Nop()
	}

	return &SessionSupervisor{
		cfg:     cfg,
		factory: factory,
		clock:   clock,
		log:     log.WithComponent("supervisor"),
		state:   StateUninitialized,
	}
}

// Instance returns the current session, creating one on first use.
func (s *SessionSupervisor) Instance(ctx context.Context, opts InstanceOptions) (ports.BrowserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && opts.ReinitializeIfUnhealthy && !s.session.Alive(ctx) {
		s.log.Warnf("liveness probe failed; reinitializing session")
		_ = s.session.Close(ctx)
		s.session = nil
		s.state = StateUninitialized
	}

	if s.session == nil {
		if err := s.createLocked(ctx); err != nil {
			return nil, err
		}
	}

	s.lastActivity = s.clock.Now()

	return s.session, nil
}

// RecordError counts a session-level failure. Crossing the configured
// ceiling does not recover immediately; the next health check does.
func (s *SessionSupervisor) RecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errorCount++
	if s.state == StateActiveHealthy {
		s.state = StateActiveUnhealthy
	}

	s.log.Event(audit.EventSessionCrash, audit.Fields{
		"error":      err.Error(),
		"errorCount": s.errorCount,
	})
}

// HealthCheck probes the session and forces recovery once the error
// count passes the ceiling or the probe fails.
func (s *SessionSupervisor) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	errorCount := s.errorCount
	s.mu.Unlock()

	if session == nil {
		return nil
	}

	ceiling := s.cfg.Snapshot().MaxSessionErrors
	if errorCount > ceiling || !session.Alive(ctx) {
		return s.Recover(ctx)
	}

	s.mu.Lock()
	if s.state == StateActiveUnhealthy && errorCount <= ceiling {
		s.state = StateActiveHealthy
	}
	s.mu.Unlock()

	return nil
}

// Recover closes the session, discards its page state, and starts a
// fresh one. It is the only forced-abort mechanism in the engine.
func (s *SessionSupervisor) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateRecovering
	s.log.Event(audit.EventRecoveryAttempt, audit.Fields{"errorCount": s.errorCount})

	if s.session != nil {
		_ = s.session.Close(ctx)
		s.session = nil
	}

	if err := s.createLocked(ctx); err != nil {
		s.state = StateUninitialized
		return fmt.Errorf("recover session: %w", err)
	}

	s.errorCount = 0
	s.log.Event(audit.EventSessionRecovered, nil)

	return nil
}

// SetAuthenticationStatus is an explicit out-of-band signal from the
// login flow; the page-level authentication check is unreliable.
func (s *SessionSupervisor) SetAuthenticationStatus(authenticated bool) {
	s.mu.Lock()
	s.authenticated = authenticated
	s.mu.Unlock()

	if authenticated {
		s.log.Event(audit.EventAuthSuccess, nil)
	} else {
		s.log.Event(audit.EventAuthFailure, nil)
	}
}

// HealthStatus samples the session without mutating supervisor state.
func (s *SessionSupervisor) HealthStatus(ctx context.Context) domain.SessionHealthStatus {
	s.mu.Lock()
	session := s.session
	status := domain.SessionHealthStatus{
		IsActive:        session != nil,
		IsAuthenticated: s.authenticated,
		LastActivity:    s.lastActivity,
		ErrorCount:      s.errorCount,
	}
	if session != nil {
		status.SessionAge = s.clock.Now().Sub(s.createdAt)
	}
	healthy := s.state == StateActiveHealthy
	s.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	status.MemoryBytes = mem.HeapAlloc

	if session != nil {
		status.IsHealthy = healthy && session.Alive(ctx)
		if url, err := session.CurrentURL(ctx); err == nil {
			status.CurrentURL = url
		}
	}

	return status
}

func (s *SessionSupervisor) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// StartMonitor runs periodic health checks until ctx is cancelled.
func (s *SessionSupervisor) StartMonitor(ctx context.Context) {
	go func() {
		for {
			if err := s.clock.Sleep(ctx, s.cfg.Snapshot().HealthCheckInterval()); err != nil {
				return
			}
			if err := s.HealthCheck(ctx); err != nil {
				s.log.Errorf("health check: %v", err)
			}
		}
	}()
}

// createLocked launches a new session; callers must hold s.mu.
func (s *SessionSupervisor) createLocked(ctx context.Context) error {
	snap := s.cfg.Snapshot()
	session, err := s.factory.NewSession(ctx, ports.SessionOptions{
		Headless: snap.Headless,
		StartURL: snap.SiteURL,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSessionUnavailable, err)
	}

	s.session = session
	s.state = StateActiveHealthy
	s.createdAt = s.clock.Now()
	s.lastActivity = s.createdAt

	s.log.Event(audit.EventSessionStart, audit.Fields{"headless": snap.Headless})

	return nil
}
