package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/mfields/cadence/internal/audit"
	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/domain"
	"github.com/mfields/cadence/internal/ports"
)

// HealCoordinator runs the heal-and-restore handshake: when the
// session hits a state only a human can resolve (a challenge screen),
// the in-flight operation parks on a durable pending record until an
// operator authorizes or cancels it from another process. The 1-second
// poll is deliberate; the counterpart is a person, not a service.
type HealCoordinator struct {
	cfg   *config.Config
	repo  ports.HealSessionRepository
	clock ports.Clock
	log   *audit.Logger
}

func NewHealCoordinator(cfg *config.Config, repo ports.HealSessionRepository, clock ports.Clock, log *audit.Logger) *HealCoordinator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if log == nil {
		log = audit.Nop()
	}

	return &HealCoordinator{
		cfg:   cfg,
		repo:  repo,
		clock: clock,
		log:   log.WithComponent("heal"),
	}
}

// WaitForAuthorization persists a pending handshake and blocks until
// it is authorized (nil), cancelled (ErrHealCancelled) or the timeout
// elapses (ErrHealTimeout). The persisted record is deleted on every
// resolution path.
func (h *HealCoordinator) WaitForAuthorization(ctx context.Context, sessionID string) error {
	snap := h.cfg.Snapshot()

	pending := domain.HealSession{
		SessionID: sessionID,
		Timestamp: h.clock.Now(),
		Status:    domain.HealPending,
	}
	if err := h.repo.Save(ctx, pending); err != nil {
		return fmt.Errorf("persist heal session: %w", err)
	}

	h.log.Infof("waiting for operator authorization (session %s)", sessionID)

	deadline := h.clock.Now().Add(snap.HealTimeout())
	for {
		if err := h.clock.Sleep(ctx, snap.HealPollInterval()); err != nil {
			// The waiter is going away; leave no orphan record behind.
			_ = h.repo.Delete(context.WithoutCancel(ctx), sessionID)
			return err
		}

		record, err := h.repo.Get(ctx, sessionID)
		if errors.Is(err, domain.ErrHealSessionNotFound) {
			// Resolved and cleaned up by the authorizer.
			return nil
		}
		if err != nil {
			_ = h.repo.Delete(context.WithoutCancel(ctx), sessionID)
			return fmt.Errorf("poll heal session: %w", err)
		}

		switch record.Status {
		case domain.HealAuthorized:
			if err := h.repo.Delete(ctx, sessionID); err != nil {
				return fmt.Errorf("clear authorized heal session: %w", err)
			}
			h.log.Infof("session %s authorized by operator", sessionID)
			return nil
		case domain.HealCancelled:
			if err := h.repo.Delete(ctx, sessionID); err != nil {
				return fmt.Errorf("clear cancelled heal session: %w", err)
			}
			return fmt.Errorf("session %s: %w", sessionID, domain.ErrHealCancelled)
		}

		if h.clock.Now().After(deadline) {
			_ = h.repo.Delete(ctx, sessionID)
			return fmt.Errorf("session %s: %w", sessionID, domain.ErrHealTimeout)
		}
	}
}

// Authorize flips a pending handshake to authorized. It reports false
// for unknown or already-resolved ids and touches nothing in that
// case.
func (h *HealCoordinator) Authorize(ctx context.Context, sessionID string) (bool, error) {
	return h.resolve(ctx, sessionID, domain.HealAuthorized)
}

// Cancel flips a pending handshake to cancelled, rejecting the waiter.
func (h *HealCoordinator) Cancel(ctx context.Context, sessionID string) (bool, error) {
	return h.resolve(ctx, sessionID, domain.HealCancelled)
}

func (h *HealCoordinator) resolve(ctx context.Context, sessionID string, status domain.HealStatus) (bool, error) {
	record, err := h.repo.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrHealSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load heal session: %w", err)
	}
	if record.Status != domain.HealPending {
		return false, nil
	}

	record.Status = status
	if err := h.repo.Save(ctx, record); err != nil {
		return false, fmt.Errorf("update heal session: %w", err)
	}

	h.log.Infof("heal session %s marked %s", sessionID, status)

	return true, nil
}

// PendingAuthorizations lists handshakes awaiting operator review.
func (h *HealCoordinator) PendingAuthorizations(ctx context.Context) ([]domain.HealSession, error) {
	sessions, err := h.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list heal sessions: %w", err)
	}

	pending := sessions[:0]
	for _, session := range sessions {
		if session.Status == domain.HealPending {
			pending = append(pending, session)
		}
	}

	return pending, nil
}
