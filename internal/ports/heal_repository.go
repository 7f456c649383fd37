package ports

import (
	"context"

	"github.com/mfields/cadence/internal/domain"
)

// HealSessionRepository is the durable store backing the cross-process
// heal-and-restore handshake. Implementations must survive process
// restarts; the waiter polls it rather than relying on in-memory
// signaling.
type HealSessionRepository interface {
	Save(ctx context.Context, session domain.HealSession) error
	// Get returns domain.ErrHealSessionNotFound for unknown ids.
	Get(ctx context.Context, sessionID string) (domain.HealSession, error)
	// Delete is idempotent: deleting an absent record is not an error.
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]domain.HealSession, error)
}
