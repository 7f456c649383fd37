package domain

import "time"

type HealStatus string

const (
	HealPending    HealStatus = "pending"
	HealAuthorized HealStatus = "authorized"
	HealCancelled  HealStatus = "cancelled"
)

// HealSession is the persisted half of the heal-and-restore handshake.
// It lives in a shared durable store because the operator who resolves
// it may act from a different process than the waiter. A record moves
// only pending -> authorized|cancelled and is deleted on resolution.
type HealSession struct {
	SessionID string
	Timestamp time.Time
	Status    HealStatus
}
