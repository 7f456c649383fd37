package domain

import "time"

// SessionHealthStatus is a point-in-time snapshot of the automation
// session, safe to serialize. Sampling it never mutates supervisor
// state.
type SessionHealthStatus struct {
	IsActive        bool
	IsHealthy       bool
	IsAuthenticated bool
	LastActivity    time.Time
	SessionAge      time.Duration
	ErrorCount      int
	MemoryBytes     uint64
	CurrentURL      string
}
