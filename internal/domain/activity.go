package domain

import "time"

// ActivityRecord captures one automated action. Records are immutable
// once appended; the tracker bounds how many it retains.
type ActivityRecord struct {
	ActionType     string
	Timestamp      time.Time
	Metadata       map[string]any
	SessionElapsed time.Duration
}

// CooldownDecision is computed transiently from recent activity and
// never persisted.
type CooldownDecision struct {
	NeedsCooldown bool
	Reason        string
	Duration      time.Duration
}

type SuspiciousPatterns struct {
	TooFast        bool
	TooRegular     bool
	TooManyActions bool
	UnusualTiming  bool
}

func (p SuspiciousPatterns) Any() bool {
	return p.TooFast || p.TooRegular || p.TooManyActions || p.UnusualTiming
}

// SuspiciousActivityReport is derived on demand from the last five
// minutes of activity.
type SuspiciousActivityReport struct {
	Patterns          SuspiciousPatterns
	RecentActionCount int
	Recommendation    string
}
