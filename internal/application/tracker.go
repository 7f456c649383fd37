// Package application contains the interaction orchestration engine:
// activity tracking, human-behavior simulation, the bounded job queue,
// session supervision and the heal-and-restore handshake.
package application

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mfields/cadence/internal/audit"
	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/domain"
	"github.com/mfields/cadence/internal/ports"
)

const (
	maxRetainedRecords = 1000
	cooldownSampleSize = 100
	suspicionWindow    = 5 * time.Minute

	tooFastMeanInterval = 500 * time.Millisecond
	tooRegularVariance  = 10_000 // ms^2
	tooManyThreshold    = 50
	repeatIntervalCount = 3
)

// ActivityTracker records every automated action and decides when the
// session needs a cooling-off pause or starts looking non-human.
type ActivityTracker struct {
	cfg   *config.Config
	clock ports.Clock
	log   *audit.Logger

	mu           sync.Mutex
	records      []domain.ActivityRecord
	consecutive  int
	sessionStart time.Time
	suspicious   bool
	rng          *rand.Rand
}

func NewActivityTracker(cfg *config.Config, clock ports.Clock, log *audit.Logger) *ActivityTracker {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if log == nil {
		log = audit.Nop()
	}

	return &ActivityTracker{
		cfg:          cfg,
		clock:        clock,
		log:          log.WithComponent("tracker"),
		sessionStart: clock.Now(),
		rng:          rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// RecordAction appends an immutable activity record and trims the log
// to the most recent 1000 entries.
func (t *ActivityTracker) RecordAction(actionType string, metadata map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.records = append(t.records, domain.ActivityRecord{
		ActionType:     actionType,
		Timestamp:      now,
		Metadata:       metadata,
		SessionElapsed: now.Sub(t.sessionStart),
	})
	t.consecutive++

	if excess := len(t.records) - maxRetainedRecords; excess > 0 {
		t.records = append(t.records[:0:0], t.records[excess:]...)
	}
}

// CheckAndApplyCooldown examines recent activity against the
// configured per-minute and per-hour thresholds. When a cooldown is
// needed it performs the wait itself before returning, so callers need
// no separate sleep step.
func (t *ActivityTracker) CheckAndApplyCooldown(ctx context.Context) (domain.CooldownDecision, error) {
	decision := t.decideCooldown()
	if !decision.NeedsCooldown {
		return decision, nil
	}

	t.log.Event(audit.EventRateLimitDetected, audit.Fields{
		"reason":     decision.Reason,
		"cooldownMs": decision.Duration.Milliseconds(),
	})

	if err := t.clock.Sleep(ctx, decision.Duration); err != nil {
		return decision, fmt.Errorf("cooldown wait: %w", err)
	}

	return decision, nil
}

func (t *ActivityTracker) decideCooldown() domain.CooldownDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.cfg.Snapshot()
	now := t.clock.Now()

	sample := t.records
	if len(sample) > cooldownSampleSize {
		sample = sample[len(sample)-cooldownSampleSize:]
	}

	var lastMinute, lastHour int
	for _, record := range sample {
		age := now.Sub(record.Timestamp)
		if age <= time.Minute {
			lastMinute++
		}
		if age <= time.Hour {
			lastHour++
		}
	}

	var reason string
	switch {
	case lastMinute > s.ActionsPerMinute:
		reason = fmt.Sprintf("%d actions in the last minute exceeds %d", lastMinute, s.ActionsPerMinute)
	case lastHour > s.ActionsPerHour:
		reason = fmt.Sprintf("%d actions in the last hour exceeds %d", lastHour, s.ActionsPerHour)
	default:
		return domain.CooldownDecision{}
	}

	t.consecutive = 0

	spread := s.CooldownMax() - s.CooldownMin()
	duration := s.CooldownMin()
	if spread > 0 {
		duration += time.Duration(t.rng.Int63n(int64(spread)))
	}

	return domain.CooldownDecision{
		NeedsCooldown: true,
		Reason:        reason,
		Duration:      duration,
	}
}

// DetectSuspiciousActivity inspects the last five minutes of activity
// for machine-like patterns. The sticky flag is logged only when it
// transitions, not on every check.
func (t *ActivityTracker) DetectSuspiciousActivity() domain.SuspiciousActivityReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var recent []domain.ActivityRecord
	for _, record := range t.records {
		if now.Sub(record.Timestamp) <= suspicionWindow {
			recent = append(recent, record)
		}
	}

	intervals := make([]float64, 0, len(recent))
	for i := 1; i < len(recent); i++ {
		intervals = append(intervals, float64(recent[i].Timestamp.Sub(recent[i-1].Timestamp).Milliseconds()))
	}

	patterns := domain.SuspiciousPatterns{
		TooManyActions: len(recent) > tooManyThreshold,
	}

	if len(intervals) > 0 {
		mean := meanOf(intervals)
		patterns.TooFast = mean < float64(tooFastMeanInterval.Milliseconds())
		if len(intervals) > 1 {
			patterns.TooRegular = varianceOf(intervals, mean) < tooRegularVariance
		}
		patterns.UnusualTiming = repeatedIntervals(intervals) > repeatIntervalCount
	}

	report := domain.SuspiciousActivityReport{
		Patterns:          patterns,
		RecentActionCount: len(recent),
		Recommendation:    recommendationFor(patterns),
	}

	if patterns.Any() != t.suspicious {
		t.suspicious = patterns.Any()
		t.log.Event(audit.EventSuspiciousActivity, audit.Fields{
			"active":         t.suspicious,
			"recentActions":  report.RecentActionCount,
			"recommendation": report.Recommendation,
		})
	}

	return report
}

// ConsecutiveActions returns the count of actions since the last
// cooldown reset.
func (t *ActivityTracker) ConsecutiveActions() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.consecutive
}

// SessionElapsed returns how long this tracker's session has run.
func (t *ActivityTracker) SessionElapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.clock.Now().Sub(t.sessionStart)
}

// RecordCount is exposed for telemetry snapshots.
func (t *ActivityTracker) RecordCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.records)
}

// LogPerformanceMetrics emits a throughput snapshot of the session
// for offline analysis.
func (t *ActivityTracker) LogPerformanceMetrics() {
	t.mu.Lock()
	elapsed := t.clock.Now().Sub(t.sessionStart)
	records := len(t.records)
	consecutive := t.consecutive
	t.mu.Unlock()

	t.log.Event(audit.EventPerformanceMetrics, audit.Fields{
		"sessionElapsedMs":   elapsed.Milliseconds(),
		"recordCount":        records,
		"consecutiveActions": consecutive,
	})
}

func recommendationFor(p domain.SuspiciousPatterns) string {
	// Priority order mirrors how quickly each pattern gets flagged by
	// anti-automation systems.
	switch {
	case p.TooFast:
		return "increase delays between actions"
	case p.TooRegular:
		return "add more variance to action timing"
	case p.TooManyActions:
		return "reduce action frequency or take a break"
	case p.UnusualTiming:
		return "randomize intervals to avoid exact repeats"
	default:
		return "activity looks within human-plausible bounds"
	}
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func varianceOf(values []float64, mean float64) float64 {
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}

	return sum / float64(len(values))
}

// repeatedIntervals counts distinct interval values that occur at
// least three times, rounded to the millisecond.
func repeatedIntervals(intervals []float64) int {
	counts := make(map[int64]int, len(intervals))
	for _, v := range intervals {
		counts[int64(v)]++
	}

	repeats := 0
	for _, n := range counts {
		if n >= repeatIntervalCount {
			repeats++
		}
	}

	return repeats
}
