// Package audit emits the structured event stream every engine
// component reports into. Events carry a fixed taxonomy, a default
// severity, and a redaction rule that strips free-text fields before
// they reach any sink.
package audit

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

type Event string

const (
	EventInteractionAttempt  Event = "INTERACTION_ATTEMPT"
	EventInteractionSuccess  Event = "INTERACTION_SUCCESS"
	EventInteractionFailure  Event = "INTERACTION_FAILURE"
	EventRateLimitDetected   Event = "RATE_LIMIT_DETECTED"
	EventSessionStart        Event = "SESSION_START"
	EventSessionCrash        Event = "SESSION_CRASH"
	EventSessionRecovered    Event = "SESSION_RECOVERED"
	EventAuthSuccess         Event = "AUTH_SUCCESS"
	EventAuthFailure         Event = "AUTH_FAILURE"
	EventSuspiciousActivity  Event = "SUSPICIOUS_ACTIVITY_DETECTED"
	EventBehaviorSimulation  Event = "HUMAN_BEHAVIOR_SIMULATION"
	EventRecoveryAttempt     Event = "RECOVERY_ATTEMPT"
	EventPerformanceMetrics  Event = "PERFORMANCE_METRICS"
)

const redactedPlaceholder = "[REDACTED]"

// Fields are structured event attributes. Values under keys that look
// like user content (message/content/body) are replaced with a fixed
// placeholder before emission.
type Fields map[string]any

type Logger struct {
	log       *logrus.Logger
	component string
}

func New(out io.Writer, level logrus.Level) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &Logger{log: l}
}

// Nop returns a logger that discards everything; test constructors use
// it when event output is not under assertion.
func Nop() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return &Logger{log: l}
}

func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{log: l.log, component: name}
}

// Event emits a taxonomy event at its default severity.
func (l *Logger) Event(event Event, fields Fields) {
	entry := l.entry(event, fields)

	switch severityFor(event) {
	case logrus.ErrorLevel:
		entry.Error(string(event))
	case logrus.WarnLevel:
		entry.Warn(string(event))
	case logrus.DebugLevel:
		entry.Debug(string(event))
	default:
		entry.Info(string(event))
	}
}

// Debugf and Warnf cover operational chatter outside the event
// taxonomy.
func (l *Logger) Debugf(format string, args ...any) {
	l.scoped().Debugf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.scoped().Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.scoped().Errorf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.scoped().Infof(format, args...)
}

func (l *Logger) entry(event Event, fields Fields) *logrus.Entry {
	entry := l.scoped().WithField("event", string(event))
	for key, value := range Redact(fields) {
		entry = entry.WithField(key, value)
	}

	return entry
}

func (l *Logger) scoped() *logrus.Entry {
	if l.component == "" {
		return logrus.NewEntry(l.log)
	}

	return l.log.WithField("component", l.component)
}

func severityFor(event Event) logrus.Level {
	switch event {
	case EventInteractionFailure, EventSessionCrash, EventAuthFailure:
		return logrus.ErrorLevel
	case EventRateLimitDetected, EventSuspiciousActivity, EventRecoveryAttempt:
		return logrus.WarnLevel
	case EventBehaviorSimulation, EventPerformanceMetrics:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Redact returns a copy of fields with any key that names user content
// replaced by the placeholder. The input map is never mutated.
func Redact(fields Fields) Fields {
	if len(fields) == 0 {
		return nil
	}

	out := make(Fields, len(fields))
	for key, value := range fields {
		if isSensitiveKey(key) {
			out[key] = redactedPlaceholder
			continue
		}
		out[key] = value
	}

	return out
}

func isSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, marker := range []string{"message", "content", "body"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}

	return false
}
