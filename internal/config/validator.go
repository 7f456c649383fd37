package config

import "fmt"

// Report is the outcome of validating a Settings snapshot. Errors make
// the configuration unusable (fatal in production); warnings fall back
// to defaults; recommendations are advisory and never enforced.
type Report struct {
	Errors          []string
	Warnings        []string
	Recommendations []string
}

func (r Report) OK() bool {
	return len(r.Errors) == 0
}

type rangeRule struct {
	name  string
	value float64
	min   float64
	max   float64
}

// Validate checks every operating parameter against its valid range,
// plus cross-field consistency and environment appropriateness. It is
// run at startup and may be re-run on demand after updates.
func Validate(s Settings) Report {
	var report Report

	rules := []rangeRule{
		{"actions_per_minute", float64(s.ActionsPerMinute), 1, 60},
		{"actions_per_hour", float64(s.ActionsPerHour), 1, 1000},
		{"min_action_delay_ms", float64(s.MinActionDelayMs), 100, 60_000},
		{"max_action_delay_ms", float64(s.MaxActionDelayMs), 200, 120_000},
		{"cooldown_min_ms", float64(s.CooldownMinMs), 1000, 600_000},
		{"cooldown_max_ms", float64(s.CooldownMaxMs), 1000, 3_600_000},
		{"queue_concurrency", float64(s.QueueConcurrency), 1, 10},
		{"job_retention_minutes", float64(s.JobRetentionMinutes), 1, 1440},
		{"max_session_errors", float64(s.MaxSessionErrors), 1, 20},
		{"health_check_interval_seconds", float64(s.HealthCheckIntervalSeconds), 5, 3600},
		{"heal_poll_interval_ms", float64(s.HealPollIntervalMs), 100, 10_000},
		{"heal_timeout_minutes", float64(s.HealTimeoutMinutes), 1, 240},
		{"sync_ttl_minutes", float64(s.SyncTTLMinutes), 1, 60},
		{"request_timeout_seconds", float64(s.RequestTimeoutSeconds), 1, 30},
		{"retry_attempts", float64(s.RetryAttempts), 0, 10},
		{"typo_probability", s.TypoProbability, 0, 0.1},
		{"reading_wpm", float64(s.ReadingWPM), 100, 600},
	}

	for _, rule := range rules {
		if rule.value == 0 && rule.min > 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s is not set; default applies", rule.name))
			continue
		}
		if rule.value < rule.min || rule.value > rule.max {
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s=%v is outside valid range [%v, %v]", rule.name, rule.value, rule.min, rule.max))
		}
	}

	if s.MinActionDelayMs >= s.MaxActionDelayMs {
		report.Errors = append(report.Errors,
			fmt.Sprintf("min_action_delay_ms (%d) must be less than max_action_delay_ms (%d)", s.MinActionDelayMs, s.MaxActionDelayMs))
	}
	if s.CooldownMinMs > s.CooldownMaxMs {
		report.Errors = append(report.Errors,
			fmt.Sprintf("cooldown_min_ms (%d) must not exceed cooldown_max_ms (%d)", s.CooldownMinMs, s.CooldownMaxMs))
	}
	if s.ActionsPerHour < s.ActionsPerMinute*60 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("actions_per_hour (%d) is below actions_per_minute x 60 (%d); the hourly budget will bind first", s.ActionsPerHour, s.ActionsPerMinute*60))
	}

	if s.IsProduction() && s.DebugLogging {
		report.Warnings = append(report.Warnings,
			"debug_logging is enabled in production")
	}

	if s.RetryAttempts < 2 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("retry_attempts=%d is low; consider raising it for transient control-plane failures", s.RetryAttempts))
	}
	if s.TypoProbability > 0.05 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("typo_probability=%.3f is high; frequent corrections can look unnatural", s.TypoProbability))
	}

	return report
}
