// Package status renders the engine's state for the terminal.
package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mfields/cadence/internal/domain"
)

// Snapshot is everything the status command shows, sampled once by
// the caller so all sections describe the same instant.
type Snapshot struct {
	Environment        string
	SessionState       string
	Health             domain.SessionHealthStatus
	MaxSessionErrors   int
	QueueWaiting       int
	QueueRunning       int
	ConsecutiveActions int
	ControlPlaneSet    bool
	Circuit            domain.CircuitState
	Pending            []domain.HealSession
}

type RenderOptions struct {
	Now time.Time
}

func renderView(snapshot Snapshot, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Cadence Engine Status"),
		s.header.Render(fmt.Sprintf("environment: %s", snapshot.Environment)),
		s.section.Render(renderSession(snapshot, s)),
		s.section.Render(renderQueue(snapshot, s)),
		s.section.Render(renderControlPlane(snapshot, s)),
		s.section.Render(renderPending(snapshot, opts, s)),
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSession(snapshot Snapshot, s styles) string {
	parts := []string{
		lipgloss.JoinHorizontal(lipgloss.Top,
			s.label.Render("session: "),
			stateStyle(snapshot.SessionState, s).Render(snapshot.SessionState),
		),
	}

	health := snapshot.Health
	if !health.IsActive {
		parts = append(parts, s.empty.Render("no browser session"))
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	}

	if health.CurrentURL != "" {
		parts = append(parts, s.value.Render("url: "+health.CurrentURL))
	}
	parts = append(parts,
		s.value.Render(fmt.Sprintf("age: %s, authenticated: %t", formatDuration(health.SessionAge), health.IsAuthenticated)),
		errorLine(health.ErrorCount, snapshot.MaxSessionErrors, s),
		s.value.Render(fmt.Sprintf("heap: %.1f MiB", float64(health.MemoryBytes)/(1024*1024))),
	)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderQueue(snapshot Snapshot, s styles) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		s.label.Render("queue:"),
		s.value.Render(fmt.Sprintf("waiting: %d, running: %d", snapshot.QueueWaiting, snapshot.QueueRunning)),
		s.value.Render(fmt.Sprintf("actions since cooldown: %d", snapshot.ConsecutiveActions)),
	)
}

func renderControlPlane(snapshot Snapshot, s styles) string {
	if !snapshot.ControlPlaneSet {
		return lipgloss.JoinVertical(lipgloss.Left,
			s.label.Render("control plane:"),
			s.empty.Render("not configured"),
		)
	}

	var circuitStyle lipgloss.Style
	switch snapshot.Circuit {
	case domain.CircuitOpen:
		circuitStyle = s.bad
	case domain.CircuitHalfOpen:
		circuitStyle = s.warning
	default:
		circuitStyle = s.good
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		s.label.Render("control plane:"),
		lipgloss.JoinHorizontal(lipgloss.Top,
			s.value.Render("circuit: "),
			circuitStyle.Render(string(snapshot.Circuit)),
		),
	)
}

func renderPending(snapshot Snapshot, opts RenderOptions, s styles) string {
	lines := []string{s.label.Render(fmt.Sprintf("pending authorizations: %d", len(snapshot.Pending)))}

	if len(snapshot.Pending) == 0 {
		lines = append(lines, s.empty.Render("none"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, session := range snapshot.Pending {
		line := session.SessionID
		if !opts.Now.IsZero() {
			line += fmt.Sprintf(" (waiting %s)", formatDuration(opts.Now.Sub(session.Timestamp)))
		}
		lines = append(lines, s.warning.Render(line))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func errorLine(errorCount, ceiling int, s styles) string {
	if ceiling <= 0 {
		return s.value.Render(fmt.Sprintf("errors: %d", errorCount))
	}

	percent := float64(errorCount) / float64(ceiling) * 100
	bar := renderErrorBar(percent, 12, s)
	text := fmt.Sprintf("%d/%d", errorCount, ceiling)
	style := s.value
	if errorCount >= ceiling {
		style = s.bad
	} else if percent >= 50 {
		style = s.warning
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		s.value.Render("errors: "),
		bar,
		" ",
		style.Render(text),
	)
}

func renderErrorBar(percent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(math.Round(float64(width) * percent / 100))
	if filled > width {
		filled = width
	}
	empty := width - filled

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", empty)),
		s.barBracket.Render("]"),
	)
}

func stateStyle(state string, s styles) lipgloss.Style {
	switch state {
	case "active-healthy":
		return s.good
	case "active-unhealthy", "recovering":
		return s.warning
	default:
		return s.empty
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}

	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
