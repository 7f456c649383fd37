package domain

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// RateLimitParams are the dynamic thresholds served by the control
// plane. Zero-valued fields mean "keep the local default".
type RateLimitParams struct {
	ActionsPerMinute int `json:"actionsPerMinute"`
	ActionsPerHour   int `json:"actionsPerHour"`
	MinActionDelayMs int `json:"minActionDelayMs"`
	MaxActionDelayMs int `json:"maxActionDelayMs"`
	CooldownMinMs    int `json:"cooldownMinMs"`
	CooldownMaxMs    int `json:"cooldownMaxMs"`
}

// Deployment identifies this engine instance to the control plane.
type Deployment struct {
	ID                 string `json:"deploymentId"`
	ControlPlaneAPIKey string `json:"controlPlaneApiKey"`
}
