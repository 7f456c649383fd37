package domain

import "errors"

var (
	ErrNilTask             = errors.New("task function is nil")
	ErrJobNotFound         = errors.New("job not found")
	ErrHealSessionNotFound = errors.New("heal session not found")
	ErrHealCancelled       = errors.New("authorization cancelled by operator")
	ErrHealTimeout         = errors.New("authorization wait timed out")
	ErrSessionUnavailable  = errors.New("automation session unavailable")
	ErrNotConfigured       = errors.New("control plane not configured")
	ErrCircuitOpen         = errors.New("control plane circuit open")
)
