package domain

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Settled reports whether the status is terminal. A job only moves
// forward: queued -> running -> succeeded|failed.
func (s JobStatus) Settled() bool {
	return s == JobSucceeded || s == JobFailed
}

type JobMeta struct {
	Type   string
	Target string
}

// Job is one unit of queued work. It is owned exclusively by the
// interaction queue; callers observe it through status/result lookups.
type Job struct {
	ID         string
	Meta       JobMeta
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Status     JobStatus
	Result     any
	Err        error
}

// JobResult is the settled view of a job returned by result lookups.
type JobResult struct {
	Status JobStatus
	Result any
	Err    error
}
