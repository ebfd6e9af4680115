// Package jobs implements a Redis-backed delayed job queue with at-least-once
// delivery. Jobs carry a delay and execute no earlier than enqueue time plus
// delay; each registered job name runs with exactly one in-flight execution,
// serializing work per type. Pending jobs survive process restarts.
package jobs

import (
	"encoding/json"
	"time"
)

// Options controls scheduling and retry behavior for an enqueued job.
type Options struct {
	// Delay postpones execution; zero means the job is ready immediately.
	Delay time.Duration

	// Attempts is the maximum number of executions before the job is parked
	// in the failed set. Zero means one attempt.
	Attempts int

	// Backoff is the initial retry delay; it doubles on every further
	// attempt.
	Backoff time.Duration

	// KeepCompleted retains the job record after success for inspection.
	// By default completed jobs are removed.
	KeepCompleted bool
}

// Job is a unit of work persisted in Redis.
type Job struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Data          json.RawMessage `json:"data"`
	AttemptsMade  int             `json:"attempts_made"`
	MaxAttempts   int             `json:"max_attempts"`
	BackoffMS     int64           `json:"backoff_ms"`
	KeepCompleted bool            `json:"keep_completed,omitempty"`
	EnqueuedAt    int64           `json:"enqueued_at"`

	retry bool
}

// Retry asks the queue to re-run this job after its backoff, regardless of
// the handler's return value. Attempt accounting still applies.
func (j *Job) Retry() {
	j.retry = true
}

// WillRetry reports whether Retry was called during the current execution.
func (j *Job) WillRetry() bool {
	return j.retry
}

// nextBackoff returns the delay before the given attempt re-runs.
// Exponential: backoff * 2^(attempt-1).
func (j *Job) nextBackoff() time.Duration {
	backoff := time.Duration(j.BackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = time.Second
	}
	for i := 1; i < j.AttemptsMade; i++ {
		backoff *= 2
	}
	return backoff
}
