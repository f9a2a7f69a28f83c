// Package queue is the durable job layer between flow registration and the
// tracker engine: one job per flow, bounded concurrency, retry with backoff
// for infrastructure failures, and a startup sweep that re-enqueues every
// unfinished flow.
package queue

import (
	"context"
	"time"

	"github.com/stablepath/flowtrack/types"
)

// Task and queue identity shared by the asynq and in-process backends.
const (
	TaskTypeTrackFlow = "flow:track"
	QueueName         = "flows"

	// WorkerConcurrency caps simultaneous engine runs per process.
	WorkerConcurrency = 5
	// JobsPerSecond is the token-bucket rate applied before each run.
	JobsPerSecond = 10
	// MaxRetry covers infrastructure failures; stage verdicts never retry.
	MaxRetry = 3
	// RetryBaseDelay is doubled per attempt.
	RetryBaseDelay = 2 * time.Second
	// CompletedRetention keeps finished jobs inspectable.
	CompletedRetention = 24 * time.Hour
	// ResumeDelay spaces the startup sweep behind process boot.
	ResumeDelay = time.Second
)

// TrackPayload is the job body: enough to load the flow and re-derive its
// matching parameters.
type TrackPayload struct {
	FlowID   string                   `json:"flowId"`
	FlowType types.FlowType           `json:"flowType"`
	Params   types.FlowTrackingParams `json:"params"`
}

// Handler runs one tracking job. Returning an error feeds the queue's retry
// policy; handlers absorb stage verdicts and return nil once the flow's
// terminal state is recorded.
type Handler func(ctx context.Context, payload TrackPayload) error

// JobInfo is one job's queue-side state, surfaced on /flow/:id/job.
type JobInfo struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Retried   int    `json:"retried"`
	MaxRetry  int    `json:"maxRetry"`
	LastError string `json:"lastError,omitempty"`
}

// Queue abstracts the durable backend. Enqueue operations are idempotent on
// task id; duplicate ids report success without a second job.
type Queue interface {
	// EnqueueTrack enqueues the initial tracking job for a flow under task
	// id "track-<flowId>".
	EnqueueTrack(ctx context.Context, flow *types.Flow) error

	// EnqueueResume enqueues a delayed re-run under task id
	// "resume-<flowId>-<unix ms>".
	EnqueueResume(ctx context.Context, flow *types.Flow, delay time.Duration) error

	// JobStates lists the jobs the queue holds for one flow.
	JobStates(ctx context.Context, flowID string) ([]JobInfo, error)

	// Start serves jobs until ctx is cancelled.
	Start(ctx context.Context) error

	// Ping verifies the queue backend is reachable.
	Ping(ctx context.Context) error
}
