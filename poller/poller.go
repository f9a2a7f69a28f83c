// Package poller implements the per-chain event matchers. Pollers are
// stateless and reentrant: they scan blocks from a start height, match the
// events of exactly one flow, and return the first match. Cancellation is
// cooperative and checked at every loop iteration and fetch boundary.
package poller

import (
	"context"
	"time"
)

// PollParams carries the scheduling envelope of one poll run. Matching
// parameters travel in the per-poller param structs embedding this.
type PollParams struct {
	FlowID  string
	ChainID string

	// StartBlock is the first height to scan; resolved once per (flow,
	// chain) by the engine and never re-derived.
	StartBlock uint64

	// Timeout bounds the whole run; zero means no self-imposed deadline.
	Timeout time.Duration
	// Interval is the sleep between tip polls when caught up.
	Interval time.Duration
	// BlockRequestDelay is the sleep between consecutive block fetches.
	BlockRequestDelay time.Duration
}

// PollResult reports the outcome of a poll run. Found is false when the run
// ended by deadline or cancellation.
type PollResult struct {
	Found       bool
	TxHash      string
	BlockHeight uint64
}

// StageUpdate notifies the engine of one latched condition before the poll
// run finishes; multi-condition pollers fire it once per condition, in
// observation order.
type StageUpdate struct {
	Stage   string
	TxHash  string
	Height  uint64
	Message string
}

// OnUpdate receives StageUpdates; nil is allowed.
type OnUpdate func(StageUpdate)

func (f OnUpdate) emit(u StageUpdate) {
	if f != nil {
		f(u)
	}
}

// deadlineFrom converts a timeout to an absolute deadline; the zero time
// means unbounded.
func deadlineFrom(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

// sleep waits for d unless ctx is cancelled first; it reports whether the
// caller should keep running.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
