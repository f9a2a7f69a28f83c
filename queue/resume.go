package queue

import (
	"context"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/store"
)

// ResumeUnfinished enqueues one delayed job per non-terminal flow; it runs
// once at process startup so flows interrupted by a crash are picked back
// up. Duplicate jobs are harmless: the supervisor lock blocks concurrent
// runs in-process and the terminal-status guard makes late re-runs no-ops.
func ResumeUnfinished(ctx context.Context, st store.Store, q Queue, logger log.Logger) (int, error) {
	flows, err := st.ListUnfinishedFlows(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, flow := range flows {
		if err := q.EnqueueResume(ctx, flow, ResumeDelay); err != nil {
			logger.Error("failed to enqueue resume job", "flow_id", flow.ID, "error", err.Error())
			continue
		}
		resumed++
	}
	if resumed > 0 {
		logger.Info("resumed unfinished flows", "count", resumed)
	}
	return resumed, nil
}
