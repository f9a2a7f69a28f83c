package queue

import (
	"context"

	"github.com/pkg/errors"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/store"
	"github.com/stablepath/flowtrack/tracker"
)

// TrackHandler builds the worker's job handler: load the flow, short-circuit
// when its status is already terminal, otherwise run the tracker engine to
// completion. Errors returned here feed queue retry; stage verdicts are
// absorbed by the engine and never retried.
func TrackHandler(st store.Store, engine *tracker.Engine, logger log.Logger) Handler {
	logger = logger.With(log.ModuleKey, "worker")

	return func(ctx context.Context, payload TrackPayload) error {
		flow, err := st.GetFlow(ctx, payload.FlowID)
		if errors.Is(err, store.ErrNotFound) {
			// A job for a deleted flow cannot succeed later either.
			logger.Warn("job references unknown flow", "flow_id", payload.FlowID)
			return nil
		}
		if err != nil {
			return err
		}
		if flow.Status.Terminal() {
			logger.Debug("flow already terminal, acking job", "flow_id", flow.ID, "status", flow.Status)
			return nil
		}

		if err := engine.Run(ctx, flow); err != nil {
			if errors.Is(err, tracker.ErrFlowActive) {
				// A concurrent run in this process owns the flow; this job
				// is the duplicate the resume sweep tolerates.
				logger.Debug("flow already active, acking duplicate job", "flow_id", flow.ID)
				return nil
			}
			return err
		}
		return nil
	}
}
