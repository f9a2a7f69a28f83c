package poller

import (
	"context"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/chains/tendermint"
	"github.com/stablepath/flowtrack/metrics"
	"github.com/stablepath/flowtrack/utils"
)

// blockVisitor inspects one block's results and reports whether the poll run
// is complete.
type blockVisitor func(res *tendermint.BlockResults) bool

// scanBlocks drives the shared Tendermint scanning protocol: follow the tip
// from params.StartBlock, visit every height exactly once, advance past
// per-height errors, and stop on match, deadline or cancellation. It returns
// the height at which the visitor finished, or found=false when the run
// ended without a match.
func scanBlocks(ctx context.Context, logger log.Logger, client tendermint.Client, params PollParams, visit blockVisitor) (uint64, bool) {
	deadline := deadlineFrom(params.Timeout)

	next, err := utils.SafeInt64(params.StartBlock)
	if err != nil {
		logger.Error("invalid start block", "flow_id", params.FlowID, "start_block", params.StartBlock, "error", err.Error())
		return 0, false
	}

	for {
		if ctx.Err() != nil || expired(deadline) {
			return 0, false
		}

		tip, err := client.LatestBlockHeight(ctx)
		if err != nil {
			// Tip reads failing transiently must not end the stage; the
			// deadline bounds how long this can go on.
			logger.Warn("tip read failed", "flow_id", params.FlowID, "chain_id", params.ChainID, "error", err.Error())
			metrics.ScanErrors.WithLabelValues(params.ChainID).Inc()
			if !sleep(ctx, params.Interval) {
				return 0, false
			}
			continue
		}

		for next <= tip {
			if ctx.Err() != nil || expired(deadline) {
				return 0, false
			}

			res, err := client.BlockResults(ctx, next)
			if err != nil {
				// Permanent fault for this height, or retries exhausted:
				// either way the scan advances rather than stalls.
				logger.Warn("block results failed, advancing", "flow_id", params.FlowID, "chain_id", params.ChainID, "height", next, "error", err.Error())
				metrics.ScanErrors.WithLabelValues(params.ChainID).Inc()
				next++
				continue
			}
			if res == nil {
				// Height not yet available on this node; fall back to tip
				// polling.
				break
			}

			metrics.BlocksScanned.WithLabelValues(params.ChainID).Inc()
			matchedHeight, err := utils.SafeUint64(res.Height)
			if err != nil {
				logger.Error("negative block height", "height", res.Height)
				next++
				continue
			}
			if visit(res) {
				return matchedHeight, true
			}
			next++

			if !sleep(ctx, params.BlockRequestDelay) {
				return 0, false
			}
		}

		if !sleep(ctx, params.Interval) {
			return 0, false
		}
	}
}
