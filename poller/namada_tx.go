package poller

import (
	"context"

	"github.com/stablepath/flowtrack/utils"
)

// NamadaTxParams confirms the initiating IBC send transaction on Namada.
type NamadaTxParams struct {
	PollParams

	TxHash string
}

// PollIBCSent waits for the Namada transaction to be committed. A committed
// transaction that executed with an error ends the run without a match; the
// send cannot succeed retroactively.
func (p *NamadaPoller) PollIBCSent(ctx context.Context, params NamadaTxParams, _ OnUpdate) PollResult {
	deadline := deadlineFrom(params.Timeout)

	for {
		if ctx.Err() != nil || expired(deadline) {
			return PollResult{}
		}

		tx, err := p.client.Transaction(ctx, params.TxHash)
		if err != nil {
			p.logger.Warn("tx read failed", "flow_id", params.FlowID, "tx_hash", params.TxHash, "error", err.Error())
			if !sleep(ctx, params.Interval) {
				return PollResult{}
			}
			continue
		}
		if tx == nil {
			if !sleep(ctx, params.Interval) {
				return PollResult{}
			}
			continue
		}

		if !tx.Success() {
			p.logger.Warn("namada ibc transaction failed on chain",
				"flow_id", params.FlowID, "tx_hash", params.TxHash, "code", tx.TxResult.Code)
			return PollResult{}
		}
		height, err := utils.SafeUint64(tx.Height)
		if err != nil {
			p.logger.Error("negative tx height", "height", tx.Height)
			return PollResult{}
		}
		return PollResult{Found: true, TxHash: params.TxHash, BlockHeight: height}
	}
}
