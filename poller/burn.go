package poller

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// BurnParams confirms the initiating CCTP burn transaction on the EVM side.
type BurnParams struct {
	PollParams

	TxHash       string
	TokenAddress string
}

// PollBurnConfirmation waits for the burn transaction's receipt. The match
// requires a successful receipt carrying a Transfer-to-zero log from the
// token contract; a mined-but-failed burn ends the run without a match
// immediately instead of burning the stage budget.
func (p *EVMPoller) PollBurnConfirmation(ctx context.Context, params BurnParams, _ OnUpdate) PollResult {
	hash := common.HexToHash(params.TxHash)
	token := common.HexToAddress(params.TokenAddress)
	deadline := deadlineFrom(params.Timeout)

	for {
		if ctx.Err() != nil || expired(deadline) {
			return PollResult{}
		}

		receipt, err := p.client.TransactionReceipt(ctx, hash)
		if err != nil {
			p.logger.Warn("receipt read failed", "flow_id", params.FlowID, "tx_hash", params.TxHash, "error", err.Error())
			if !sleep(ctx, params.Interval) {
				return PollResult{}
			}
			continue
		}
		if receipt == nil {
			// still unmined
			if !sleep(ctx, params.Interval) {
				return PollResult{}
			}
			continue
		}

		if receipt.Status != ethtypes.ReceiptStatusSuccessful || !hasBurnLog(receipt, token) {
			p.logger.Warn("burn transaction mined without a burn log",
				"flow_id", params.FlowID, "tx_hash", params.TxHash, "receipt_status", receipt.Status)
			return PollResult{}
		}
		return PollResult{Found: true, TxHash: params.TxHash, BlockHeight: receipt.BlockNumber.Uint64()}
	}
}

// hasBurnLog reports whether the receipt carries an ERC-20 Transfer to the
// zero address emitted by token.
func hasBurnLog(receipt *ethtypes.Receipt, token common.Address) bool {
	for _, lg := range receipt.Logs {
		if lg.Address != token || len(lg.Topics) != 3 {
			continue
		}
		if lg.Topics[0] == transferEventSig && lg.Topics[2] == (common.Hash{}) {
			return true
		}
	}
	return false
}
