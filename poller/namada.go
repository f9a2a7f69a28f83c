package poller

import (
	"context"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/chains/tendermint"
)

// NamadaPoller matches the shielded destination's IBC acknowledgement. The
// tracker is blind to shielded internals; only the IBC envelope in the block
// finalization events is observable.
type NamadaPoller struct {
	client tendermint.Client
	logger log.Logger
}

// NewNamadaPoller builds a poller over a Namada RPC client.
func NewNamadaPoller(client tendermint.Client, logger log.Logger) *NamadaPoller {
	return &NamadaPoller{
		client: client,
		logger: logger.With(log.ModuleKey, "namada-poller"),
	}
}

// NamadaDepositParams matches the inbound forward from Noble.
type NamadaDepositParams struct {
	PollParams

	ForwardingAddress string
	NamadaReceiver    string
	ExpectedAmount    string
}

// PollForDeposit scans Namada end_block_events. Each block gets two passes:
// the first reads the inner-tx-hash off the message event, the second
// requires a successful write_acknowledgement whose packet data matches the
// forward. The inner hash travels in a separate message event, never on the
// acknowledgement itself, which is why the match alone is not enough.
func (p *NamadaPoller) PollForDeposit(ctx context.Context, params NamadaDepositParams, onUpdate OnUpdate) PollResult {
	var innerTxHash string

	height, found := scanBlocks(ctx, p.logger, p.client, params.PollParams, func(res *tendermint.BlockResults) bool {
		events := res.EndBlockEvents

		blockInnerHash := ""
		for _, ev := range events {
			if ev.Type != EventTypeMessage {
				continue
			}
			if hash, ok := eventAttr(ev, AttributeKeyInnerTxHash); ok && hash != "" {
				blockInnerHash = hash
				break
			}
		}

		for _, ev := range events {
			if ev.Type != EventTypeWriteAck {
				continue
			}
			ack, ok := eventAttr(ev, AttributeKeyPacketAck)
			if !ok || !isSuccessAck(ack) {
				continue
			}
			raw, ok := eventAttr(ev, AttributeKeyPacketData)
			if !ok {
				continue
			}
			pd, ok := decodePacketData(raw)
			if !ok {
				continue
			}
			if pd.Sender != params.ForwardingAddress ||
				pd.Receiver != params.NamadaReceiver ||
				pd.Denom != DenomUusdc ||
				!amountsEqual(pd.Amount, params.ExpectedAmount) {
				continue
			}

			innerTxHash = blockInnerHash
			return true
		}
		return false
	})

	if !found {
		return PollResult{}
	}
	return PollResult{Found: true, TxHash: innerTxHash, BlockHeight: height}
}
