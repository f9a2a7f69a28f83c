package poller

import (
	"context"

	"cosmossdk.io/log"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/stablepath/flowtrack/chains/tendermint"
	"github.com/stablepath/flowtrack/types"
)

// NoblePoller matches the Noble hub legs of both flow shapes.
type NoblePoller struct {
	client tendermint.Client
	logger log.Logger
}

// NewNoblePoller builds a poller over a Noble RPC client.
func NewNoblePoller(client tendermint.Client, logger log.Logger) *NoblePoller {
	return &NoblePoller{
		client: client,
		logger: logger.With(log.ModuleKey, "noble-poller"),
	}
}

// NobleDepositParams matches the deposit leg: CCTP minted USDC landing on
// the forwarding address, then IBC-forwarded to the Namada receiver.
type NobleDepositParams struct {
	PollParams

	ForwardingAddress   string
	NamadaReceiver      string
	ExpectedAmountUusdc string
}

// PollForDeposit scans until both deposit conditions have latched: a
// transactional coin_received of the expected amount on the forwarding
// address, and a finalize-block ibc_transfer from the forwarding address to
// the Namada receiver. The conditions may land at the same or different
// heights; each latches once observed and fires onUpdate exactly once.
func (p *NoblePoller) PollForDeposit(ctx context.Context, params NobleDepositParams, onUpdate OnUpdate) PollResult {
	var coinReceived, ibcForwarded bool

	height, found := scanBlocks(ctx, p.logger, p.client, params.PollParams, func(res *tendermint.BlockResults) bool {
		blockHeight := uint64(res.Height) // #nosec G115 -- scanBlocks rejects negative heights

		if !coinReceived {
			for _, tr := range res.TxsResults {
				if tr.Code != 0 {
					continue
				}
				for _, ev := range tr.Events {
					if p.matchCoinReceived(ev, params) {
						coinReceived = true
						onUpdate.emit(StageUpdate{Stage: types.StageNobleCCTPMinted, Height: blockHeight})
						break
					}
				}
				if coinReceived {
					break
				}
			}
		}

		if !ibcForwarded {
			// The forward fires outside the user transaction; Noble emits it
			// among the block finalization events.
			for _, ev := range nonTxEvents(res) {
				if p.matchIBCTransfer(ev, params) {
					ibcForwarded = true
					onUpdate.emit(StageUpdate{Stage: types.StageNobleIBCForwarded, Height: blockHeight})
					break
				}
			}
		}

		return coinReceived && ibcForwarded
	})

	if !found {
		return PollResult{}
	}
	return PollResult{Found: true, BlockHeight: height}
}

func (p *NoblePoller) matchCoinReceived(ev abci.Event, params NobleDepositParams) bool {
	if ev.Type != EventTypeCoinReceived {
		return false
	}
	receiver, ok := eventAttr(ev, AttributeKeyReceiver)
	if !ok || receiver != params.ForwardingAddress {
		return false
	}
	amount, ok := eventAttr(ev, AttributeKeyAmount)
	return ok && amount == params.ExpectedAmountUusdc
}

func (p *NoblePoller) matchIBCTransfer(ev abci.Event, params NobleDepositParams) bool {
	if ev.Type != EventTypeIBCTransfer {
		return false
	}
	sender, _ := eventAttr(ev, AttributeKeySender)
	receiver, _ := eventAttr(ev, AttributeKeyReceiver)
	denom, _ := eventAttr(ev, AttributeKeyDenom)
	return sender == params.ForwardingAddress &&
		receiver == params.NamadaReceiver &&
		denom == DenomUusdc
}

// NobleOrbiterParams matches the payment leg: the Namada-originated IBC
// packet acknowledged on Noble, and the orbiter's CCTP burn toward the EVM
// destination.
type NobleOrbiterParams struct {
	PollParams

	// Receiver and MemoJSON identify the inbound ICS-20 packet.
	Receiver string
	Amount   string
	MemoJSON string

	// CCTP burn identity.
	DestinationCallerB64 string
	MintRecipientB64     string
	DestinationDomain    string
}

// PollForOrbiter scans transactional events until both payment conditions
// have latched: a successful write_acknowledgement whose packet data matches
// the inbound transfer, and a circle.cctp.v1.DepositForBurn whose
// quote-stripped attributes match the burn identity.
func (p *NoblePoller) PollForOrbiter(ctx context.Context, params NobleOrbiterParams, onUpdate OnUpdate) PollResult {
	var acked, burned bool

	height, found := scanBlocks(ctx, p.logger, p.client, params.PollParams, func(res *tendermint.BlockResults) bool {
		blockHeight := uint64(res.Height) // #nosec G115 -- scanBlocks rejects negative heights

		for _, tr := range res.TxsResults {
			if tr.Code != 0 {
				continue
			}
			for _, ev := range tr.Events {
				if !acked && p.matchWriteAck(ev, params) {
					acked = true
					onUpdate.emit(StageUpdate{Stage: types.StageNobleIBCReceived, Height: blockHeight})
				}
				if !burned && p.matchCCTPBurn(ev, params) {
					burned = true
					onUpdate.emit(StageUpdate{Stage: types.StageNobleCCTPBurned, Height: blockHeight})
				}
			}
		}

		return acked && burned
	})

	if !found {
		return PollResult{}
	}
	return PollResult{Found: true, BlockHeight: height}
}

func (p *NoblePoller) matchWriteAck(ev abci.Event, params NobleOrbiterParams) bool {
	if ev.Type != EventTypeWriteAck {
		return false
	}
	ack, ok := eventAttr(ev, AttributeKeyPacketAck)
	if !ok || !isSuccessAck(ack) {
		return false
	}
	raw, ok := eventAttr(ev, AttributeKeyPacketData)
	if !ok {
		return false
	}
	pd, ok := decodePacketData(raw)
	if !ok {
		return false
	}
	return pd.Memo == params.MemoJSON &&
		pd.Receiver == params.Receiver &&
		amountsEqual(pd.Amount, params.Amount)
}

func (p *NoblePoller) matchCCTPBurn(ev abci.Event, params NobleOrbiterParams) bool {
	if ev.Type != EventTypeCCTPBurn {
		return false
	}
	amount, _ := eventAttr(ev, AttributeKeyAmount)
	caller, _ := eventAttr(ev, AttributeKeyDestinationCaller)
	recipient, _ := eventAttr(ev, AttributeKeyMintRecipient)
	domain, _ := eventAttr(ev, AttributeKeyDestinationDomain)
	return amountsEqual(stripQuotes(amount), params.Amount) &&
		stripQuotes(caller) == params.DestinationCallerB64 &&
		stripQuotes(recipient) == params.MintRecipientB64 &&
		stripQuotes(domain) == params.DestinationDomain
}

// nonTxEvents returns the block finalization events regardless of which
// CometBFT era shaped the response.
func nonTxEvents(res *tendermint.BlockResults) []abci.Event {
	if len(res.FinalizeBlockEvents) > 0 {
		return res.FinalizeBlockEvents
	}
	out := res.BeginBlockEvents
	if len(res.EndBlockEvents) > 0 {
		out = append(out[:len(out):len(out)], res.EndBlockEvents...)
	}
	return out
}
