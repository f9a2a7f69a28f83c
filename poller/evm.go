package poller

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/chains/evm"
	"github.com/stablepath/flowtrack/metrics"
)

// transferEventSig is keccak("Transfer(address,address,uint256)").
var transferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// maxLogRangeBlocks caps eth_getLogs ranges; public providers reject wide
// windows.
const maxLogRangeBlocks = 1000

// EVMPoller matches the EVM mint leg of both flow shapes.
type EVMPoller struct {
	client evm.Client
	logger log.Logger
}

// NewEVMPoller builds a poller over an EVM RPC client.
func NewEVMPoller(client evm.Client, logger log.Logger) *EVMPoller {
	return &EVMPoller{
		client: client,
		logger: logger.With(log.ModuleKey, "evm-poller"),
	}
}

// UsdcMintParams matches an ERC-20 mint: a Transfer from the zero address to
// Recipient on TokenAddress whose value equals AmountBaseUnits exactly.
type UsdcMintParams struct {
	PollParams

	TokenAddress    string
	Recipient       string
	AmountBaseUnits string
}

// PollUsdcMint follows the chain tip from StartBlock and filters Transfer
// logs until one matches. A failed range query is retried on the next pass
// rather than skipped; unlike per-height Tendermint scans, skipping a log
// range would lose the match for good.
func (p *EVMPoller) PollUsdcMint(ctx context.Context, params UsdcMintParams, _ OnUpdate) PollResult {
	expected, err := uint256.FromDecimal(params.AmountBaseUnits)
	if err != nil {
		p.logger.Error("invalid expected amount", "flow_id", params.FlowID, "amount", params.AmountBaseUnits, "error", err.Error())
		return PollResult{}
	}

	token := common.HexToAddress(params.TokenAddress)
	recipient := common.HexToAddress(params.Recipient)
	topics := [][]common.Hash{
		{transferEventSig},
		{{}}, // from: the zero address
		{common.BytesToHash(recipient.Bytes())},
	}

	deadline := deadlineFrom(params.Timeout)
	next := params.StartBlock

	for {
		if ctx.Err() != nil || expired(deadline) {
			return PollResult{}
		}

		tip, err := p.client.BlockNumber(ctx)
		if err != nil {
			p.logger.Warn("tip read failed", "flow_id", params.FlowID, "chain_id", params.ChainID, "error", err.Error())
			metrics.ScanErrors.WithLabelValues(params.ChainID).Inc()
			if !sleep(ctx, params.Interval) {
				return PollResult{}
			}
			continue
		}

		for next <= tip {
			if ctx.Err() != nil || expired(deadline) {
				return PollResult{}
			}

			to := next + maxLogRangeBlocks - 1
			if to > tip {
				to = tip
			}

			logs, err := p.client.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(next),
				ToBlock:   new(big.Int).SetUint64(to),
				Addresses: []common.Address{token},
				Topics:    topics,
			})
			if err != nil {
				p.logger.Warn("log filter failed", "flow_id", params.FlowID, "chain_id", params.ChainID, "from", next, "to", to, "error", err.Error())
				metrics.ScanErrors.WithLabelValues(params.ChainID).Inc()
				if !sleep(ctx, params.Interval) {
					return PollResult{}
				}
				break
			}

			for _, lg := range logs {
				if len(lg.Data) != 32 {
					continue
				}
				if new(uint256.Int).SetBytes(lg.Data).Eq(expected) {
					return PollResult{Found: true, TxHash: lg.TxHash.Hex(), BlockHeight: lg.BlockNumber}
				}
			}

			metrics.BlocksScanned.WithLabelValues(params.ChainID).Add(float64(to - next + 1))
			next = to + 1

			if !sleep(ctx, params.BlockRequestDelay) {
				return PollResult{}
			}
		}

		if !sleep(ctx, params.Interval) {
			return PollResult{}
		}
	}
}
