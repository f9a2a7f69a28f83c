package testutil

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/stablepath/flowtrack/chains/evm"
)

// ScriptedEVM is an in-memory evm.Client. FilterLogs applies the query's
// block range, address and topic filters against the scripted logs.
type ScriptedEVM struct {
	mu sync.Mutex

	tip      uint64
	logs     []ethtypes.Log
	receipts map[common.Hash]*ethtypes.Receipt

	tipErr error
}

var _ evm.Client = (*ScriptedEVM)(nil)

// NewScriptedEVM starts the chain at the given tip.
func NewScriptedEVM(tip uint64) *ScriptedEVM {
	return &ScriptedEVM{
		tip:      tip,
		receipts: make(map[common.Hash]*ethtypes.Receipt),
	}
}

// SetTip moves the chain tip.
func (s *ScriptedEVM) SetTip(tip uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tip = tip
}

// SetTipError makes BlockNumber fail until cleared with a nil error.
func (s *ScriptedEVM) SetTipError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tipErr = err
}

// AddLog scripts one log and advances the tip to cover its block.
func (s *ScriptedEVM) AddLog(lg ethtypes.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, lg)
	if lg.BlockNumber > s.tip {
		s.tip = lg.BlockNumber
	}
}

// AddReceipt scripts a receipt for a transaction hash.
func (s *ScriptedEVM) AddReceipt(hash common.Hash, receipt *ethtypes.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[hash] = receipt
}

func (s *ScriptedEVM) BlockNumber(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tipErr != nil {
		return 0, s.tipErr
	}
	return s.tip, nil
}

func (s *ScriptedEVM) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ethtypes.Log
	for _, lg := range s.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, lg.Address) {
			continue
		}
		if !topicsMatch(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (s *ScriptedEVM) TransactionByHash(context.Context, common.Hash) (*ethtypes.Transaction, bool, error) {
	return nil, false, nil
}

func (s *ScriptedEVM) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipts[hash], nil
}

func containsAddress(addrs []common.Address, addr common.Address) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		matched := false
		for _, alt := range alternatives {
			if topics[i] == alt {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
