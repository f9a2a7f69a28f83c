// Package testutil provides scripted chain backends for poller and engine
// tests. The fakes are safe for concurrent use; engine tests drive them from
// poller goroutines while the test body mutates the chain.
package testutil

import (
	"context"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/stablepath/flowtrack/chains/tendermint"
)

// ScriptedTendermint is an in-memory tendermint.Client. Heights at or below
// the tip without scripted content read as empty blocks.
type ScriptedTendermint struct {
	mu sync.Mutex

	tip    int64
	blocks map[int64]*tendermint.BlockResults
	errs   map[int64]error
	txs    map[string]*tendermint.Tx

	tipErr error
}

var _ tendermint.Client = (*ScriptedTendermint)(nil)

// NewScriptedTendermint starts the chain at the given tip height.
func NewScriptedTendermint(tip int64) *ScriptedTendermint {
	return &ScriptedTendermint{
		tip:    tip,
		blocks: make(map[int64]*tendermint.BlockResults),
		errs:   make(map[int64]error),
		txs:    make(map[string]*tendermint.Tx),
	}
}

// SetTip moves the chain tip.
func (s *ScriptedTendermint) SetTip(height int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tip = height
}

// SetTipError makes LatestBlockHeight fail until cleared with a nil error.
func (s *ScriptedTendermint) SetTipError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tipErr = err
}

// AddBlock scripts the results for one height and advances the tip when the
// height is beyond it.
func (s *ScriptedTendermint) AddBlock(res *tendermint.BlockResults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[res.Height] = res
	if res.Height > s.tip {
		s.tip = res.Height
	}
}

// FailHeight scripts an error for one height.
func (s *ScriptedTendermint) FailHeight(height int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[height] = err
}

// AddTx scripts a committed transaction.
func (s *ScriptedTendermint) AddTx(tx *tendermint.Tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.Hash] = tx
}

func (s *ScriptedTendermint) LatestBlockHeight(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tipErr != nil {
		return 0, s.tipErr
	}
	return s.tip, nil
}

func (s *ScriptedTendermint) BlockResults(_ context.Context, height int64) (*tendermint.BlockResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[height]; ok {
		return nil, err
	}
	if res, ok := s.blocks[height]; ok {
		return res, nil
	}
	if height <= s.tip {
		return &tendermint.BlockResults{Height: height}, nil
	}
	return nil, nil
}

func (s *ScriptedTendermint) Transaction(_ context.Context, hash string) (*tendermint.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs[hash], nil
}

func (s *ScriptedTendermint) SearchTransactions(_ context.Context, _ string, _, _ int) (*tendermint.TxSearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &tendermint.TxSearchResult{}
	for _, tx := range s.txs {
		out.Txs = append(out.Txs, *tx)
	}
	out.TotalCount = len(out.Txs)
	return out, nil
}

// Event builds an abci.Event from alternating key/value attribute pairs.
func Event(eventType string, kv ...string) abci.Event {
	ev := abci.Event{Type: eventType}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: kv[i], Value: kv[i+1], Index: true})
	}
	return ev
}
