package tendermint

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	abci "github.com/cometbft/cometbft/abci/types"
)

// BlockResults is the decoded /block_results payload. Noble (CometBFT 0.38)
// emits FinalizeBlockEvents; Namada's consensus layer still emits the split
// BeginBlockEvents/EndBlockEvents arrays. All are carried so pollers can
// scan whichever side their chain populates.
type BlockResults struct {
	Height              int64
	TxsResults          []TxResult
	FinalizeBlockEvents []abci.Event
	BeginBlockEvents    []abci.Event
	EndBlockEvents      []abci.Event
}

// TxResult is one transaction's execution result inside a block.
type TxResult struct {
	Code   uint32
	Log    string
	Events []abci.Event
}

// Tx is a committed transaction as returned by /tx and /tx_search.
type Tx struct {
	Hash     string
	Height   int64
	Index    uint32
	TxResult TxResult
}

// Success reports whether the transaction executed without error.
func (t *Tx) Success() bool {
	return t.TxResult.Code == 0
}

// TxSearchResult is a /tx_search page.
type TxSearchResult struct {
	Txs        []Tx
	TotalCount int
}

// Wire-level shapes: the RPC interface renders 64-bit integers as strings.

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC envelope error. Envelope errors are evaluation
// results (unknown tx, future height), not transport faults, and are never
// retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return "rpc error " + strconv.Itoa(e.Code) + ": " + e.Message + ": " + e.Data
	}
	return "rpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

type blockResultsWire struct {
	Height              string         `json:"height"`
	TxsResults          []txResultWire `json:"txs_results"`
	FinalizeBlockEvents []abci.Event   `json:"finalize_block_events"`
	BeginBlockEvents    []abci.Event   `json:"begin_block_events"`
	EndBlockEvents      []abci.Event   `json:"end_block_events"`
}

type txResultWire struct {
	Code   uint32       `json:"code"`
	Log    string       `json:"log"`
	Events []abci.Event `json:"events"`
}

func (w *blockResultsWire) decode() (*BlockResults, error) {
	height, err := strconv.ParseInt(w.Height, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "parse block_results height %q", w.Height)
	}
	out := &BlockResults{
		Height:              height,
		FinalizeBlockEvents: w.FinalizeBlockEvents,
		BeginBlockEvents:    w.BeginBlockEvents,
		EndBlockEvents:      w.EndBlockEvents,
	}
	for _, tr := range w.TxsResults {
		out.TxsResults = append(out.TxsResults, TxResult{Code: tr.Code, Log: tr.Log, Events: tr.Events})
	}
	return out, nil
}

type txWire struct {
	Hash     string       `json:"hash"`
	Height   string       `json:"height"`
	Index    uint32       `json:"index"`
	TxResult txResultWire `json:"tx_result"`
}

func (w *txWire) decode() (*Tx, error) {
	height, err := strconv.ParseInt(w.Height, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "parse tx height %q", w.Height)
	}
	return &Tx{
		Hash:   w.Hash,
		Height: height,
		Index:  w.Index,
		TxResult: TxResult{
			Code:   w.TxResult.Code,
			Log:    w.TxResult.Log,
			Events: w.TxResult.Events,
		},
	}, nil
}

type txSearchWire struct {
	Txs        []txWire `json:"txs"`
	TotalCount string   `json:"total_count"`
}

type statusWire struct {
	SyncInfo struct {
		LatestBlockHeight string `json:"latest_block_height"`
	} `json:"sync_info"`
}
