// Package store persists flows and status logs. Two implementations share
// one contract: Postgres for production and an in-memory store for tests
// and database-less development.
package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/stablepath/flowtrack/types"
)

// ErrNotFound marks lookups for flows the store does not hold.
var ErrNotFound = errors.New("flow not found")

// ErrTerminalStatus marks updates that would overwrite a terminal flow
// status. The lattice pending -> {completed, failed, undetermined} is
// enforced here so no caller can regress a verdict.
var ErrTerminalStatus = errors.New("flow status is terminal")

// Store is the durable flow state surface consumed by the HTTP layer, the
// tracker engine and the worker.
type Store interface {
	// CreateFlow inserts a flow. When the flow carries a tx hash that is
	// already tracked, the existing flow is returned with created=false;
	// registration is idempotent on the initiating hash.
	CreateFlow(ctx context.Context, flow *types.Flow) (out *types.Flow, created bool, err error)

	// GetFlow returns a flow by id, or ErrNotFound.
	GetFlow(ctx context.Context, id string) (*types.Flow, error)

	// GetFlowByTxHash returns the flow whose initiating tx hash matches, or
	// ErrNotFound.
	GetFlowByTxHash(ctx context.Context, txHash string) (*types.Flow, error)

	// FindFlowByChainTxHash returns the flow that recorded the hash on the
	// given chain: the initiating hash, the chain entry's hash, or any stage
	// hash. Terminal flows are included.
	FindFlowByChainTxHash(ctx context.Context, chain types.ChainKey, txHash string) (*types.Flow, error)

	// ListUnfinishedFlows returns every flow whose status is non-terminal.
	ListUnfinishedFlows(ctx context.Context) ([]*types.Flow, error)

	// UpdateFlow applies mutate inside a row-level transaction: the current
	// row is read, mutated and written back atomically. A mutation that
	// changes the status of an already-terminal flow fails with
	// ErrTerminalStatus and writes nothing.
	UpdateFlow(ctx context.Context, id string, mutate func(*types.Flow) error) (*types.Flow, error)

	// AppendStatusLog appends one audit row.
	AppendStatusLog(ctx context.Context, entry *types.StatusLog) error

	// ListStatusLogs returns a flow's audit rows ordered by CreatedAt
	// ascending.
	ListStatusLogs(ctx context.Context, flowID string) ([]types.StatusLog, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}

// guardStatus enforces the monotonic status lattice on a read-modify-write.
func guardStatus(before, after types.FlowStatus) error {
	if before.Terminal() && after != before {
		return errors.Wrapf(ErrTerminalStatus, "cannot move %s to %s", before, after)
	}
	return nil
}

// cloneFlow deep-copies a flow through its JSON form so callers never alias
// stored state.
func cloneFlow(f *types.Flow) (*types.Flow, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "clone flow")
	}
	out := &types.Flow{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, errors.Wrap(err, "clone flow")
	}
	return out, nil
}

// flowMatchesHash reports whether a flow recorded txHash on the given chain.
func flowMatchesHash(f *types.Flow, chain types.ChainKey, txHash string) bool {
	if f.TxHash == txHash {
		return true
	}
	entry := f.ChainProgress.Entry(chain)
	if entry == nil {
		return false
	}
	if entry.TxHash == txHash {
		return true
	}
	for _, s := range entry.Stages {
		if s.TxHash == txHash {
			return true
		}
	}
	for _, s := range entry.GaslessStages {
		if s.TxHash == txHash {
			return true
		}
	}
	return false
}
