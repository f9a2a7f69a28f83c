package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/stablepath/flowtrack/types"
)

// Memory is the in-memory Store used by tests and by deployments without a
// DATABASE_URL. All methods copy on the way in and out.
type Memory struct {
	mu     sync.Mutex
	flows  map[string]*types.Flow
	byHash map[string]string
	logs   []types.StatusLog
	nextID int64
}

var _ Store = (*Memory)(nil)

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		flows:  make(map[string]*types.Flow),
		byHash: make(map[string]string),
	}
}

func (m *Memory) CreateFlow(_ context.Context, flow *types.Flow) (*types.Flow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flow.TxHash != "" {
		if id, ok := m.byHash[flow.TxHash]; ok {
			existing, err := cloneFlow(m.flows[id])
			return existing, false, err
		}
	}

	stored, err := cloneFlow(flow)
	if err != nil {
		return nil, false, err
	}
	m.flows[stored.ID] = stored
	if stored.TxHash != "" {
		m.byHash[stored.TxHash] = stored.ID
	}

	out, err := cloneFlow(stored)
	return out, true, err
}

func (m *Memory) GetFlow(_ context.Context, id string) (*types.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.flows[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return cloneFlow(f)
}

func (m *Memory) GetFlowByTxHash(_ context.Context, txHash string) (*types.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[txHash]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, txHash)
	}
	return cloneFlow(m.flows[id])
}

func (m *Memory) FindFlowByChainTxHash(_ context.Context, chain types.ChainKey, txHash string) (*types.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.flows {
		if flowMatchesHash(f, chain, txHash) {
			return cloneFlow(f)
		}
	}
	return nil, errors.Wrap(ErrNotFound, txHash)
}

func (m *Memory) ListUnfinishedFlows(_ context.Context) ([]*types.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Flow
	for _, f := range m.flows {
		if f.Status.Terminal() {
			continue
		}
		c, err := cloneFlow(f)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateFlow(_ context.Context, id string, mutate func(*types.Flow) error) (*types.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.flows[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}

	next, err := cloneFlow(current)
	if err != nil {
		return nil, err
	}
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := guardStatus(current.Status, next.Status); err != nil {
		return nil, err
	}

	next.UpdatedAt = time.Now().UTC()
	m.flows[id] = next
	return cloneFlow(next)
}

func (m *Memory) AppendStatusLog(_ context.Context, entry *types.StatusLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	row := *entry
	row.ID = m.nextID
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	m.logs = append(m.logs, row)
	entry.ID = row.ID
	return nil
}

func (m *Memory) ListStatusLogs(_ context.Context, flowID string) ([]types.StatusLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.StatusLog
	for _, row := range m.logs {
		if row.FlowID == flowID {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
