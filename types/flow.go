// Package types holds the flow tracking data model shared by the store,
// tracker engine, pollers and API surface.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FlowType classifies the direction of a tracked transfer.
type FlowType string

const (
	// FlowTypeDeposit tracks EVM burn -> Noble CCTP mint -> Noble IBC forward -> Namada receive.
	FlowTypeDeposit FlowType = "deposit"
	// FlowTypePayment tracks Namada IBC send -> Noble receive -> Noble CCTP burn -> EVM mint.
	FlowTypePayment FlowType = "payment"
)

// ParseFlowType validates a wire-level flow type string.
func ParseFlowType(s string) (FlowType, error) {
	switch FlowType(s) {
	case FlowTypeDeposit, FlowTypePayment:
		return FlowType(s), nil
	default:
		return "", errors.Errorf("unknown flow type %q", s)
	}
}

// FlowStatus is the overall flow verdict. Transitions form a monotonic
// lattice: pending -> {completed, failed, undetermined}. Terminal statuses
// are never overwritten.
type FlowStatus string

const (
	FlowStatusPending      FlowStatus = "pending"
	FlowStatusCompleted    FlowStatus = "completed"
	FlowStatusFailed       FlowStatus = "failed"
	FlowStatusUndetermined FlowStatus = "undetermined"
)

// Terminal reports whether no further polling work is possible for a flow
// in this status.
func (s FlowStatus) Terminal() bool {
	switch s {
	case FlowStatusCompleted, FlowStatusFailed, FlowStatusUndetermined:
		return true
	default:
		return false
	}
}

// StageStatus is the per-stage / per-chain confirmation state.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusConfirmed StageStatus = "confirmed"
	StageStatusFailed    StageStatus = "failed"
)

// StageSource records who observed a stage.
type StageSource string

const (
	StageSourcePoller StageSource = "poller"
	StageSourceClient StageSource = "client"
)

// ChainKey identifies one of the three chain roles a flow can touch. The
// key set is closed; chain registry ids (e.g. "sepolia", "noble-1") map
// onto these roles.
type ChainKey string

const (
	ChainKeyEVM    ChainKey = "evm"
	ChainKeyNoble  ChainKey = "noble"
	ChainKeyNamada ChainKey = "namada"
)

// ParseChainKey validates a wire-level chain key string.
func ParseChainKey(s string) (ChainKey, error) {
	switch ChainKey(s) {
	case ChainKeyEVM, ChainKeyNoble, ChainKeyNamada:
		return ChainKey(s), nil
	default:
		return "", errors.Errorf("unknown chain key %q", s)
	}
}

// Stage is one observation in a flow's progression.
type Stage struct {
	Stage      string         `json:"stage"`
	Status     StageStatus    `json:"status"`
	Message    string         `json:"message,omitempty"`
	TxHash     string         `json:"txHash,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Source     StageSource    `json:"source"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ChainProgressEntry is the per-chain sub-state of a flow. StartBlock is
// written at most once and never re-derived. Stages and GaslessStages are
// append-only.
type ChainProgressEntry struct {
	Status        StageStatus `json:"status"`
	TxHash        string      `json:"txHash,omitempty"`
	StartBlock    *uint64     `json:"startBlock,omitempty"`
	LastCheckedAt *time.Time  `json:"lastCheckedAt,omitempty"`
	Stages        []Stage     `json:"stages,omitempty"`
	GaslessStages []Stage     `json:"gaslessStages,omitempty"`
}

// ChainProgress is a closed record of per-chain progress. Which entries are
// non-nil is determined by the flow type; entries appear lazily when a
// stage first touches their chain.
type ChainProgress struct {
	EVM    *ChainProgressEntry `json:"evm,omitempty"`
	Noble  *ChainProgressEntry `json:"noble,omitempty"`
	Namada *ChainProgressEntry `json:"namada,omitempty"`
}

// Entry returns the sub-record for key, or nil when the chain has not been
// touched yet.
func (p *ChainProgress) Entry(key ChainKey) *ChainProgressEntry {
	switch key {
	case ChainKeyEVM:
		return p.EVM
	case ChainKeyNoble:
		return p.Noble
	case ChainKeyNamada:
		return p.Namada
	default:
		return nil
	}
}

// Ensure returns the sub-record for key, creating a pending one when absent.
func (p *ChainProgress) Ensure(key ChainKey) *ChainProgressEntry {
	if e := p.Entry(key); e != nil {
		return e
	}
	e := &ChainProgressEntry{Status: StageStatusPending}
	switch key {
	case ChainKeyEVM:
		p.EVM = e
	case ChainKeyNoble:
		p.Noble = e
	case ChainKeyNamada:
		p.Namada = e
	}
	return e
}

// Flow is one tracked cross-chain transfer. Rows are created by the HTTP
// initiator, mutated only by the tracker engine (plus the client-stage
// endpoint for auxiliary stages) and never deleted by the tracker.
type Flow struct {
	ID               string         `json:"id"`
	FlowType         FlowType       `json:"flowType"`
	InitialChain     string         `json:"initialChain"`
	DestinationChain string         `json:"destinationChain"`
	TxHash           string         `json:"txHash,omitempty"`
	Status           FlowStatus     `json:"status"`
	ChainProgress    ChainProgress  `json:"chainProgress"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ErrorState       map[string]any `json:"errorState,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// NewFlow builds a pending flow with chain progress seeded for the flow
// type. Deposits start with noble and namada entries (evm appears only when
// burn-confirmation parameters are supplied); payments start with all three.
func NewFlow(flowType FlowType, initialChain, destinationChain, txHash string, metadata map[string]any) *Flow {
	now := time.Now().UTC()
	f := &Flow{
		ID:               uuid.NewString(),
		FlowType:         flowType,
		InitialChain:     initialChain,
		DestinationChain: destinationChain,
		TxHash:           txHash,
		Status:           FlowStatusPending,
		Metadata:         metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	switch flowType {
	case FlowTypeDeposit:
		f.ChainProgress.Ensure(ChainKeyNoble)
		f.ChainProgress.Ensure(ChainKeyNamada)
	case FlowTypePayment:
		f.ChainProgress.Ensure(ChainKeyNamada)
		f.ChainProgress.Ensure(ChainKeyNoble)
		f.ChainProgress.Ensure(ChainKeyEVM)
	}
	return f
}

// StatusLog is one append-only audit row; the ordered log replays the flow.
type StatusLog struct {
	ID        int64          `json:"id"`
	FlowID    string         `json:"flowId"`
	Stage     string         `json:"stage"`
	Chain     ChainKey       `json:"chain"`
	Source    StageSource    `json:"source"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// StatusUpdate is the fan-out payload published after every stage
// transition and delivered to WebSocket subscribers.
type StatusUpdate struct {
	FlowID     string         `json:"flowId"`
	Chain      ChainKey       `json:"chain"`
	Stage      string         `json:"stage"`
	Status     StageStatus    `json:"status"`
	Message    string         `json:"message,omitempty"`
	TxHash     string         `json:"txHash,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Source     StageSource    `json:"source"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
