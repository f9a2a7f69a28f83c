package config

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Polling budget defaults, applied per chain unless overridden.
const (
	DefaultMaxDurationMin      = 30
	DefaultBlockWindowBackscan = 20
	DefaultPollIntervalMs      = 5000
)

// PollingConfig bounds one chain's scanning behaviour. MaxDurationMin is the
// wall-clock budget of a single stage; BlockWindowBackscan is how many
// blocks behind tip a fresh scan starts.
type PollingConfig struct {
	MaxDurationMin      int `json:"maxDurationMin"`
	BlockWindowBackscan int `json:"blockWindowBackscan"`
	PollIntervalMs      int `json:"pollIntervalMs"`
	BlockRequestDelayMs int `json:"blockRequestDelayMs,omitempty"`
}

// StageTimeout converts the duration budget to a time.Duration.
func (p PollingConfig) StageTimeout() time.Duration {
	return time.Duration(p.MaxDurationMin) * time.Minute
}

// PollInterval is the sleep between tip polls when caught up.
func (p PollingConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// BlockRequestDelay is the sleep between consecutive block fetches.
func (p PollingConfig) BlockRequestDelay() time.Duration {
	return time.Duration(p.BlockRequestDelayMs) * time.Millisecond
}

// DefaultPollingConfig returns the stock budgets.
func DefaultPollingConfig() PollingConfig {
	return PollingConfig{
		MaxDurationMin:      DefaultMaxDurationMin,
		BlockWindowBackscan: DefaultBlockWindowBackscan,
		PollIntervalMs:      DefaultPollIntervalMs,
	}
}

// PollingConfigs maps chain ids to budgets. Chains without an entry use the
// defaults, so lookups never fail.
type PollingConfigs map[string]PollingConfig

// For returns the effective budgets for a chain, with zero fields filled
// from the defaults.
func (pc PollingConfigs) For(chainID string) PollingConfig {
	out := DefaultPollingConfig()
	override, ok := pc[chainID]
	if !ok {
		return out
	}
	if override.MaxDurationMin > 0 {
		out.MaxDurationMin = override.MaxDurationMin
	}
	if override.BlockWindowBackscan > 0 {
		out.BlockWindowBackscan = override.BlockWindowBackscan
	}
	if override.PollIntervalMs > 0 {
		out.PollIntervalMs = override.PollIntervalMs
	}
	if override.BlockRequestDelayMs > 0 {
		out.BlockRequestDelayMs = override.BlockRequestDelayMs
	}
	return out
}

// ParsePollingConfigs parses the CHAIN_POLLING_CONFIGS JSON override. An
// empty value yields an empty map.
func ParsePollingConfigs(raw string) (PollingConfigs, error) {
	if raw == "" {
		return PollingConfigs{}, nil
	}
	var pc PollingConfigs
	if err := json.Unmarshal([]byte(raw), &pc); err != nil {
		return nil, errors.Wrap(err, "parse CHAIN_POLLING_CONFIGS")
	}
	return pc, nil
}
