package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// ChainType distinguishes the two adapter families.
type ChainType string

const (
	ChainTypeEVM        ChainType = "evm"
	ChainTypeTendermint ChainType = "tendermint"
)

// ChainContracts holds the CCTP contract addresses of an EVM chain.
type ChainContracts struct {
	USDC               string `json:"usdc,omitempty"`
	TokenMessenger     string `json:"tokenMessenger,omitempty"`
	MessageTransmitter string `json:"messageTransmitter,omitempty"`
}

// ChainInfo is one registry entry.
type ChainInfo struct {
	ChainType   ChainType       `json:"chainType"`
	Network     string          `json:"network"`
	DisplayName string          `json:"displayName,omitempty"`
	RPCURLs     []string        `json:"rpcUrls,omitempty"`
	Explorer    string          `json:"explorer,omitempty"`
	Contracts   *ChainContracts `json:"contracts,omitempty"`
	Gasless     bool            `json:"gasless,omitempty"`
}

// ChainRegistry maps chain ids to their connection and contract details.
// The file is YAML or JSON; both parse through sigs.k8s.io/yaml.
type ChainRegistry map[string]ChainInfo

// LoadChainRegistry reads and validates the registry file at path.
func LoadChainRegistry(path string) (ChainRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read chain registry %s", path)
	}
	return ParseChainRegistry(raw)
}

// ParseChainRegistry parses registry bytes and validates every entry.
func ParseChainRegistry(raw []byte) (ChainRegistry, error) {
	var reg ChainRegistry
	if err := yaml.Unmarshal(raw, &reg); err != nil {
		return nil, errors.Wrap(err, "parse chain registry")
	}
	for id, info := range reg {
		switch info.ChainType {
		case ChainTypeEVM, ChainTypeTendermint:
		default:
			return nil, errors.Errorf("chain %s: unknown chainType %q", id, info.ChainType)
		}
	}
	return reg, nil
}

// Lookup returns the entry for id.
func (r ChainRegistry) Lookup(id string) (ChainInfo, bool) {
	info, ok := r[id]
	return info, ok
}

// NobleChainID locates the Noble hub entry: the tendermint chain whose id or
// network is noble-prefixed. Flows never name the hub explicitly, so the
// registry must carry exactly one such entry for deposit/payment tracking.
func (r ChainRegistry) NobleChainID() (string, bool) {
	for id, info := range r {
		if info.ChainType != ChainTypeTendermint {
			continue
		}
		if strings.HasPrefix(id, "noble") || strings.HasPrefix(info.Network, "noble") {
			return id, true
		}
	}
	return "", false
}

// RPCEndpoints returns the endpoints to dial for a chain, falling back to
// the type-level environment lists when the entry has none.
func (r ChainRegistry) RPCEndpoints(id string, cfg *Config) []string {
	info, ok := r.Lookup(id)
	if !ok {
		return nil
	}
	if len(info.RPCURLs) > 0 {
		return info.RPCURLs
	}
	switch info.ChainType {
	case ChainTypeEVM:
		return cfg.EVMRPCURLs
	case ChainTypeTendermint:
		return cfg.TendermintRPCURLs
	}
	return nil
}
