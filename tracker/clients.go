package tracker

import (
	"sync"

	"github.com/pkg/errors"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/chains/evm"
	"github.com/stablepath/flowtrack/chains/tendermint"
	"github.com/stablepath/flowtrack/config"
)

// ChainClients resolves RPC clients by registry chain id. The engine asks
// for a client per stage; implementations are expected to reuse
// connections.
type ChainClients interface {
	EVM(chainID string) (evm.Client, error)
	Tendermint(chainID string) (tendermint.Client, error)
}

// RegistryClients dials clients from the chain registry lazily and caches
// them per chain id.
type RegistryClients struct {
	registry config.ChainRegistry
	cfg      *config.Config
	logger   log.Logger

	mu         sync.Mutex
	evmClients map[string]evm.Client
	tmClients  map[string]tendermint.Client
}

var _ ChainClients = (*RegistryClients)(nil)

// NewRegistryClients builds a client set over the registry.
func NewRegistryClients(registry config.ChainRegistry, cfg *config.Config, logger log.Logger) *RegistryClients {
	return &RegistryClients{
		registry:   registry,
		cfg:        cfg,
		logger:     logger,
		evmClients: make(map[string]evm.Client),
		tmClients:  make(map[string]tendermint.Client),
	}
}

func (c *RegistryClients) EVM(chainID string) (evm.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.evmClients[chainID]; ok {
		return client, nil
	}
	info, ok := c.registry.Lookup(chainID)
	if !ok {
		return nil, errors.Errorf("unknown chain %q", chainID)
	}
	if info.ChainType != config.ChainTypeEVM {
		return nil, errors.Errorf("chain %q is not an evm chain", chainID)
	}
	endpoints := c.registry.RPCEndpoints(chainID, c.cfg)
	if len(endpoints) == 0 {
		return nil, errors.Errorf("chain %q has no rpc endpoints", chainID)
	}
	client, err := evm.Dial(endpoints[0], c.logger)
	if err != nil {
		return nil, err
	}
	c.evmClients[chainID] = client
	return client, nil
}

func (c *RegistryClients) Tendermint(chainID string) (tendermint.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.tmClients[chainID]; ok {
		return client, nil
	}
	info, ok := c.registry.Lookup(chainID)
	if !ok {
		return nil, errors.Errorf("unknown chain %q", chainID)
	}
	if info.ChainType != config.ChainTypeTendermint {
		return nil, errors.Errorf("chain %q is not a tendermint chain", chainID)
	}
	endpoints := c.registry.RPCEndpoints(chainID, c.cfg)
	if len(endpoints) == 0 {
		return nil, errors.Errorf("chain %q has no rpc endpoints", chainID)
	}
	client := tendermint.NewClient(endpoints[0], c.logger)
	c.tmClients[chainID] = client
	return client, nil
}
