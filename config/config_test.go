package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("DATABASE_URL", "postgres://local/flows")
	t.Setenv("REDIS_URL", "redis://local:6379")
	t.Setenv("EVM_RPC_URLS", "https://rpc.sepolia.example")
	t.Setenv("TENDERMINT_RPC_URLS", "https://noble.example,https://namada.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8081, cfg.Port)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, "postgres://local/flows", cfg.DatabaseURL)
	require.Equal(t, "redis://local:6379", cfg.RedisURL)
	require.Equal(t, []string{"https://noble.example", "https://namada.example"}, cfg.TendermintRPCURLs)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultHost, cfg.Host)
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
	require.Empty(t, cfg.CORSOrigins)
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "99999")
	_, err := Load()
	require.Error(t, err)
}

func TestParseChainRegistry(t *testing.T) {
	testCases := []struct {
		name   string
		raw    string
		expErr bool
		check  func(t *testing.T, reg ChainRegistry)
	}{
		{
			name: "yaml registry",
			raw: `
sepolia:
  chainType: evm
  network: testnet
  displayName: Sepolia
  rpcUrls:
    - https://rpc.sepolia.example
  contracts:
    usdc: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
    tokenMessenger: "0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"
noble-testnet:
  chainType: tendermint
  network: noble-grand
namada-testnet:
  chainType: tendermint
  network: namada
  gasless: true
`,
			check: func(t *testing.T, reg ChainRegistry) {
				info, ok := reg.Lookup("sepolia")
				require.True(t, ok)
				require.Equal(t, ChainTypeEVM, info.ChainType)
				require.Equal(t, "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", info.Contracts.USDC)

				noble, ok := reg.NobleChainID()
				require.True(t, ok)
				require.Equal(t, "noble-testnet", noble)

				namada, ok := reg.Lookup("namada-testnet")
				require.True(t, ok)
				require.True(t, namada.Gasless)
			},
		},
		{
			name: "json registry",
			raw:  `{"base":{"chainType":"evm","network":"mainnet"}}`,
			check: func(t *testing.T, reg ChainRegistry) {
				_, ok := reg.Lookup("base")
				require.True(t, ok)
				_, ok = reg.NobleChainID()
				require.False(t, ok)
			},
		},
		{
			name:   "unknown chain type",
			raw:    `{"solana":{"chainType":"svm","network":"mainnet"}}`,
			expErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg, err := ParseChainRegistry([]byte(tc.raw))
			if tc.expErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, reg)
		})
	}
}

func TestRPCEndpointsFallback(t *testing.T) {
	reg := ChainRegistry{
		"sepolia":        {ChainType: ChainTypeEVM, RPCURLs: []string{"https://own.example"}},
		"noble-testnet":  {ChainType: ChainTypeTendermint},
		"namada-testnet": {ChainType: ChainTypeTendermint, RPCURLs: []string{"https://namada.example"}},
	}
	cfg := &Config{
		EVMRPCURLs:        []string{"https://env-evm.example"},
		TendermintRPCURLs: []string{"https://env-tm.example"},
	}

	require.Equal(t, []string{"https://own.example"}, reg.RPCEndpoints("sepolia", cfg))
	require.Equal(t, []string{"https://env-tm.example"}, reg.RPCEndpoints("noble-testnet", cfg))
	require.Equal(t, []string{"https://namada.example"}, reg.RPCEndpoints("namada-testnet", cfg))
	require.Nil(t, reg.RPCEndpoints("unknown", cfg))
}

func TestPollingConfigs(t *testing.T) {
	pc, err := ParsePollingConfigs(`{"noble-testnet":{"maxDurationMin":1,"blockRequestDelayMs":50}}`)
	require.NoError(t, err)

	noble := pc.For("noble-testnet")
	require.Equal(t, 1, noble.MaxDurationMin)
	require.Equal(t, DefaultBlockWindowBackscan, noble.BlockWindowBackscan)
	require.Equal(t, DefaultPollIntervalMs, noble.PollIntervalMs)
	require.Equal(t, 50, noble.BlockRequestDelayMs)
	require.Equal(t, time.Minute, noble.StageTimeout())
	require.Equal(t, 50*time.Millisecond, noble.BlockRequestDelay())

	other := pc.For("sepolia")
	require.Equal(t, DefaultMaxDurationMin, other.MaxDurationMin)
	require.Equal(t, 5*time.Second, other.PollInterval())

	empty, err := ParsePollingConfigs("")
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = ParsePollingConfigs("{not json")
	require.Error(t, err)
}
