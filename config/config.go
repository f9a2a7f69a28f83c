// Package config loads service configuration from the environment and the
// chain registry file, and owns per-chain polling budgets.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 3000
	DefaultLogLevel = "info"
)

// Config is the process-level configuration, sourced from environment
// variables. Chain-level configuration lives in the registry file.
type Config struct {
	Host     string
	Port     int
	LogLevel string

	// CORSOrigins lists allowed origins; empty allows any origin.
	CORSOrigins []string

	// DatabaseURL is the Postgres DSN; empty selects the in-memory store.
	DatabaseURL string
	// RedisURL backs the durable job queue; empty selects the in-process queue.
	RedisURL string

	// EVMRPCURLs and TendermintRPCURLs are fallback endpoints used for
	// chains whose registry entry carries no rpcUrls.
	EVMRPCURLs        []string
	TendermintRPCURLs []string

	ChainRegistryPath string
	// ChainPollingConfigs is a raw JSON override map, chain id -> budgets.
	ChainPollingConfigs string

	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("HOST", DefaultHost)
	v.SetDefault("PORT", DefaultPort)
	v.SetDefault("LOG_LEVEL", DefaultLogLevel)

	cfg := &Config{
		Host:                v.GetString("HOST"),
		Port:                v.GetInt("PORT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		CORSOrigins:         splitList(v.GetString("CORS_ORIGINS")),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		RedisURL:            v.GetString("REDIS_URL"),
		EVMRPCURLs:          splitList(v.GetString("EVM_RPC_URLS")),
		TendermintRPCURLs:   splitList(v.GetString("TENDERMINT_RPC_URLS")),
		ChainRegistryPath:   v.GetString("CHAIN_REGISTRY_PATH"),
		ChainPollingConfigs: v.GetString("CHAIN_POLLING_CONFIGS"),
		MetricsAddr:         v.GetString("METRICS_ADDR"),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.Errorf("invalid PORT %d", cfg.Port)
	}

	return cfg, nil
}

// splitList parses a comma-separated environment value, dropping empty items.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
