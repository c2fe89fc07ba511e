package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMulticallAddress is the canonical Multicall3 deployment, present at
// the same address on every major EVM chain
const DefaultMulticallAddress = "0xcA11bde05977b3631167028862bE2a173976CA11"

// Environment variables that override the file
const (
	EnvRPCURL        = "KETTLE_RPC_URL"
	EnvKettleAddress = "KETTLE_ADDRESS"
)

// Config represents the complete engine configuration
type Config struct {
	Chain      ChainConfig      `yaml:"chain"`
	Account    AccountConfig    `yaml:"account"`
	Validation ValidationConfig `yaml:"validation"`
	Actions    ActionsConfig    `yaml:"actions"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ChainConfig locates the chain and the contracts the engine talks to
type ChainConfig struct {
	ChainID            int64    `yaml:"chain_id"`
	RPCURL             string   `yaml:"rpc_url"`  // Primary RPC endpoint
	RPCURLs            []string `yaml:"rpc_urls"` // Additional RPC endpoints for failover
	KettleAddress      string   `yaml:"kettle_address"`
	MulticallAddress   string   `yaml:"multicall_address"`
	BlockConfirmations int      `yaml:"block_confirmations"`
	MaxGasPriceGwei    int64    `yaml:"max_gas_price_gwei"`
	RequestsPerSecond  float64  `yaml:"requests_per_second"` // 0 disables throttling
	Burst              int      `yaml:"burst"`
}

// ResolvedRPCURLs merges the single RPCURL with the RPCURLs list, deduplicating.
// The single URL is placed first as the primary.
func (cc *ChainConfig) ResolvedRPCURLs() []string {
	return mergeURLs(cc.RPCURL, cc.RPCURLs)
}

// mergeURLs combines a primary URL with a list, deduplicating and preserving order.
func mergeURLs(primary string, extras []string) []string {
	seen := make(map[string]bool)
	var result []string

	if primary != "" {
		result = append(result, primary)
		seen[primary] = true
	}
	for _, u := range extras {
		if u != "" && !seen[u] {
			result = append(result, u)
			seen[u] = true
		}
	}
	return result
}

// AccountConfig points at the encrypted key used to sign offers and
// transactions
type AccountConfig struct {
	KeystorePath string `yaml:"keystore_path"`
	PasswordFile string `yaml:"password_file"` // prompt on the terminal when empty
}

// ValidationConfig tunes offer validation
type ValidationConfig struct {
	// LienAware nets lien debt against balances and lets sellers list items
	// held by their loans
	LienAware          bool `yaml:"lien_aware"`
	MaxCallsPerRequest int  `yaml:"max_calls_per_request"` // 0 sends one request per batch
}

// ActionsConfig tunes transaction submission
type ActionsConfig struct {
	ConfirmTimeoutSecs int `yaml:"confirm_timeout_secs"`
}

// ConfirmTimeout returns the confirmation wait as a duration
func (ac ActionsConfig) ConfirmTimeout() time.Duration {
	return time.Duration(ac.ConfirmTimeoutSecs) * time.Second
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			ChainID:            1,
			MulticallAddress:   DefaultMulticallAddress,
			BlockConfirmations: 1,
			MaxGasPriceGwei:    200,
			RequestsPerSecond:  25,
			Burst:              10,
		},
		Validation: ValidationConfig{
			LienAware:          true,
			MaxCallsPerRequest: 500,
		},
		Actions: ActionsConfig{
			ConfirmTimeoutSecs: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
// Environment overrides are applied after the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRPCURL); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv(EnvKettleAddress); v != "" {
		c.Chain.KettleAddress = v
	}
}

// Validate validates the configuration. Contract addresses are only
// checked when set; RequireChain enforces their presence.
func (c *Config) Validate() error {
	if c.Chain.ChainID < 1 {
		return fmt.Errorf("invalid chain_id: %d", c.Chain.ChainID)
	}
	if c.Chain.BlockConfirmations < 0 {
		return fmt.Errorf("block_confirmations must not be negative")
	}
	if c.Chain.MaxGasPriceGwei < 0 {
		return fmt.Errorf("max_gas_price_gwei must not be negative")
	}
	if c.Chain.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if c.Chain.RequestsPerSecond > 0 && c.Chain.Burst < 1 {
		return fmt.Errorf("burst must be at least 1 when throttling is enabled")
	}
	for name, addr := range map[string]string{
		"kettle_address":    c.Chain.KettleAddress,
		"multicall_address": c.Chain.MulticallAddress,
	} {
		if addr == "" {
			continue
		}
		if err := validateEthAddress(name, addr); err != nil {
			return err
		}
	}

	if c.Validation.MaxCallsPerRequest < 0 {
		return fmt.Errorf("max_calls_per_request must not be negative")
	}
	if c.Actions.ConfirmTimeoutSecs < 1 {
		return fmt.Errorf("confirm_timeout_secs must be at least 1")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics listen_addr is required when metrics are enabled")
	}

	return nil
}

// RequireChain checks that everything needed to reach a live deployment is set
func (c *Config) RequireChain() error {
	if len(c.Chain.ResolvedRPCURLs()) == 0 {
		return fmt.Errorf("no RPC endpoint configured (set chain.rpc_url or %s)", EnvRPCURL)
	}
	if c.Chain.KettleAddress == "" {
		return fmt.Errorf("kettle_address is required (set chain.kettle_address or %s)", EnvKettleAddress)
	}
	if c.Chain.MulticallAddress == "" {
		return fmt.Errorf("multicall_address is required")
	}
	return nil
}

// validateEthAddress checks that an Ethereum address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Account.KeystorePath = expandPath(c.Account.KeystorePath)
	c.Account.PasswordFile = expandPath(c.Account.PasswordFile)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".kettle", "config.yaml")
}
