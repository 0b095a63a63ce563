// Package config holds the gasrelay service configuration. Values are
// resolved in three layers: built-in defaults, an optional TOML file, and
// environment variable overrides. CLI flags in cmd/gasrelay sit on top.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds all configuration for the gasrelay service.
type Config struct {
	// RPCURL is the EVM JSON-RPC endpoint (required).
	RPCURL string

	// ChainID selects the chain. Zero means "ask the RPC endpoint".
	ChainID uint64

	// ContractAddress is the gas payer contract (required, 0x-prefixed).
	ContractAddress string

	// ServiceName appears in the health endpoint and log banner.
	ServiceName string

	HTTP     HTTPConfig
	Gas      GasConfig
	Security SecurityConfig
	Oracle   OracleConfig
	Log      LogConfig
}

// HTTPConfig holds the public HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address, host:port.
	Addr string

	// ReadTimeout and WriteTimeout bound request handling. The write
	// timeout must cover the worst-case funding wait plus receipt wait.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// GasConfig holds funding and validation parameters. Fractional
// multipliers are written as decimals (1.20) and applied internally in
// basis points to keep wei arithmetic integral.
type GasConfig struct {
	// PriceMultiplier pads the user's gas cost when computing the
	// funding target (default 1.20).
	PriceMultiplier float64

	// MinimumGasPriceWei is the floor the gas-costs listing falls back
	// to when the node cannot be asked for a price (default 6). Relay
	// validation requires a live price and never substitutes it.
	MinimumGasPriceWei uint64

	// MaxTotalCostWei caps gasLimit*gasPrice for operations without a
	// declared budget (default 540,000,000).
	MaxTotalCostWei uint64

	// MaxGasLimit caps the user-supplied gas limit when no operation
	// budget applies (default 1,000,000).
	MaxGasLimit uint64

	// MaxGasPriceMultiplier caps the user's gas price relative to the
	// current network price (default 3.0).
	MaxGasPriceMultiplier float64

	// BalancePollAttempts and BalancePollInterval bound the wait for a
	// funding transfer to land (defaults 15 x 2s).
	BalancePollAttempts int
	BalancePollInterval time.Duration

	// ReceiptPollAttempts and ReceiptPollInterval bound the wait for
	// the forwarded transaction's receipt (defaults 30 x 2s).
	ReceiptPollAttempts int
	ReceiptPollInterval time.Duration
}

// SecurityConfig locates the hot-reloadable API key file.
type SecurityConfig struct {
	// ConfigPath is the JSON security config file. Created with a
	// default key on first start when missing.
	ConfigPath string

	// Enabled toggles the auth gate entirely.
	Enabled bool
}

// OracleConfig configures the optional USD price oracle.
type OracleConfig struct {
	// Enabled toggles price lookups; when off, logs show plain wei.
	Enabled bool

	// Endpoint is the price feed URL template. %s is replaced with the
	// native coin symbol.
	Endpoint string

	// CacheTTL bounds quote staleness (default 5m).
	CacheTTL time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Verbosity is the CLI-style level 0-5 (default 3, info).
	Verbosity int

	// Format is "json" or "text".
	Format string
}

// DefaultConfig returns a Config with sensible defaults. RPCURL and
// ContractAddress have no defaults and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "gasrelay",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 150 * time.Second,
		},
		Gas: GasConfig{
			PriceMultiplier:       1.20,
			MinimumGasPriceWei:    6,
			MaxTotalCostWei:       540_000_000,
			MaxGasLimit:           1_000_000,
			MaxGasPriceMultiplier: 3.0,
			BalancePollAttempts:   15,
			BalancePollInterval:   2 * time.Second,
			ReceiptPollAttempts:   30,
			ReceiptPollInterval:   2 * time.Second,
		},
		Security: SecurityConfig{
			ConfigPath: "./config/security-config.json",
			Enabled:    true,
		},
		Oracle: OracleConfig{
			Enabled:  false,
			Endpoint: "https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=usd",
			CacheTTL: 5 * time.Minute,
		},
		Log: LogConfig{
			Verbosity: 3,
			Format:    "json",
		},
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("config: rpc url must not be empty")
	}
	if c.ContractAddress == "" {
		return errors.New("config: gas payer contract address must not be empty")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("config: invalid gas payer contract address %q", c.ContractAddress)
	}
	if c.HTTP.Addr == "" {
		return errors.New("config: http listen address must not be empty")
	}
	if c.Gas.PriceMultiplier < 1.0 {
		return fmt.Errorf("config: price multiplier %v below 1.0 would underfund users", c.Gas.PriceMultiplier)
	}
	if c.Gas.MaxGasPriceMultiplier < 1.0 {
		return fmt.Errorf("config: max gas price multiplier %v must be at least 1.0", c.Gas.MaxGasPriceMultiplier)
	}
	if c.Gas.MaxGasLimit == 0 {
		return errors.New("config: max gas limit must be positive")
	}
	if c.Gas.BalancePollAttempts <= 0 || c.Gas.ReceiptPollAttempts <= 0 {
		return errors.New("config: poll attempts must be positive")
	}
	if c.Gas.BalancePollInterval <= 0 || c.Gas.ReceiptPollInterval <= 0 {
		return errors.New("config: poll intervals must be positive")
	}
	if c.Security.ConfigPath == "" {
		return errors.New("config: security config path must not be empty")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Log.Verbosity < 0 || c.Log.Verbosity > 5 {
		return fmt.Errorf("config: verbosity %d outside 0-5", c.Log.Verbosity)
	}
	return nil
}

// Contract returns the parsed gas payer contract address. Call Validate
// first; an unparseable address yields the zero address here.
func (c *Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}
