package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const (
	testRPC      = "http://localhost:8545"
	testContract = "0x00000000000000000000000000000000000000aa"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.RPCURL = testRPC
	cfg.ContractAddress = testContract
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gas.PriceMultiplier != 1.20 {
		t.Fatalf("price multiplier = %v, want 1.20", cfg.Gas.PriceMultiplier)
	}
	if cfg.Gas.MaxTotalCostWei != 540_000_000 {
		t.Fatalf("max total cost = %d, want 540000000", cfg.Gas.MaxTotalCostWei)
	}
	if cfg.Gas.MaxGasLimit != 1_000_000 {
		t.Fatalf("max gas limit = %d, want 1000000", cfg.Gas.MaxGasLimit)
	}
	if cfg.Gas.MaxGasPriceMultiplier != 3.0 {
		t.Fatalf("max gas price multiplier = %v, want 3.0", cfg.Gas.MaxGasPriceMultiplier)
	}
	if cfg.Gas.MinimumGasPriceWei != 6 {
		t.Fatalf("minimum gas price = %d, want 6", cfg.Gas.MinimumGasPriceWei)
	}
	if !cfg.Security.Enabled {
		t.Fatal("security should default to enabled")
	}
	if cfg.Security.ConfigPath != "./config/security-config.json" {
		t.Fatalf("security config path = %q", cfg.Security.ConfigPath)
	}
	if cfg.Oracle.CacheTTL != 5*time.Minute {
		t.Fatalf("oracle cache ttl = %v, want 5m", cfg.Oracle.CacheTTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing rpc", func(c *Config) { c.RPCURL = "" }, true},
		{"missing contract", func(c *Config) { c.ContractAddress = "" }, true},
		{"bad contract", func(c *Config) { c.ContractAddress = "0x1234" }, true},
		{"short multiplier", func(c *Config) { c.Gas.PriceMultiplier = 0.5 }, true},
		{"zero gas limit", func(c *Config) { c.Gas.MaxGasLimit = 0 }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"verbosity range", func(c *Config) { c.Log.Verbosity = 9 }, true},
		{"zero poll attempts", func(c *Config) { c.Gas.BalancePollAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gasrelay.toml")
	body := `
rpc_url = "http://rpc.example:8545"
gas_payer_contract_address = "0x00000000000000000000000000000000000000bb"

[http]
addr = ":9090"
write_timeout = "3m"

[gas]
price_multiplier = 1.5
max_gas_limit = 2000000

[security]
enabled = false

[log]
verbosity = 4
format = "text"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := LoadFile(cfg, path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.RPCURL != "http://rpc.example:8545" {
		t.Fatalf("rpc url = %q", cfg.RPCURL)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("http addr = %q", cfg.HTTP.Addr)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Minute {
		t.Fatalf("write timeout = %v, want 3m", cfg.HTTP.WriteTimeout)
	}
	if cfg.Gas.PriceMultiplier != 1.5 {
		t.Fatalf("price multiplier = %v, want 1.5", cfg.Gas.PriceMultiplier)
	}
	if cfg.Gas.MaxGasLimit != 2_000_000 {
		t.Fatalf("max gas limit = %d, want 2000000", cfg.Gas.MaxGasLimit)
	}
	if cfg.Security.Enabled {
		t.Fatal("security should be disabled by file")
	}
	if cfg.Log.Format != "text" || cfg.Log.Verbosity != 4 {
		t.Fatalf("log = %+v", cfg.Log)
	}

	// Untouched keys keep their defaults.
	if cfg.Gas.MaxTotalCostWei != 540_000_000 {
		t.Fatalf("max total cost = %d, want default", cfg.Gas.MaxTotalCostWei)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	cfg := DefaultConfig()
	if err := LoadFile(cfg, filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("GASRELAY_RPC_URL", "http://env.example:8545")
	t.Setenv("GASRELAY_CHAIN_ID", "137")
	t.Setenv("GASRELAY_SECURITY_ENABLED", "false")
	t.Setenv("GASRELAY_GAS_PRICE_MULTIPLIER", "1.35")

	cfg := DefaultConfig()
	if err := FromEnv(cfg); err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.RPCURL != "http://env.example:8545" {
		t.Fatalf("rpc url = %q", cfg.RPCURL)
	}
	if cfg.ChainID != 137 {
		t.Fatalf("chain id = %d, want 137", cfg.ChainID)
	}
	if cfg.Security.Enabled {
		t.Fatal("security should be disabled by env")
	}
	if cfg.Gas.PriceMultiplier != 1.35 {
		t.Fatalf("price multiplier = %v, want 1.35", cfg.Gas.PriceMultiplier)
	}
}

func TestFromEnv_Malformed(t *testing.T) {
	t.Setenv("GASRELAY_CHAIN_ID", "not-a-number")
	cfg := DefaultConfig()
	if err := FromEnv(cfg); err == nil {
		t.Fatal("expected error for malformed GASRELAY_CHAIN_ID")
	}
}
