package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors Config for TOML decoding. Only values present in
// the file override the base config, so every field is a pointer.
type fileConfig struct {
	RPCURL          *string `toml:"rpc_url"`
	ChainID         *uint64 `toml:"chain_id"`
	ContractAddress *string `toml:"gas_payer_contract_address"`
	ServiceName     *string `toml:"service_name"`

	HTTP struct {
		Addr         *string   `toml:"addr"`
		ReadTimeout  *duration `toml:"read_timeout"`
		WriteTimeout *duration `toml:"write_timeout"`
	} `toml:"http"`

	Gas struct {
		PriceMultiplier       *float64 `toml:"price_multiplier"`
		MinimumGasPriceWei    *uint64  `toml:"minimum_gas_price_wei"`
		MaxTotalCostWei       *uint64  `toml:"max_total_cost_wei"`
		MaxGasLimit           *uint64  `toml:"max_gas_limit"`
		MaxGasPriceMultiplier *float64 `toml:"max_gas_price_multiplier"`
	} `toml:"gas"`

	Security struct {
		ConfigPath *string `toml:"config_path"`
		Enabled    *bool   `toml:"enabled"`
	} `toml:"security"`

	Oracle struct {
		Enabled  *bool     `toml:"enabled"`
		Endpoint *string   `toml:"endpoint"`
		CacheTTL *duration `toml:"cache_ttl"`
	} `toml:"oracle"`

	Log struct {
		Verbosity *int    `toml:"verbosity"`
		Format    *string `toml:"format"`
	} `toml:"log"`
}

// duration lets TOML carry values like "30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// LoadFile merges a TOML configuration file into cfg. Missing keys keep
// their current values.
func LoadFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}

	setString(&cfg.RPCURL, fc.RPCURL)
	setUint64(&cfg.ChainID, fc.ChainID)
	setString(&cfg.ContractAddress, fc.ContractAddress)
	setString(&cfg.ServiceName, fc.ServiceName)

	setString(&cfg.HTTP.Addr, fc.HTTP.Addr)
	setDuration(&cfg.HTTP.ReadTimeout, fc.HTTP.ReadTimeout)
	setDuration(&cfg.HTTP.WriteTimeout, fc.HTTP.WriteTimeout)

	setFloat(&cfg.Gas.PriceMultiplier, fc.Gas.PriceMultiplier)
	setUint64(&cfg.Gas.MinimumGasPriceWei, fc.Gas.MinimumGasPriceWei)
	setUint64(&cfg.Gas.MaxTotalCostWei, fc.Gas.MaxTotalCostWei)
	setUint64(&cfg.Gas.MaxGasLimit, fc.Gas.MaxGasLimit)
	setFloat(&cfg.Gas.MaxGasPriceMultiplier, fc.Gas.MaxGasPriceMultiplier)

	setString(&cfg.Security.ConfigPath, fc.Security.ConfigPath)
	setBool(&cfg.Security.Enabled, fc.Security.Enabled)

	setBool(&cfg.Oracle.Enabled, fc.Oracle.Enabled)
	setString(&cfg.Oracle.Endpoint, fc.Oracle.Endpoint)
	setDuration(&cfg.Oracle.CacheTTL, fc.Oracle.CacheTTL)

	setInt(&cfg.Log.Verbosity, fc.Log.Verbosity)
	setString(&cfg.Log.Format, fc.Log.Format)

	return nil
}

// FromEnv applies GASRELAY_* environment overrides to cfg. Malformed
// numeric values are reported rather than silently ignored.
func FromEnv(cfg *Config) error {
	if v := os.Getenv("GASRELAY_RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("GASRELAY_CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: GASRELAY_CHAIN_ID: %w", err)
		}
		cfg.ChainID = id
	}
	if v := os.Getenv("GASRELAY_CONTRACT_ADDRESS"); v != "" {
		cfg.ContractAddress = v
	}
	if v := os.Getenv("GASRELAY_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("GASRELAY_SECURITY_CONFIG"); v != "" {
		cfg.Security.ConfigPath = v
	}
	if v := os.Getenv("GASRELAY_SECURITY_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: GASRELAY_SECURITY_ENABLED: %w", err)
		}
		cfg.Security.Enabled = b
	}
	if v := os.Getenv("GASRELAY_GAS_PRICE_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: GASRELAY_GAS_PRICE_MULTIPLIER: %w", err)
		}
		cfg.Gas.PriceMultiplier = f
	}
	if v := os.Getenv("GASRELAY_GAS_MAX_GAS_LIMIT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: GASRELAY_GAS_MAX_GAS_LIMIT: %w", err)
		}
		cfg.Gas.MaxGasLimit = n
	}
	if v := os.Getenv("GASRELAY_GAS_MAX_TOTAL_COST_WEI"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: GASRELAY_GAS_MAX_TOTAL_COST_WEI: %w", err)
		}
		cfg.Gas.MaxTotalCostWei = n
	}
	if v := os.Getenv("GASRELAY_VERBOSITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: GASRELAY_VERBOSITY: %w", err)
		}
		cfg.Log.Verbosity = n
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setUint64(dst *uint64, src *uint64) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}
