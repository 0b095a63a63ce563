package main

import (
	"flag"

	"github.com/gasrelay/gasrelay/config"
)

// cliOptions carries flag values that are not part of the service
// configuration itself.
type cliOptions struct {
	configPath  string
	showVersion bool
}

// newFlagSet binds all CLI flags to cfg. ContinueOnError lets run()
// decide how to report parse failures.
func newFlagSet(cfg *config.Config, opts *cliOptions) *flag.FlagSet {
	fs := flag.NewFlagSet("gasrelay", flag.ContinueOnError)

	fs.StringVar(&opts.configPath, "config", "", "TOML configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "EVM JSON-RPC endpoint")
	fs.Uint64Var(&cfg.ChainID, "chainid", cfg.ChainID, "chain ID (0 = ask the RPC endpoint)")
	fs.StringVar(&cfg.ContractAddress, "contract", cfg.ContractAddress, "gas payer contract address")
	fs.StringVar(&cfg.HTTP.Addr, "http.addr", cfg.HTTP.Addr, "HTTP listen address")
	fs.StringVar(&cfg.Security.ConfigPath, "security.config", cfg.Security.ConfigPath, "security config JSON file")
	fs.BoolVar(&cfg.Security.Enabled, "security.enabled", cfg.Security.Enabled, "enable the API key gate")
	fs.BoolVar(&cfg.Oracle.Enabled, "oracle", cfg.Oracle.Enabled, "enable the USD price oracle")
	fs.IntVar(&cfg.Log.Verbosity, "verbosity", cfg.Log.Verbosity, "log level 0-5 (0=silent, 5=trace)")
	fs.StringVar(&cfg.Log.Format, "log.format", cfg.Log.Format, "log format (json, text)")

	return fs
}
