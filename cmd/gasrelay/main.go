// Command gasrelay runs the gas-sponsoring transaction relay.
//
// Usage:
//
//	gasrelay [flags]
//
// Flags:
//
//	--config            TOML configuration file
//	--rpc-url           EVM JSON-RPC endpoint (required)
//	--contract          Gas payer contract address (required)
//	--chainid           Chain ID (default: 0, ask the RPC endpoint)
//	--http.addr         HTTP listen address (default: :8080)
//	--security.config   Security config JSON file
//	--security.enabled  Enable the API key gate (default: true)
//	--oracle            Enable the USD price oracle (default: false)
//	--verbosity         Log level 0-5 (default: 3)
//	--log.format        Log format: json, text (default: json)
//	--version           Print version and exit
//
// Configuration resolves in four layers: built-in defaults, the TOML
// file, GASRELAY_* environment variables, then flags.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gasrelay/gasrelay/api"
	"github.com/gasrelay/gasrelay/chain"
	"github.com/gasrelay/gasrelay/config"
	"github.com/gasrelay/gasrelay/gaspayer"
	"github.com/gasrelay/gasrelay/gaspolicy"
	"github.com/gasrelay/gasrelay/log"
	"github.com/gasrelay/gasrelay/metrics"
	"github.com/gasrelay/gasrelay/plugin"
	"github.com/gasrelay/gasrelay/plugins/transfer"
	"github.com/gasrelay/gasrelay/priceoracle"
	"github.com/gasrelay/gasrelay/relay"
	"github.com/gasrelay/gasrelay/security"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, exit, code := resolveConfig(args)
	if exit {
		return code
	}

	logger := newLogger(cfg)
	log.SetDefault(logger)

	logger.Info("gasrelay starting", "version", version, "commit", commit)
	logger.Info("configuration resolved",
		"rpc", cfg.RPCURL,
		"contract", cfg.ContractAddress,
		"chainid", cfg.ChainID,
		"http", cfg.HTTP.Addr,
		"security", cfg.Security.Enabled,
		"oracle", cfg.Oracle.Enabled,
		"verbosity", cfg.Log.Verbosity,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := chain.Dial(dialCtx, cfg.RPCURL)
	if err != nil {
		logger.Error("cannot reach RPC endpoint", "url", cfg.RPCURL, "err", err)
		return 1
	}
	defer client.Close()

	chainID := new(big.Int).SetUint64(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(dialCtx)
		if err != nil {
			logger.Error("cannot determine chain ID", "err", err)
			return 1
		}
		logger.Info("chain ID fetched from node", "chainid", chainID)
	}

	var oracle priceoracle.Oracle
	var formatter relay.AmountFormatter
	if cfg.Oracle.Enabled {
		httpOracle := priceoracle.NewHTTP(cfg.Oracle.Endpoint, chainID.Uint64(),
			cfg.Oracle.CacheTTL, logger.Module("priceoracle"))
		oracle = httpOracle
		formatter = priceoracle.NewFormatter(httpOracle)
	}

	var store *security.Store
	if cfg.Security.Enabled {
		store, err = security.NewStore(cfg.Security.ConfigPath, logger.Module("security"))
		if err != nil {
			logger.Error("cannot load security config", "path", cfg.Security.ConfigPath, "err", err)
			return 1
		}
		defer store.Close()
	} else {
		logger.Warn("API key gate disabled, all requests are anonymous")
	}

	reg := metrics.NewRegistry()
	policy := gaspolicy.New(cfg.Gas, logger.Module("gaspolicy"))
	contract := cfg.Contract()

	funders := func(wallet *security.WalletBinding) relay.Funder {
		return gaspayer.New(client, contract, chainID, wallet, gaspayer.Options{
			ReceiptAttempts: cfg.Gas.ReceiptPollAttempts,
			ReceiptInterval: cfg.Gas.ReceiptPollInterval,
			Logger:          logger.Module("gaspayer"),
		})
	}

	engine := relay.New(client, policy, funders, chainID, relay.Config{
		ReceiptPollAttempts: cfg.Gas.ReceiptPollAttempts,
		ReceiptPollInterval: cfg.Gas.ReceiptPollInterval,
	}, formatter, reg, logger.Module("relay"))

	registry := plugin.NewRegistry(logger.Module("plugin"))
	if err := registry.Register(transfer.New()); err != nil {
		logger.Error("plugin registration failed", "err", err)
		return 1
	}
	if err := registry.InitAll(engine); err != nil {
		logger.Error("plugin initialization failed", "err", err)
		return 1
	}

	server := api.New(cfg, client, registry, store, reg, oracle, logger.Module("api"))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "err", err)
			return 1
		}
		return 0
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}

// resolveConfig layers defaults, the TOML file, environment variables,
// and flags, in that order. Flags are parsed twice: once to locate the
// config file, once on top of the merged configuration so they win.
func resolveConfig(args []string) (*config.Config, bool, int) {
	probe := config.DefaultConfig()
	var opts cliOptions
	if err := newFlagSet(probe, &opts).Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, true, 2
	}
	if opts.showVersion {
		fmt.Printf("gasrelay %s (commit %s)\n", version, commit)
		return nil, true, 0
	}

	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		if err := config.LoadFile(cfg, opts.configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return nil, true, 1
		}
	}
	if err := config.FromEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, true, 1
	}
	if err := newFlagSet(cfg, &opts).Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, true, 2
	}

	return cfg, false, 0
}

func newLogger(cfg *config.Config) *log.Logger {
	level := log.VerbosityToLevel(cfg.Log.Verbosity)
	if cfg.Log.Format == "text" {
		return log.NewText(level)
	}
	return log.New(level)
}
