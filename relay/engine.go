// Package relay implements the transaction-processing pipeline: decode,
// validate, fund when the sender is short, forward the user's bytes
// untouched, and track the receipt. Each request runs the pipeline
// strictly in order; any error terminates it.
package relay

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gasrelay/gasrelay/chain"
	"github.com/gasrelay/gasrelay/gaspolicy"
	"github.com/gasrelay/gasrelay/log"
	"github.com/gasrelay/gasrelay/metrics"
	"github.com/gasrelay/gasrelay/security"
	"github.com/gasrelay/gasrelay/txdecode"
)

// Funder sends gas payer contract calls for one tenant.
// gaspayer.Adapter satisfies it.
type Funder interface {
	CalculateFee(ctx context.Context, amount *big.Int) (*big.Int, error)
	FundAndRelay(ctx context.Context, user common.Address, gasAmount, totalValue *big.Int) (*types.Receipt, error)
}

// FunderFactory builds a Funder bound to a tenant wallet. A nil wallet
// yields a view-only funder usable for fee estimation.
type FunderFactory func(wallet *security.WalletBinding) Funder

// AmountFormatter renders wei amounts for logs. The price oracle
// provides one; a nil formatter falls back to plain wei.
type AmountFormatter interface {
	FormatWei(ctx context.Context, wei *big.Int) string
}

// Config bounds the engine's polling loops.
type Config struct {
	ReceiptPollAttempts int
	ReceiptPollInterval time.Duration
}

// Engine orchestrates the relay pipeline. It is safe for concurrent
// use; per-request state never leaves Process.
type Engine struct {
	client    chain.Client
	policy    *gaspolicy.Policy
	funders   FunderFactory
	chainID   *big.Int
	cfg       Config
	formatter AmountFormatter
	registry  *metrics.Registry
	logger    *log.Logger
}

// New creates a relay engine.
func New(client chain.Client, policy *gaspolicy.Policy, funders FunderFactory, chainID *big.Int, cfg Config, formatter AmountFormatter, registry *metrics.Registry, logger *log.Logger) *Engine {
	if cfg.ReceiptPollAttempts <= 0 {
		cfg.ReceiptPollAttempts = 30
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	if logger == nil {
		logger = log.Default().Module("relay")
	}
	return &Engine{
		client:    client,
		policy:    policy,
		funders:   funders,
		chainID:   chainID,
		cfg:       cfg,
		formatter: formatter,
		registry:  registry,
		logger:    logger,
	}
}

// ChainID returns the chain the engine relays to.
func (e *Engine) ChainID() *big.Int {
	return new(big.Int).Set(e.chainID)
}

// Process runs one relay request through the pipeline. The recovered
// signature sender is authoritative; userWalletHint is informational.
// The signedHex string given here is exactly what reaches the node.
func (e *Engine) Process(ctx context.Context, tenant *security.TenantContext, userWalletHint, signedHex, operation string, expectedGasLimit uint64) (outcome *Outcome) {
	e.registry.Counter(metrics.RelayRequests).Inc()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in relay pipeline", "panic", fmt.Sprint(r), "operation", operation)
			outcome = failure(KindInternal, fmt.Sprintf("internal error: %v", r), "", "")
		}
		e.count(outcome)
	}()

	tenantName := "anonymous"
	if tenant != nil {
		tenantName = tenant.APIKeyName
	}
	logger := e.logger.With("operation", operation, "tenant", tenantName)

	// Step 1: decode.
	decoded, err := txdecode.Decode(signedHex, e.chainID)
	if err != nil {
		logger.Warn("transaction decode failed", "err", err)
		return failure(KindDecode, err.Error(), "", "")
	}
	contractAddr := decoded.ContractAddress()

	// Step 2: the recovered sender wins over the client's hint.
	if userWalletHint != "" && !addressEqual(userWalletHint, decoded.Sender) {
		logger.Warn("user wallet hint differs from recovered sender",
			"hint", userWalletHint, "sender", decoded.Sender.Hex())
	}
	logger = logger.With("sender", decoded.Sender.Hex())

	// Step 3: validate against ceilings. The relative price check is
	// meaningless without a live network price, so an unreachable node
	// fails the request as an RPC error rather than a user fault.
	networkPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		logger.Error("network gas price unavailable", "err", err)
		return failure(KindChainRPC, fmt.Sprintf("chain rpc failure: %v", err), "", contractAddr)
	}
	if err := e.policy.Validate(decoded, operation, expectedGasLimit, networkPrice); err != nil {
		logger.Warn("transaction rejected", "err", err)
		return failure(KindValidation, err.Error(), "", contractAddr)
	}

	// Step 4: funding decision. Fee estimation needs no wallet.
	plan, err := e.policy.PlanFunding(ctx, decoded, e.client, e.funders(nil))
	if err != nil {
		logger.Error("funding planning failed", "err", err)
		return failure(KindInternal, err.Error(), "", contractAddr)
	}

	if plan.Transfer {
		// Steps 5-6: fund through the contract, then wait for the
		// balance to land.
		if tenant == nil || tenant.Wallet == nil {
			logger.Warn("funding required but tenant has no wallet",
				"deficit", e.format(ctx, plan.Deficit))
			return failure(KindNoWallet, ErrNoTenantWallet.Error(), "", contractAddr)
		}

		e.registry.Counter(metrics.FundingAttempts).Inc()
		logger.Info("funding sender",
			"deficit", e.format(ctx, plan.Deficit),
			"fee", e.format(ctx, plan.Fee),
			"total", e.format(ctx, plan.Total))

		funder := e.funders(tenant.Wallet)
		if _, err := funder.FundAndRelay(ctx, decoded.Sender, plan.Deficit, plan.Total); err != nil {
			e.registry.Counter(metrics.FundingFailures).Inc()
			logger.Error("funding transaction failed", "err", err)
			return failure(KindFundingFailed, fmt.Sprintf("funding failed: %v", err), "", contractAddr)
		}

		if err := e.policy.AwaitBalance(ctx, e.client, decoded.Sender, plan.Needed); err != nil {
			e.registry.Counter(metrics.FundingFailures).Inc()
			logger.Error("funded balance never arrived", "err", err)
			return failure(KindFundingTimeout, fmt.Sprintf("funding timeout: %v", err), "", contractAddr)
		}
	} else {
		logger.Debug("sender balance sufficient, skipping funding",
			"needed", e.format(ctx, plan.Needed))
	}

	// Step 7: forward the caller's bytes untouched.
	txHash, err := e.client.SendRawTransaction(ctx, signedHex)
	if err != nil {
		logger.Error("forward rejected by node", "err", err)
		return failure(KindForwardFailed, fmt.Sprintf("forward failed: %v", err), "", contractAddr)
	}
	logger = logger.With("txHash", txHash.Hex())
	logger.Info("transaction forwarded")

	// Step 8: receipt tracking.
	receipt, err := e.awaitReceipt(ctx, txHash)
	if err != nil {
		logger.Warn("receipt wait ended without result", "err", err)
		return failure(KindOnChainFailed,
			fmt.Sprintf("transaction submitted but unconfirmed: %v", err),
			txHash.Hex(), contractAddr)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Warn("transaction reverted on chain")
		return failure(KindOnChainFailed, "Transaction failed on blockchain", txHash.Hex(), contractAddr)
	}

	logger.Info("relay complete", "gasUsed", receipt.GasUsed)
	return &Outcome{
		Success:         true,
		TxHash:          txHash.Hex(),
		ContractAddress: contractAddr,
	}
}

// awaitReceipt polls for the forwarded transaction's receipt within the
// configured budget. A nil receipt after the budget is an error; RPC
// failures during polling are retried until the budget runs out.
func (e *Engine) awaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var lastErr error
	for i := 0; i < e.cfg.ReceiptPollAttempts; i++ {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err != nil {
			lastErr = err
		} else if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.ReceiptPollInterval):
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("no receipt after %d attempts (last error: %w)", e.cfg.ReceiptPollAttempts, lastErr)
	}
	return nil, fmt.Errorf("no receipt after %d attempts", e.cfg.ReceiptPollAttempts)
}

func (e *Engine) count(o *Outcome) {
	switch {
	case o == nil:
	case o.Success:
		e.registry.Counter(metrics.RelaySucceeded).Inc()
	case o.Kind == KindValidation || o.Kind == KindDecode:
		e.registry.Counter(metrics.RelayRejected).Inc()
	default:
		e.registry.Counter(metrics.RelayFailed).Inc()
	}
}

func (e *Engine) format(ctx context.Context, wei *big.Int) string {
	if e.formatter == nil {
		return wei.String() + " wei"
	}
	return e.formatter.FormatWei(ctx, wei)
}

func addressEqual(hint string, addr common.Address) bool {
	if !common.IsHexAddress(hint) {
		return false
	}
	return common.HexToAddress(hint) == addr
}
