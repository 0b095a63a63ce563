// Package gaspayer encodes and sends calls to the on-chain gas payer
// contract. The contract's job: paid gasAmount+fee, it forwards
// gasAmount native coin to a user address and keeps the fee. Adapters
// are built per relay call so each one carries exactly one tenant's
// wallet; they are never shared across tenants.
package gaspayer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gasrelay/gasrelay/chain"
	"github.com/gasrelay/gasrelay/log"
	"github.com/gasrelay/gasrelay/security"
)

// gasPayerABI is the fragment of the contract surface the relay uses.
const gasPayerABI = `[
  {"type":"function","name":"calculateFee","stateMutability":"view",
   "inputs":[{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"fee","type":"uint256"}]},
  {"type":"function","name":"fundAndRelay","stateMutability":"payable",
   "inputs":[{"name":"user","type":"address"},{"name":"gasAmount","type":"uint256"}],
   "outputs":[]}
]`

var (
	parsedABI  abi.ABI
	parseOnce  sync.Once
	parseError error
)

func contractABI() (abi.ABI, error) {
	parseOnce.Do(func() {
		parsedABI, parseError = abi.JSON(strings.NewReader(gasPayerABI))
	})
	return parsedABI, parseError
}

// fundingGasLimit is used when the node refuses to estimate the funding
// call; the contract's transfer-and-account path fits comfortably.
const fundingGasLimit = 150_000

// Adapter sends gas payer contract calls using one tenant's wallet.
type Adapter struct {
	client   chain.Client
	contract common.Address
	chainID  *big.Int
	wallet   *security.WalletBinding

	receiptAttempts int
	receiptInterval time.Duration
	logger          *log.Logger
}

// Options tune receipt polling for the funding transaction.
type Options struct {
	ReceiptAttempts int
	ReceiptInterval time.Duration
	Logger          *log.Logger
}

// New builds an adapter bound to the tenant's wallet. The wallet may be
// nil for fee-only (view) use; FundAndRelay then fails.
func New(client chain.Client, contract common.Address, chainID *big.Int, wallet *security.WalletBinding, opts Options) *Adapter {
	if opts.ReceiptAttempts <= 0 {
		opts.ReceiptAttempts = 30
	}
	if opts.ReceiptInterval <= 0 {
		opts.ReceiptInterval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default().Module("gaspayer")
	}
	return &Adapter{
		client:          client,
		contract:        contract,
		chainID:         chainID,
		wallet:          wallet,
		receiptAttempts: opts.ReceiptAttempts,
		receiptInterval: opts.ReceiptInterval,
		logger:          opts.Logger,
	}
}

// CalculateFee asks the contract for its fee on transferring amount.
// Errors are returned as-is; the gas policy falls back to a fixed
// estimate.
func (a *Adapter) CalculateFee(ctx context.Context, amount *big.Int) (*big.Int, error) {
	cabi, err := contractABI()
	if err != nil {
		return nil, err
	}
	input, err := cabi.Pack("calculateFee", amount)
	if err != nil {
		return nil, fmt.Errorf("gaspayer: pack calculateFee: %w", err)
	}

	out, err := a.client.CallContract(ctx, ethereum.CallMsg{
		To:   &a.contract,
		Data: input,
	})
	if err != nil {
		return nil, err
	}

	results, err := cabi.Unpack("calculateFee", out)
	if err != nil {
		return nil, fmt.Errorf("gaspayer: unpack calculateFee: %w", err)
	}
	fee, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("gaspayer: calculateFee returned %T, want *big.Int", results[0])
	}
	return fee, nil
}

// FundAndRelay sends fundAndRelay(user, gasAmount) with
// value = totalValue (gasAmount plus the contract's fee), signed by the
// tenant wallet, and waits for the receipt. Success requires status 1.
func (a *Adapter) FundAndRelay(ctx context.Context, user common.Address, gasAmount, totalValue *big.Int) (*types.Receipt, error) {
	if a.wallet == nil {
		return nil, fmt.Errorf("gaspayer: no wallet bound")
	}

	cabi, err := contractABI()
	if err != nil {
		return nil, err
	}
	input, err := cabi.Pack("fundAndRelay", user, gasAmount)
	if err != nil {
		return nil, fmt.Errorf("gaspayer: pack fundAndRelay: %w", err)
	}

	nonce, err := a.client.NonceAt(ctx, a.wallet.Address)
	if err != nil {
		return nil, err
	}

	call := ethereum.CallMsg{
		From:  a.wallet.Address,
		To:    &a.contract,
		Value: totalValue,
		Data:  input,
	}
	gasLimit, err := a.client.EstimateGas(ctx, call)
	if err != nil {
		a.logger.Warn("gas estimation for funding call failed, using fixed limit",
			"limit", fundingGasLimit, "err", err)
		gasLimit = fundingGasLimit
	}

	tx, err := a.buildSignedTx(ctx, nonce, gasLimit, totalValue, input)
	if err != nil {
		return nil, err
	}

	if err := a.client.SendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	a.logger.Info("funding transaction sent",
		"hash", tx.Hash().Hex(), "user", user.Hex(),
		"gasAmount", gasAmount.String(), "totalValue", totalValue.String())

	receipt, err := a.awaitReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("gaspayer: funding transaction %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

// buildSignedTx prefers an EIP-1559 transaction when the chain exposes
// a base fee, falling back to legacy pricing otherwise.
func (a *Adapter) buildSignedTx(ctx context.Context, nonce, gasLimit uint64, value *big.Int, input []byte) (*types.Transaction, error) {
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	var inner types.TxData
	header, headerErr := a.client.HeaderByNumber(ctx, nil)
	if headerErr == nil && header.BaseFee != nil && header.BaseFee.Sign() > 0 {
		// feeCap = 2*baseFee + tip leaves headroom for base fee drift.
		tip := gasPrice
		feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		inner = &types.DynamicFeeTx{
			ChainID:   a.chainID,
			Nonce:     nonce,
			To:        &a.contract,
			Value:     value,
			Gas:       gasLimit,
			GasFeeCap: feeCap,
			GasTipCap: tip,
			Data:      input,
		}
	} else {
		inner = &types.LegacyTx{
			Nonce:    nonce,
			To:       &a.contract,
			Value:    value,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     input,
		}
	}

	signed, err := types.SignNewTx(a.wallet.PrivateKey, types.LatestSignerForChainID(a.chainID), inner)
	if err != nil {
		return nil, fmt.Errorf("gaspayer: sign funding tx: %w", err)
	}
	return signed, nil
}

// awaitReceipt polls until the funding transaction is mined or the
// attempt budget runs out.
func (a *Adapter) awaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for i := 0; i < a.receiptAttempts; i++ {
		receipt, err := a.client.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.receiptInterval):
		}
	}
	return nil, fmt.Errorf("gaspayer: funding transaction %s not mined within %d attempts", hash.Hex(), a.receiptAttempts)
}
