// Package chain provides a thin client over an EVM JSON-RPC endpoint. It
// is the only package that talks to the node; everything above it works
// with the Client interface so tests can substitute fakes.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the chain access surface used by the relay. All methods are
// safe for concurrent use; blocking calls honor the context.
type Client interface {
	// BalanceAt returns the current balance of addr in wei.
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)

	// SendRawTransaction submits a signed transaction hex exactly as
	// supplied (modulo the mandatory 0x prefix) and returns its hash.
	SendRawTransaction(ctx context.Context, rawHex string) (common.Hash, error)

	// TransactionReceipt returns the receipt for hash, or (nil, nil)
	// while the transaction is unmined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// SuggestGasPrice returns the node's current gas price in wei.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// ChainID returns the chain identifier.
	ChainID(ctx context.Context) (*big.Int, error)

	// NonceAt returns the pending-state nonce of addr.
	NonceAt(ctx context.Context, addr common.Address) (uint64, error)

	// EstimateGas estimates gas for the given call.
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)

	// CallContract executes a read-only contract call at the latest block.
	CallContract(ctx context.Context, call ethereum.CallMsg) ([]byte, error)

	// HeaderByNumber returns the latest header when number is nil. Used
	// to detect EIP-1559 support (non-nil base fee).
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// SendTransaction submits an already-signed transaction object. Used
	// by the gas payer adapter for funding transactions.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// Close releases the underlying RPC connection.
	Close()
}

// RPCError wraps a JSON-RPC transport or node failure. It is never
// retried at this level; callers decide.
type RPCError struct {
	Op      string
	Message string
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("chain rpc: %s: %s", e.Op, e.Message)
}

// IsRPCError reports whether err is (or wraps) an RPCError.
func IsRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// rpcClient is the production Client backed by go-ethereum's ethclient.
// The raw rpc.Client is retained for eth_sendRawTransaction so the hex
// string supplied by the user reaches the node without re-encoding.
type rpcClient struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, &RPCError{Op: "dial", Message: err.Error()}
	}
	return &rpcClient{rpc: c, eth: ethclient.NewClient(c)}, nil
}

func (c *rpcClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, &RPCError{Op: "eth_getBalance", Message: err.Error()}
	}
	return bal, nil
}

func (c *rpcClient) SendRawTransaction(ctx context.Context, rawHex string) (common.Hash, error) {
	// The node requires the 0x prefix; adding it does not alter the
	// transaction bytes.
	if !strings.HasPrefix(rawHex, "0x") && !strings.HasPrefix(rawHex, "0X") {
		rawHex = "0x" + rawHex
	}
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", rawHex); err != nil {
		return common.Hash{}, &RPCError{Op: "eth_sendRawTransaction", Message: err.Error()}
	}
	return hash, nil
}

func (c *rpcClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &RPCError{Op: "eth_getTransactionReceipt", Message: err.Error()}
	}
	return receipt, nil
}

func (c *rpcClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &RPCError{Op: "eth_gasPrice", Message: err.Error()}
	}
	return price, nil
}

func (c *rpcClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, &RPCError{Op: "eth_chainId", Message: err.Error()}
	}
	return id, nil
}

func (c *rpcClient) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, &RPCError{Op: "eth_getTransactionCount", Message: err.Error()}
	}
	return nonce, nil
}

func (c *rpcClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, call)
	if err != nil {
		return 0, &RPCError{Op: "eth_estimateGas", Message: err.Error()}
	}
	return gas, nil
}

func (c *rpcClient) CallContract(ctx context.Context, call ethereum.CallMsg) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, call, nil)
	if err != nil {
		return nil, &RPCError{Op: "eth_call", Message: err.Error()}
	}
	return out, nil
}

func (c *rpcClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	header, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, &RPCError{Op: "eth_getBlockByNumber", Message: err.Error()}
	}
	return header, nil
}

func (c *rpcClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return &RPCError{Op: "eth_sendRawTransaction", Message: err.Error()}
	}
	return nil
}

func (c *rpcClient) Close() {
	c.eth.Close()
}
