package relay

import "errors"

// ErrorKind classifies why a relay request failed. Kinds are stable
// strings used by metrics and tests; the human-readable text lives in
// Outcome.Error.
type ErrorKind string

const (
	// KindNone marks a successful outcome.
	KindNone ErrorKind = ""
	// KindDecode: malformed hex or unrecoverable sender.
	KindDecode ErrorKind = "decode"
	// KindValidation: a gas ceiling was violated.
	KindValidation ErrorKind = "validation"
	// KindNoWallet: funding required but the tenant has no bound wallet.
	KindNoWallet ErrorKind = "no_tenant_wallet"
	// KindFundingFailed: the funding transaction reverted or could not
	// be submitted.
	KindFundingFailed ErrorKind = "funding_failed"
	// KindFundingTimeout: the sender balance never reached the target.
	KindFundingTimeout ErrorKind = "funding_timeout"
	// KindForwardFailed: the node rejected the user's raw transaction.
	KindForwardFailed ErrorKind = "forward_failed"
	// KindOnChainFailed: the user transaction mined but reverted.
	KindOnChainFailed ErrorKind = "onchain_failed"
	// KindChainRPC: a lower-level RPC I/O failure outside the other
	// categories, such as the network gas price being unavailable.
	KindChainRPC ErrorKind = "chain_rpc"
	// KindInternal: anything unexpected, including recovered panics.
	KindInternal ErrorKind = "internal"
)

// ErrNoTenantWallet is returned when a funding transfer is required but
// the tenant's API key carries no wallet binding.
var ErrNoTenantWallet = errors.New("tenant has no funding wallet configured")

// Outcome is the result of one relay request.
type Outcome struct {
	Success         bool      `json:"success"`
	TxHash          string    `json:"transactionHash,omitempty"`
	ContractAddress string    `json:"contractAddress,omitempty"`
	Error           string    `json:"error,omitempty"`
	Kind            ErrorKind `json:"-"`
}

func failure(kind ErrorKind, msg, txHash, contractAddr string) *Outcome {
	return &Outcome{
		Success:         false,
		TxHash:          txHash,
		ContractAddress: contractAddr,
		Error:           msg,
		Kind:            kind,
	}
}
