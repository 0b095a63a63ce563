// Package txdecode parses hex-encoded signed EVM transactions and
// recovers their senders. Decoding is pure: the same hex always yields
// the same result, and nothing here touches the network.
package txdecode

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxType classifies the supported transaction encodings.
type TxType string

const (
	// TxLegacy is a pre-EIP-2718 RLP transaction.
	TxLegacy TxType = "legacy"
	// TxDynamicFee is an EIP-1559 typed transaction.
	TxDynamicFee TxType = "eip1559"
)

// DecodedTx is the parsed view of a signed transaction. To is nil for
// contract creation. EffectiveGasPrice is gasPrice for legacy txs and
// maxFeePerGas for EIP-1559 txs.
type DecodedTx struct {
	Sender            common.Address
	To                *common.Address
	Value             *big.Int
	Data              []byte
	GasLimit          uint64
	EffectiveGasPrice *big.Int
	Type              TxType
	Hash              common.Hash

	// RawHex is the normalized 0x-prefixed input, kept for logging.
	// The relay forwards the caller's original string, not this field.
	RawHex string
}

// Error describes a decoding or sender-recovery failure.
type Error struct {
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "decode: " + e.Reason
}

// Decode parses a signed transaction hex (0x-prefixed or bare) and
// recovers the sender against chainID. Only legacy and EIP-1559
// transactions are accepted; other typed transactions cannot be relayed
// through the gas payer contract.
func Decode(rawHex string, chainID *big.Int) (*DecodedTx, error) {
	trimmed := strings.TrimSpace(rawHex)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}

	raw, err := hexutil.Decode(trimmed)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("invalid hex: %v", err)}
	}
	if len(raw) == 0 {
		return nil, &Error{Reason: "empty transaction"}
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("malformed transaction: %v", err)}
	}

	var txType TxType
	var effectivePrice *big.Int
	switch tx.Type() {
	case types.LegacyTxType:
		txType = TxLegacy
		effectivePrice = tx.GasPrice()
	case types.DynamicFeeTxType:
		txType = TxDynamicFee
		effectivePrice = tx.GasFeeCap()
	default:
		return nil, &Error{Reason: fmt.Sprintf("unsupported transaction type %d", tx.Type())}
	}

	signer := types.LatestSignerForChainID(chainID)
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("sender recovery failed: %v", err)}
	}

	return &DecodedTx{
		Sender:            sender,
		To:                tx.To(),
		Value:             new(big.Int).Set(tx.Value()),
		Data:              tx.Data(),
		GasLimit:          tx.Gas(),
		EffectiveGasPrice: new(big.Int).Set(effectivePrice),
		Type:              txType,
		Hash:              tx.Hash(),
		RawHex:            strings.ToLower(trimmed),
	}, nil
}

// ContractAddress returns the destination address as a string for
// outcome reporting, or "" for contract creation.
func (d *DecodedTx) ContractAddress() string {
	if d.To == nil {
		return ""
	}
	return d.To.Hex()
}
