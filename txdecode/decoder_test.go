package txdecode

import (
	"bytes"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var testChainID = big.NewInt(1337)

func newSignedLegacy(t *testing.T, key *ecdsa.PrivateKey, gasPrice *big.Int) string {
	t.Helper()
	to := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(testChainID), &types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    big.NewInt(42),
		Gas:      100_000,
		GasPrice: gasPrice,
		Data:     []byte{0xde, 0xad},
	})
	if err != nil {
		t.Fatalf("sign legacy: %v", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal legacy: %v", err)
	}
	return hexutil.Encode(raw)
}

func newSignedDynamic(t *testing.T, key *ecdsa.PrivateKey, feeCap, tipCap *big.Int) string {
	t.Helper()
	to := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(testChainID), &types.DynamicFeeTx{
		ChainID:   testChainID,
		Nonce:     7,
		To:        &to,
		Value:     big.NewInt(0),
		Gas:       130_000,
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
	})
	if err != nil {
		t.Fatalf("sign dynamic: %v", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal dynamic: %v", err)
	}
	return hexutil.Encode(raw)
}

func TestDecode_Legacy(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	rawHex := newSignedLegacy(t, key, big.NewInt(25_000_000_000))

	decoded, err := Decode(rawHex, testChainID)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Sender != from {
		t.Fatalf("sender = %s, want %s", decoded.Sender, from)
	}
	if decoded.Type != TxLegacy {
		t.Fatalf("type = %q, want legacy", decoded.Type)
	}
	if decoded.GasLimit != 100_000 {
		t.Fatalf("gas limit = %d, want 100000", decoded.GasLimit)
	}
	if decoded.EffectiveGasPrice.Cmp(big.NewInt(25_000_000_000)) != 0 {
		t.Fatalf("effective gas price = %s, want 25 gwei", decoded.EffectiveGasPrice)
	}
	if decoded.Value.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("value = %s, want 42", decoded.Value)
	}
	if !bytes.Equal(decoded.Data, []byte{0xde, 0xad}) {
		t.Fatalf("data = %x", decoded.Data)
	}
	if decoded.To == nil || *decoded.To != common.HexToAddress("0x00000000000000000000000000000000000000cc") {
		t.Fatalf("to = %v", decoded.To)
	}
}

func TestDecode_DynamicFee(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	feeCap := big.NewInt(40_000_000_000)
	rawHex := newSignedDynamic(t, key, feeCap, big.NewInt(2_000_000_000))

	decoded, err := Decode(rawHex, testChainID)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Sender != from {
		t.Fatalf("sender = %s, want %s", decoded.Sender, from)
	}
	if decoded.Type != TxDynamicFee {
		t.Fatalf("type = %q, want eip1559", decoded.Type)
	}
	// Effective price is maxFeePerGas, not the tip.
	if decoded.EffectiveGasPrice.Cmp(feeCap) != 0 {
		t.Fatalf("effective gas price = %s, want %s", decoded.EffectiveGasPrice, feeCap)
	}
}

func TestDecode_BareHex(t *testing.T) {
	key, _ := crypto.GenerateKey()
	rawHex := newSignedLegacy(t, key, big.NewInt(1_000_000_000))

	decoded, err := Decode(rawHex[2:], testChainID)
	if err != nil {
		t.Fatalf("Decode without prefix: %v", err)
	}
	if decoded.RawHex != rawHex {
		t.Fatalf("RawHex = %q, want normalized %q", decoded.RawHex, rawHex)
	}
}

func TestDecode_Deterministic(t *testing.T) {
	key, _ := crypto.GenerateKey()
	rawHex := newSignedDynamic(t, key, big.NewInt(30_000_000_000), big.NewInt(1))

	a, err := Decode(rawHex, testChainID)
	if err != nil {
		t.Fatalf("first decode: %v", err)
	}
	b, err := Decode(rawHex, testChainID)
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}

	if a.Sender != b.Sender || a.Hash != b.Hash || a.GasLimit != b.GasLimit {
		t.Fatalf("decode not deterministic: %+v vs %+v", a, b)
	}
	if a.EffectiveGasPrice.Cmp(b.EffectiveGasPrice) != 0 {
		t.Fatal("effective gas price differs between decodes")
	}
}

func TestDecode_Garbage(t *testing.T) {
	tests := []struct {
		name string
		hex  string
	}{
		{"empty", ""},
		{"not hex", "0xzzzz"},
		{"odd length", "0xabc"},
		{"truncated rlp", "0xf86b0184"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.hex, testChainID); err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", tt.hex)
			}
		})
	}
}

func TestDecode_UnsupportedType(t *testing.T) {
	key, _ := crypto.GenerateKey()
	to := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(testChainID), &types.AccessListTx{
		ChainID:  testChainID,
		Nonce:    1,
		To:       &to,
		Gas:      60_000,
		GasPrice: big.NewInt(1_000_000_000),
	})
	if err != nil {
		t.Fatalf("sign access list tx: %v", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	_, err = Decode(hexutil.Encode(raw), testChainID)
	if err == nil {
		t.Fatal("expected rejection of access list transaction")
	}
	var decErr *Error
	if !asDecodeError(err, &decErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
}

func asDecodeError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}
