// Package security implements the hot-reloadable API key store that
// gates the relay. The on-disk format is a JSON file that operators may
// edit at any time; the store watches it and republishes an immutable
// snapshot on every change.
package security

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// fileFormat is the on-disk JSON shape.
type fileFormat struct {
	APIKeys           []fileKey    `json:"apiKeys"`
	GlobalIPWhitelist []string     `json:"globalIpWhitelist"`
	Settings          fileSettings `json:"settings"`
}

type fileKey struct {
	Key          string      `json:"key"`
	Name         string      `json:"name"`
	AllowedIPs   []string    `json:"allowedIps"`
	Enabled      bool        `json:"enabled"`
	Description  string      `json:"description,omitempty"`
	WalletConfig *fileWallet `json:"walletConfig,omitempty"`
}

type fileWallet struct {
	PrivateKey string `json:"privateKey"`
	Address    string `json:"address,omitempty"`
}

type fileSettings struct {
	RequireAPIKey              bool `json:"requireApiKey"`
	EnforceIPWhitelist         bool `json:"enforceIpWhitelist"`
	LogFailedAttempts          bool `json:"logFailedAttempts"`
	RateLimitEnabled           bool `json:"rateLimitEnabled"`
	RateLimitRequestsPerMinute int  `json:"rateLimitRequestsPerMinute"`
}

// WalletBinding is a funding wallet owned by exactly one API key.
type WalletBinding struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// ApiKeyRecord is one authenticated client. Records are immutable once
// published in a snapshot; reloads replace them wholesale.
type ApiKeyRecord struct {
	Key         string
	Name        string
	Enabled     bool
	AllowedIPs  []string
	Description string

	// Wallet is nil when the tenant cannot fund transactions.
	Wallet *WalletBinding
}

// Settings mirrors the file's settings block.
type Settings struct {
	RequireAPIKey              bool
	EnforceIPWhitelist         bool
	LogFailedAttempts          bool
	RateLimitEnabled           bool
	RateLimitRequestsPerMinute int
}

// Snapshot is an immutable view of the security configuration,
// published atomically by the store. The key index contains only
// enabled records.
type Snapshot struct {
	keys              map[string]*ApiKeyRecord
	globalIPWhitelist []string
	settings          Settings
	loadedAt          time.Time
}

// Lookup returns the enabled record for key, or nil.
func (s *Snapshot) Lookup(key string) *ApiKeyRecord {
	return s.keys[key]
}

// Settings returns the snapshot's settings block.
func (s *Snapshot) Settings() Settings {
	return s.settings
}

// LoadedAt reports when this snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// KeyCount returns the number of enabled keys in the index.
func (s *Snapshot) KeyCount() int {
	return len(s.keys)
}

// TenantContext is the request-scoped identity attached by the auth
// gate once a request passes validation.
type TenantContext struct {
	APIKeyName string
	ClientIP   string

	// Wallet is the tenant's funding wallet, nil when unbound.
	Wallet *WalletBinding
}

// parseWallet validates and parses a wallet config block. The private
// key must be 64 hex characters, 0x prefix optional. When the file
// carries an address it must match the derived one.
func parseWallet(fw *fileWallet) (*WalletBinding, error) {
	if fw == nil {
		return nil, nil
	}
	keyHex := strings.TrimPrefix(strings.TrimPrefix(fw.PrivateKey, "0x"), "0X")
	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	derived := crypto.PubkeyToAddress(priv.PublicKey)
	if fw.Address != "" {
		if !common.IsHexAddress(fw.Address) {
			return nil, fmt.Errorf("invalid wallet address %q", fw.Address)
		}
		if common.HexToAddress(fw.Address) != derived {
			return nil, fmt.Errorf("wallet address %s does not match private key (derived %s)", fw.Address, derived.Hex())
		}
	}
	return &WalletBinding{PrivateKey: priv, Address: derived}, nil
}
