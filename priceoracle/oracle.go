// Package priceoracle supplies cached native-coin USD quotes so logs
// and the gas-costs endpoint can show human-readable amounts. Every
// failure here is soft: callers fall back to plain wei and the relay
// pipeline is never affected.
package priceoracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gasrelay/gasrelay/log"
)

// ErrUnavailable is returned for any quote failure; callers render
// plain wei instead.
var ErrUnavailable = errors.New("price oracle unavailable")

// Quote is a native-coin price at a point in time.
type Quote struct {
	Symbol    string
	USD       decimal.Decimal
	FetchedAt time.Time
}

// Oracle provides native-coin quotes. Implementations must be safe for
// concurrent use.
type Oracle interface {
	Quote(ctx context.Context) (Quote, error)
}

// chainSymbols maps chain IDs to the native coin symbol and the feed's
// asset identifier. Unknown chains fall back to ethereum.
var chainSymbols = map[uint64]struct {
	symbol string
	feedID string
}{
	1:        {"ETH", "ethereum"},
	5:        {"ETH", "ethereum"},
	11155111: {"ETH", "ethereum"},
	56:       {"BNB", "binancecoin"},
	137:      {"POL", "polygon-ecosystem-token"},
	8453:     {"ETH", "ethereum"},
	42161:    {"ETH", "ethereum"},
}

// SymbolForChain returns the native coin symbol for a chain ID.
func SymbolForChain(chainID uint64) string {
	if entry, ok := chainSymbols[chainID]; ok {
		return entry.symbol
	}
	return "ETH"
}

func feedIDForChain(chainID uint64) string {
	if entry, ok := chainSymbols[chainID]; ok {
		return entry.feedID
	}
	return "ethereum"
}

// HTTPOracle fetches quotes from a JSON price feed and caches them with
// per-entry timestamps. Last write wins on concurrent refresh.
type HTTPOracle struct {
	endpoint string // template, %s replaced with the feed asset id
	chainID  uint64
	ttl      time.Duration
	client   *http.Client
	logger   *log.Logger

	mu    sync.RWMutex
	cache map[string]Quote
	now   func() time.Time
}

// NewHTTP creates an oracle for chainID fetching from the endpoint
// template.
func NewHTTP(endpoint string, chainID uint64, ttl time.Duration, logger *log.Logger) *HTTPOracle {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = log.Default().Module("priceoracle")
	}
	return &HTTPOracle{
		endpoint: endpoint,
		chainID:  chainID,
		ttl:      ttl,
		client:   &http.Client{Timeout: 3 * time.Second},
		logger:   logger,
		cache:    make(map[string]Quote),
		now:      time.Now,
	}
}

// Quote returns the cached quote when fresh, refreshing otherwise.
func (o *HTTPOracle) Quote(ctx context.Context) (Quote, error) {
	feedID := feedIDForChain(o.chainID)

	o.mu.RLock()
	cached, ok := o.cache[feedID]
	o.mu.RUnlock()
	if ok && o.now().Sub(cached.FetchedAt) < o.ttl {
		return cached, nil
	}

	quote, err := o.fetch(ctx, feedID)
	if err != nil {
		o.logger.Warn("price fetch failed", "asset", feedID, "err", err)
		// A stale quote beats no quote.
		if ok {
			return cached, nil
		}
		return Quote{}, ErrUnavailable
	}

	o.mu.Lock()
	o.cache[feedID] = quote
	o.mu.Unlock()
	return quote, nil
}

func (o *HTTPOracle) fetch(ctx context.Context, feedID string) (Quote, error) {
	url := fmt.Sprintf(o.endpoint, feedID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	// Feed shape: {"<asset>": {"usd": 1234.56}}
	var body map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, err
	}
	usdRaw, ok := body[feedID]["usd"]
	if !ok {
		return Quote{}, fmt.Errorf("feed response missing %s.usd", feedID)
	}
	usd, err := decimal.NewFromString(usdRaw.String())
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Symbol:    SymbolForChain(o.chainID),
		USD:       usd,
		FetchedAt: o.now(),
	}, nil
}

// weiPerCoin is 10^18 as a decimal divisor.
var weiPerCoin = decimal.NewFromBigInt(big.NewInt(1), 18)

// Formatter renders wei amounts with native and USD values when a
// quote is available. It implements relay.AmountFormatter.
type Formatter struct {
	oracle Oracle
}

// NewFormatter wraps an oracle; a nil oracle always renders plain wei.
func NewFormatter(oracle Oracle) *Formatter {
	return &Formatter{oracle: oracle}
}

// FormatWei renders "0.0025 ETH ($4.21)", falling back to
// "2500000000000000 wei" whenever the oracle fails.
func (f *Formatter) FormatWei(ctx context.Context, wei *big.Int) string {
	if wei == nil {
		return "0 wei"
	}
	if f.oracle == nil {
		return wei.String() + " wei"
	}

	quote, err := f.oracle.Quote(ctx)
	if err != nil {
		return wei.String() + " wei"
	}

	native := decimal.NewFromBigInt(wei, 0).Div(weiPerCoin)
	usd := native.Mul(quote.USD)
	return fmt.Sprintf("%s %s ($%s)", native.String(), quote.Symbol, usd.StringFixed(2))
}

// NativeAmount converts wei to the native decimal representation.
func NativeAmount(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerCoin)
}
