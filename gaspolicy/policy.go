// Package gaspolicy decides whether a decoded transaction is acceptable
// and how much native coin its sender must be given before it can run.
// All wei arithmetic is integral: fractional multipliers from the
// configuration are applied in basis points (round(mult*100)/100) so
// results never drift the way floats would at wei scale.
package gaspolicy

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/gasrelay/gasrelay/config"
	"github.com/gasrelay/gasrelay/log"
	"github.com/gasrelay/gasrelay/txdecode"
)

// operationBufferPct pads a plugin-declared gas budget before it is
// enforced as a ceiling: users may legitimately set a limit somewhat
// above the expected cost.
const operationBufferPct = 120

// fallbackFeeBP is the assumed contract fee (5%) when calculateFee is
// unavailable.
const fallbackFeeBP = 500

// BalanceReader is the chain access the policy needs. chain.Client
// satisfies it.
type BalanceReader interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
}

// FeeSource estimates the gas payer contract's fee for a transfer.
// gaspayer.Adapter satisfies it.
type FeeSource interface {
	CalculateFee(ctx context.Context, amount *big.Int) (*big.Int, error)
}

// Dimension names the ceiling a transaction violated.
type Dimension string

const (
	// DimLimit is the gas limit ceiling.
	DimLimit Dimension = "gas_limit"
	// DimPrice is the gas price ceiling.
	DimPrice Dimension = "gas_price"
	// DimCost is the total cost ceiling (limit x price).
	DimCost Dimension = "total_cost"
)

// ValidationError reports a ceiling violation with the offending
// values, one distinguishable message per dimension.
type ValidationError struct {
	Dimension Dimension
	Operation string
	Actual    *big.Int
	Ceiling   *big.Int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch e.Dimension {
	case DimLimit:
		return fmt.Sprintf("gas limit %s exceeds ceiling %s for operation %q", e.Actual, e.Ceiling, e.Operation)
	case DimPrice:
		return fmt.Sprintf("gas price %s wei exceeds ceiling %s wei for operation %q", e.Actual, e.Ceiling, e.Operation)
	case DimCost:
		return fmt.Sprintf("total gas cost %s wei exceeds ceiling %s wei for operation %q", e.Actual, e.Ceiling, e.Operation)
	default:
		return fmt.Sprintf("gas validation failed for operation %q", e.Operation)
	}
}

// TimeoutError reports that a funded sender's balance never reached the
// needed amount within the polling budget.
type TimeoutError struct {
	Needed *big.Int
	Last   *big.Int
	Waited time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("balance %s wei did not reach %s wei within %s", e.Last, e.Needed, e.Waited)
}

// Decision is the funding outcome for one transaction. When Transfer is
// false the sender already holds enough and every other field but
// Needed is nil.
type Decision struct {
	// Transfer indicates the contract must be invoked.
	Transfer bool

	// Needed is padded gas cost plus transaction value; the balance
	// target the sender must reach.
	Needed *big.Int

	// Deficit is what the user actually receives.
	Deficit *big.Int

	// Fee is the contract's cut.
	Fee *big.Int

	// Total is Deficit+Fee, the value sent with fundAndRelay.
	Total *big.Int
}

// Policy validates transactions against configured ceilings and plans
// conditional funding.
type Policy struct {
	cfg    config.GasConfig
	logger *log.Logger

	priceMultiplierBP    uint64
	maxPriceMultiplierBP uint64
}

// New creates a Policy from the gas configuration.
func New(cfg config.GasConfig, logger *log.Logger) *Policy {
	if logger == nil {
		logger = log.Default().Module("gaspolicy")
	}
	return &Policy{
		cfg:                  cfg,
		logger:               logger,
		priceMultiplierBP:    toBasisHundredths(cfg.PriceMultiplier),
		maxPriceMultiplierBP: toBasisHundredths(cfg.MaxGasPriceMultiplier),
	}
}

// toBasisHundredths converts a fractional multiplier to hundredths
// (1.2 -> 120) for integer math.
func toBasisHundredths(mult float64) uint64 {
	if mult <= 0 {
		return 100
	}
	return uint64(math.Round(mult * 100))
}

// Validate applies the per-request ceilings. expectedGasLimit > 0
// activates the buffered operation budget; zero falls back to the
// configured global ceilings, including the total cost cap.
func (p *Policy) Validate(decoded *txdecode.DecodedTx, operation string, expectedGasLimit uint64, networkGasPrice *big.Int) error {
	// Gas limit ceiling.
	limitCeiling := p.cfg.MaxGasLimit
	if expectedGasLimit > 0 {
		limitCeiling = expectedGasLimit * operationBufferPct / 100
	}
	if decoded.GasLimit > limitCeiling {
		return &ValidationError{
			Dimension: DimLimit,
			Operation: operation,
			Actual:    new(big.Int).SetUint64(decoded.GasLimit),
			Ceiling:   new(big.Int).SetUint64(limitCeiling),
		}
	}

	// Gas price ceiling relative to the network price.
	if networkGasPrice != nil && networkGasPrice.Sign() > 0 {
		priceCeiling := mulDivHundred(networkGasPrice, p.maxPriceMultiplierBP)
		if decoded.EffectiveGasPrice.Cmp(priceCeiling) > 0 {
			return &ValidationError{
				Dimension: DimPrice,
				Operation: operation,
				Actual:    new(big.Int).Set(decoded.EffectiveGasPrice),
				Ceiling:   priceCeiling,
			}
		}
	}

	// Total cost ceiling applies only without a declared budget.
	if expectedGasLimit == 0 {
		cost := new(big.Int).Mul(
			new(big.Int).SetUint64(decoded.GasLimit),
			decoded.EffectiveGasPrice,
		)
		ceiling := new(big.Int).SetUint64(p.cfg.MaxTotalCostWei)
		if cost.Cmp(ceiling) > 0 {
			return &ValidationError{
				Dimension: DimCost,
				Operation: operation,
				Actual:    cost,
				Ceiling:   ceiling,
			}
		}
	}

	return nil
}

// PlanFunding computes the funding decision for a validated
// transaction. The fee estimate falls back to a fixed 5% when the
// contract view call fails; that is the only soft failure here.
func (p *Policy) PlanFunding(ctx context.Context, decoded *txdecode.DecodedTx, balances BalanceReader, fees FeeSource) (*Decision, error) {
	needed, err := p.neededBalance(decoded)
	if err != nil {
		return nil, err
	}

	balance, err := balances.BalanceAt(ctx, decoded.Sender)
	if err != nil {
		return nil, err
	}

	if balance.Cmp(needed) >= 0 {
		return &Decision{Transfer: false, Needed: needed}, nil
	}

	deficit := new(big.Int).Sub(needed, balance)
	fee, err := fees.CalculateFee(ctx, deficit)
	if err != nil {
		fee = mulDivBP(deficit, fallbackFeeBP)
		p.logger.Warn("contract fee estimate unavailable, assuming 5%",
			"deficit", deficit.String(), "fee", fee.String(), "err", err)
	}

	return &Decision{
		Transfer: true,
		Needed:   needed,
		Deficit:  deficit,
		Fee:      fee,
		Total:    new(big.Int).Add(deficit, fee),
	}, nil
}

// neededBalance is padded gas cost plus the transaction's value,
// computed in uint256 so an absurd limit x price pair is rejected
// instead of silently wrapping.
func (p *Policy) neededBalance(decoded *txdecode.DecodedTx) (*big.Int, error) {
	price, overflow := uint256.FromBig(decoded.EffectiveGasPrice)
	if overflow {
		return nil, fmt.Errorf("gas price %s does not fit 256 bits", decoded.EffectiveGasPrice)
	}

	base := new(uint256.Int).SetUint64(decoded.GasLimit)
	if _, overflow = base.MulOverflow(base, price); overflow {
		return nil, fmt.Errorf("gas cost overflow: limit %d price %s", decoded.GasLimit, decoded.EffectiveGasPrice)
	}

	padded := new(uint256.Int).SetUint64(p.priceMultiplierBP)
	if _, overflow = padded.MulOverflow(padded, base); overflow {
		return nil, fmt.Errorf("padded gas cost overflow")
	}
	padded.Div(padded, uint256.NewInt(100))

	value, overflow := uint256.FromBig(decoded.Value)
	if overflow {
		return nil, fmt.Errorf("value %s does not fit 256 bits", decoded.Value)
	}
	if _, overflow = padded.AddOverflow(padded, value); overflow {
		return nil, fmt.Errorf("needed balance overflow")
	}

	return padded.ToBig(), nil
}

// AwaitBalance polls the sender's balance until it reaches needed or
// the attempt budget runs out. The balance only has to meet the target,
// not equal it; concurrent funding simply finishes earlier.
func (p *Policy) AwaitBalance(ctx context.Context, balances BalanceReader, sender common.Address, needed *big.Int) error {
	attempts := p.cfg.BalancePollAttempts
	interval := p.cfg.BalancePollInterval

	var last *big.Int = big.NewInt(0)
	for i := 0; i < attempts; i++ {
		balance, err := balances.BalanceAt(ctx, sender)
		if err == nil {
			if balance.Cmp(needed) >= 0 {
				return nil
			}
			last = balance
		} else {
			p.logger.Warn("balance poll failed", "sender", sender.Hex(), "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	return &TimeoutError{
		Needed: new(big.Int).Set(needed),
		Last:   last,
		Waited: time.Duration(attempts) * interval,
	}
}

// mulDivHundred multiplies v by hundredths/100 (for multiplier
// ceilings).
func mulDivHundred(v *big.Int, hundredths uint64) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(hundredths))
	return out.Div(out, big.NewInt(100))
}

// mulDivBP multiplies v by bp/10000 (for fee percentages).
func mulDivBP(v *big.Int, bp uint64) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(bp))
	return out.Div(out, big.NewInt(10_000))
}
