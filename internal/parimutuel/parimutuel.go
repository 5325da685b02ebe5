// Package parimutuel implements the constant-pool pari-mutuel settlement
// engine for binary prediction markets.
//
// Bets on both sides accumulate into a shared pool. On resolution the
// combined pool, net of a fixed platform fee, is distributed to winning
// bets in proportion to their stake:
//
//	payout(b) = (b.amount / winningPool) * totalPool * (1 - fee)
//
// All monetary values use shopspring/decimal — never float64 for money.
// Individual payouts round DOWN at PayoutScale, so the distributed sum
// never exceeds the fee-adjusted pool; the rounding remainder stays with
// the house alongside the fee.
package parimutuel

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/chipcast/market-engine/internal/model"
	"github.com/chipcast/market-engine/internal/store"
)

var (
	// ErrInvalidFee is returned when the fee rate is outside [0, 1).
	ErrInvalidFee = errors.New("parimutuel: fee rate must be in [0, 1)")

	// DefaultFeeRate is the platform commission withheld from payouts.
	DefaultFeeRate = decimal.NewFromFloat(0.02)

	// PayoutScale is the number of decimal places payouts are rounded
	// down to.
	PayoutScale int32 = 8
)

// Engine computes and applies proportional payout distributions. It is
// stateless — market pools and the bet log are passed as arguments.
type Engine struct {
	fee decimal.Decimal
}

// NewEngine creates a settlement engine with the given fee rate.
func NewEngine(fee decimal.Decimal) (*Engine, error) {
	if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidFee
	}
	return &Engine{fee: fee}, nil
}

// FeeRate returns the configured platform fee.
func (e *Engine) FeeRate() decimal.Decimal {
	return e.fee
}

// ImpliedOdds returns the pool-implied probabilities (yes, no). An empty
// market reads as even odds.
func ImpliedOdds(yesPool, noPool decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	total := yesPool.Add(noPool)
	if total.IsZero() {
		half := decimal.NewFromFloat(0.5)
		return half, half
	}
	yes := yesPool.Div(total).Round(4)
	return yes, decimal.NewFromInt(1).Sub(yes)
}

// Payout computes a single winning bet's share of the pool, net of fee,
// rounded down at PayoutScale. winningPool must be positive.
func (e *Engine) Payout(amount, winningPool, totalPool decimal.Decimal) decimal.Decimal {
	gross := amount.Div(winningPool).Mul(totalPool)
	net := gross.Mul(decimal.NewFromInt(1).Sub(e.fee))
	return net.RoundDown(PayoutScale)
}

// Credit is one wallet credit produced by a distribution.
type Credit struct {
	BetID         string
	WalletAddress string
	Amount        decimal.Decimal
}

// Distribute computes the payout credits for a resolved market. The pool
// snapshot (yesPool, noPool) must be taken from the market record as it
// stood at resolution time; payouts themselves come from the immutable bet
// log, one credit per winning bet.
//
// When nobody bet on the winning side the distribution is empty and no fee
// is collected — a defined edge case, not an error.
func (e *Engine) Distribute(bets []model.Bet, outcome string, yesPool, noPool decimal.Decimal) []Credit {
	totalPool := yesPool.Add(noPool)
	winningPool := yesPool
	if outcome == model.OptionNo {
		winningPool = noPool
	}

	if winningPool.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	var credits []Credit
	for _, b := range bets {
		if b.Option != outcome {
			continue
		}
		credits = append(credits, Credit{
			BetID:         b.ID,
			WalletAddress: b.WalletAddress,
			Amount:        e.Payout(b.Amount, winningPool, totalPool),
		})
	}
	return credits
}

// Settle distributes a resolved market's pool through the wallet ledger.
// Every winning bet is credited exactly once; idempotence is not provided
// here — the caller must have flipped the market to resolved first, which
// is what prevents a second distribution.
//
// Returns the total amount credited and the number of payouts applied.
func (e *Engine) Settle(ctx context.Context, m *model.Market, bets []model.Bet, wallets store.WalletLedger) (decimal.Decimal, int, error) {
	credits := e.Distribute(bets, *m.ResolvedOption, m.YesPool, m.NoPool)

	total := decimal.Zero
	for _, c := range credits {
		if err := wallets.Credit(ctx, c.WalletAddress, c.Amount); err != nil {
			return total, 0, err
		}
		total = total.Add(c.Amount)
	}
	return total, len(credits), nil
}
