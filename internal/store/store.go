// Package store defines the persistence interfaces for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (default for the demo; state resets on restart).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chipcast/market-engine/internal/model"
)

// Sentinel errors shared by all implementations. Handlers translate these
// into HTTP statuses with errors.Is; the core never swallows them.
var (
	ErrMarketNotFound        = errors.New("store: market not found")
	ErrMarketNotOpen         = errors.New("store: market is not open for betting")
	ErrMarketAlreadyResolved = errors.New("store: market already resolved")
	ErrWalletNotFound        = errors.New("store: wallet not found")
	ErrInsufficientBalance   = errors.New("store: insufficient balance")
	ErrInvalidAmount         = errors.New("store: amount must be positive")
)

// MarketStore holds Market records. Markets are created once, mutated by
// accepted bets and a single resolution, and never deleted.
type MarketStore interface {
	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns a snapshot of all markets in insertion order.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// ApplyClose transitions an open market to closed (betting stops,
	// resolution still pending). Fails with ErrMarketNotFound or
	// ErrMarketNotOpen.
	ApplyClose(ctx context.Context, marketID string) error

	// ApplyResolution marks the market resolved exactly once. This is the
	// single source of truth for the already-resolved guard: a second call
	// fails with ErrMarketAlreadyResolved and leaves state untouched.
	ApplyResolution(ctx context.Context, marketID, option string, details *model.ResolutionDetails) (*model.Market, error)

	// ListExpiredMarkets returns open markets whose end date has passed.
	ListExpiredMarkets(ctx context.Context, now time.Time) ([]model.Market, error)
}

// BetLedger is the append-only log of placed bets.
type BetLedger interface {
	// RecordBet appends an immutable bet record.
	RecordBet(ctx context.Context, bet *model.Bet) error

	// GetBetsByMarket returns all bets for a market in insertion order —
	// winning and losing alike; this is the settlement input.
	GetBetsByMarket(ctx context.Context, marketID string) ([]model.Bet, error)

	// GetBetsByWallet returns all bets placed by an address.
	GetBetsByWallet(ctx context.Context, address string) ([]model.Bet, error)
}

// WalletLedger tracks CHIPS balances. EnsureWallet is the only lazy-create
// path; GetBalance is a pure read and never mutates state.
type WalletLedger interface {
	// EnsureWallet returns the existing wallet or creates one with the
	// given starting balance. Idempotent: the balance of an existing
	// wallet is never reset.
	EnsureWallet(ctx context.Context, address string, initial decimal.Decimal) (*model.Wallet, error)

	// GetBalance returns the current balance, or zero for an unknown
	// address without creating it.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// Credit adds amount (>= 0) to an initialized wallet. Fails with
	// ErrInvalidAmount or ErrWalletNotFound.
	Credit(ctx context.Context, address string, amount decimal.Decimal) error

	// Debit subtracts amount (> 0) from an initialized wallet, atomically
	// with the authorizing balance check. Fails with ErrInvalidAmount,
	// ErrWalletNotFound, or ErrInsufficientBalance.
	Debit(ctx context.Context, address string, amount decimal.Decimal) error
}

// Store is the combined persistence interface the service layer consumes.
type Store interface {
	MarketStore
	BetLedger
	WalletLedger

	// PlaceBet applies a bet atomically across all three ledgers: the
	// wallet debit, the bet record, and the pool update happen together
	// or not at all — no failure leaves a partial mutation behind. Fails
	// with ErrInvalidAmount, ErrMarketNotFound, ErrMarketNotOpen,
	// ErrWalletNotFound, or ErrInsufficientBalance.
	PlaceBet(ctx context.Context, bet *model.Bet) (*model.Market, error)
}
