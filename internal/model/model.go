// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market status values. A market opens, may be closed by the end-date
// sweeper (betting stops), and is resolved exactly once.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusResolved = "resolved"
)

// Bet options / resolution outcomes.
const (
	OptionYes = "yes"
	OptionNo  = "no"
)

// Resolution types are descriptive only; they do not alter engine behavior.
const (
	ResolutionManual    = "manual"
	ResolutionAutomatic = "automatic"
)

// GuestAddress is the pseudo-address used for anonymous sessions.
const GuestAddress = "guest-wallet"

// Market represents the state of a binary pari-mutuel prediction market.
// Pools only grow while the market accepts bets; payouts are accounted on
// wallets, never subtracted from the pool fields.
type Market struct {
	ID                string             `json:"id" db:"id"`
	Creator           string             `json:"creator" db:"creator"`
	Title             string             `json:"title" db:"title"`
	Description       string             `json:"description" db:"description"`
	Category          string             `json:"category" db:"category"`
	Country           string             `json:"country,omitempty" db:"country"`
	ImageURL          string             `json:"imageUrl,omitempty" db:"image_url"`
	EndDate           time.Time          `json:"endDate" db:"end_date"` // advisory deadline
	Status            string             `json:"status" db:"status"`
	YesPool           decimal.Decimal    `json:"yesPool" db:"yes_pool"`
	NoPool            decimal.Decimal    `json:"noPool" db:"no_pool"`
	TotalBets         int                `json:"totalBets" db:"total_bets"`
	ResolutionType    string             `json:"resolutionType" db:"resolution_type"`
	ResolvedOption    *string            `json:"resolvedOption" db:"resolved_option"`
	ResolvedAt        *time.Time         `json:"resolvedAt" db:"resolved_at"`
	ResolutionDetails *ResolutionDetails `json:"resolutionDetails" db:"resolution_details"`
	CreatedAt         time.Time          `json:"createdAt" db:"created_at"`
}

// AcceptsBets reports whether new bets may be applied to the market.
func (m *Market) AcceptsBets() bool {
	return m.Status == StatusOpen
}

// TotalPool returns the combined stake across both sides.
func (m *Market) TotalPool() decimal.Decimal {
	return m.YesPool.Add(m.NoPool)
}

// ResolutionDetails is the audit record captured at resolution time.
type ResolutionDetails struct {
	Method     string    `json:"method"`
	Source     string    `json:"source"`
	Details    string    `json:"details,omitempty"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Bet is an immutable record of a placed bet. Once created, these are
// never modified or deleted.
type Bet struct {
	ID            string          `json:"id" db:"id"`
	WalletAddress string          `json:"walletAddress" db:"wallet_address"`
	MarketID      string          `json:"marketId" db:"market_id"`
	Option        string          `json:"option" db:"option"` // "yes" or "no"
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}

// Wallet tracks a CHIPS balance for one address. Created lazily on first
// interaction, debited on bet placement, credited on payout.
type Wallet struct {
	Address   string          `json:"address" db:"address"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}
