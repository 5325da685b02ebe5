package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chipcast/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. This is the demo's
// default backend: nothing persists across restarts.
type MemoryStore struct {
	mu          sync.RWMutex
	markets     map[string]*model.Market
	marketOrder []string // preserves insertion order for ListMarkets
	bets        []model.Bet
	wallets     map[string]*model.Wallet
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		wallets: make(map[string]*model.Wallet),
	}
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	s.marketOrder = append(s.marketOrder, m.ID)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.marketOrder))
	for _, id := range s.marketOrder {
		markets = append(markets, *s.markets[id])
	}
	return markets, nil
}

// PlaceBet runs the debit, the bet record, and the pool update in one
// critical section, so every guard is checked before anything mutates.
func (s *MemoryStore) PlaceBet(_ context.Context, bet *model.Bet) (*model.Market, error) {
	if bet.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[bet.MarketID]
	if !ok {
		return nil, ErrMarketNotFound
	}
	if !m.AcceptsBets() {
		return nil, ErrMarketNotOpen
	}
	w, ok := s.wallets[bet.WalletAddress]
	if !ok {
		return nil, ErrWalletNotFound
	}
	if w.Balance.LessThan(bet.Amount) {
		return nil, ErrInsufficientBalance
	}

	w.Balance = w.Balance.Sub(bet.Amount)
	s.bets = append(s.bets, *bet)
	if bet.Option == model.OptionYes {
		m.YesPool = m.YesPool.Add(bet.Amount)
	} else {
		m.NoPool = m.NoPool.Add(bet.Amount)
	}
	m.TotalBets++

	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ApplyClose(_ context.Context, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return ErrMarketNotFound
	}
	if m.Status != model.StatusOpen {
		return ErrMarketNotOpen
	}
	m.Status = model.StatusClosed
	return nil
}

func (s *MemoryStore) ApplyResolution(_ context.Context, marketID, option string, details *model.ResolutionDetails) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return nil, ErrMarketNotFound
	}
	if m.Status == model.StatusResolved {
		return nil, ErrMarketAlreadyResolved
	}

	now := time.Now().UTC()
	m.Status = model.StatusResolved
	m.ResolvedOption = &option
	m.ResolvedAt = &now
	m.ResolutionDetails = details

	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListExpiredMarkets(_ context.Context, now time.Time) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []model.Market
	for _, id := range s.marketOrder {
		m := s.markets[id]
		if m.Status == model.StatusOpen && !m.EndDate.IsZero() && m.EndDate.Before(now) {
			expired = append(expired, *m)
		}
	}
	return expired, nil
}

// --- Bet ledger ---

func (s *MemoryStore) RecordBet(_ context.Context, bet *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bets = append(s.bets, *bet)
	return nil
}

func (s *MemoryStore) GetBetsByMarket(_ context.Context, marketID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.MarketID == marketID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetBetsByWallet(_ context.Context, address string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.WalletAddress == address {
			result = append(result, b)
		}
	}
	return result, nil
}

// --- Wallet ledger ---

func (s *MemoryStore) EnsureWallet(_ context.Context, address string, initial decimal.Decimal) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.wallets[address]; ok {
		cp := *w
		return &cp, nil
	}

	w := &model.Wallet{
		Address:   address,
		Balance:   initial,
		CreatedAt: time.Now().UTC(),
	}
	s.wallets[address] = w

	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, address string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[address]
	if !ok {
		return decimal.Zero, nil
	}
	return w.Balance, nil
}

func (s *MemoryStore) Credit(_ context.Context, address string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[address]
	if !ok {
		return ErrWalletNotFound
	}
	w.Balance = w.Balance.Add(amount)
	return nil
}

// Debit holds the write lock across the balance check and the subtraction,
// so two concurrent bets cannot both pass against a stale balance.
func (s *MemoryStore) Debit(_ context.Context, address string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[address]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	w.Balance = w.Balance.Sub(amount)
	return nil
}
