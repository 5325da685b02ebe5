package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/chipcast/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market reads. Writes go to the primary store and invalidate
// the cache. Wallet and bet-ledger operations pass through uncached:
// balances authorize debits and must always be fresh.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Markets: write-through, read-through ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) PlaceBet(ctx context.Context, bet *model.Bet) (*model.Market, error) {
	m, err := s.primary.PlaceBet(ctx, bet)
	if err != nil {
		return nil, err
	}
	// Invalidate; next read re-populates from the primary.
	s.rdb.Del(ctx, marketKey(bet.MarketID))
	return m, nil
}

func (s *CachedStore) ApplyClose(ctx context.Context, marketID string) error {
	if err := s.primary.ApplyClose(ctx, marketID); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(marketID))
	return nil
}

func (s *CachedStore) ApplyResolution(ctx context.Context, marketID, option string, details *model.ResolutionDetails) (*model.Market, error) {
	m, err := s.primary.ApplyResolution(ctx, marketID, option, details)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, marketKey(marketID))
	return m, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListExpiredMarkets(ctx context.Context, now time.Time) ([]model.Market, error) {
	return s.primary.ListExpiredMarkets(ctx, now)
}

func (s *CachedStore) RecordBet(ctx context.Context, bet *model.Bet) error {
	return s.primary.RecordBet(ctx, bet)
}

func (s *CachedStore) GetBetsByMarket(ctx context.Context, marketID string) ([]model.Bet, error) {
	return s.primary.GetBetsByMarket(ctx, marketID)
}

func (s *CachedStore) GetBetsByWallet(ctx context.Context, address string) ([]model.Bet, error) {
	return s.primary.GetBetsByWallet(ctx, address)
}

func (s *CachedStore) EnsureWallet(ctx context.Context, address string, initial decimal.Decimal) (*model.Wallet, error) {
	return s.primary.EnsureWallet(ctx, address, initial)
}

func (s *CachedStore) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return s.primary.GetBalance(ctx, address)
}

func (s *CachedStore) Credit(ctx context.Context, address string, amount decimal.Decimal) error {
	return s.primary.Credit(ctx, address, amount)
}

func (s *CachedStore) Debit(ctx context.Context, address string, amount decimal.Decimal) error {
	return s.primary.Debit(ctx, address, amount)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
