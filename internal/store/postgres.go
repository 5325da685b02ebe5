package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/chipcast/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Expected schema: markets, bets, wallets — one table per entity, with
// resolution_details held as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, creator, title, description, category, country, image_url,
		                      end_date, status, yes_pool, no_pool, total_bets, resolution_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11::NUMERIC, $12, $13, $14)`,
		m.ID, m.Creator, m.Title, m.Description, m.Category, m.Country, m.ImageURL,
		m.EndDate, m.Status, m.YesPool.String(), m.NoPool.String(), m.TotalBets,
		m.ResolutionType, m.CreatedAt,
	)
	return err
}

const marketColumns = `id, creator, title, description, category, country, image_url,
       end_date, status, yes_pool::TEXT, no_pool::TEXT, total_bets,
       resolution_type, resolved_option, resolved_at, resolution_details, created_at`

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return getMarket(ctx, s.pool, id)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so market reads
// work inside and outside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getMarket(ctx context.Context, q querier, id string) (*model.Market, error) {
	row := q.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)

	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// PlaceBet runs the wallet debit, the bet insert, and the pool update in
// one transaction; any failure rolls the whole placement back.
func (s *PostgresStore) PlaceBet(ctx context.Context, b *model.Bet) (*model.Market, error) {
	if b.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE wallets
		 SET balance = balance - $2::NUMERIC
		 WHERE address = $1 AND balance >= $2::NUMERIC`,
		b.WalletAddress, b.Amount.String(),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM wallets WHERE address = $1`, b.WalletAddress).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrInsufficientBalance
	}

	poolColumn := "yes_pool"
	if b.Option == model.OptionNo {
		poolColumn = "no_pool"
	}
	tag, err = tx.Exec(ctx,
		`UPDATE markets
		 SET `+poolColumn+` = `+poolColumn+` + $2::NUMERIC,
		     total_bets = total_bets + 1
		 WHERE id = $1 AND status = $3`,
		b.MarketID, b.Amount.String(), model.StatusOpen,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish absent from not-open; either way the tx rolls back.
		if _, err := getMarket(ctx, tx, b.MarketID); err != nil {
			return nil, err
		}
		return nil, ErrMarketNotOpen
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO bets (id, wallet_address, market_id, option, amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		b.ID, b.WalletAddress, b.MarketID, b.Option, b.Amount.String(), b.Timestamp,
	); err != nil {
		return nil, err
	}

	m, err := getMarket(ctx, tx, b.MarketID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) ApplyClose(ctx context.Context, marketID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2 WHERE id = $1 AND status = $3`,
		marketID, model.StatusClosed, model.StatusOpen,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetMarket(ctx, marketID); err != nil {
			return err
		}
		return ErrMarketNotOpen
	}
	return nil
}

func (s *PostgresStore) ApplyResolution(ctx context.Context, marketID, option string, details *model.ResolutionDetails) (*model.Market, error) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode resolution details: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = $2, resolved_option = $3, resolved_at = $4, resolution_details = $5
		 WHERE id = $1 AND status <> $2`,
		marketID, model.StatusResolved, option, time.Now().UTC(), detailsJSON,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetMarket(ctx, marketID); err != nil {
			return nil, err
		}
		return nil, ErrMarketAlreadyResolved
	}

	return s.GetMarket(ctx, marketID)
}

func (s *PostgresStore) ListExpiredMarkets(ctx context.Context, now time.Time) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+`
		 FROM markets WHERE status = $1 AND end_date < $2
		 ORDER BY created_at`,
		model.StatusOpen, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// --- Bet ledger ---

func (s *PostgresStore) RecordBet(ctx context.Context, b *model.Bet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bets (id, wallet_address, market_id, option, amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		b.ID, b.WalletAddress, b.MarketID, b.Option, b.Amount.String(), b.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetBetsByMarket(ctx context.Context, marketID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, wallet_address, market_id, option, amount::TEXT, timestamp
		 FROM bets WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

func (s *PostgresStore) GetBetsByWallet(ctx context.Context, address string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, wallet_address, market_id, option, amount::TEXT, timestamp
		 FROM bets WHERE wallet_address = $1 ORDER BY timestamp`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

// --- Wallet ledger ---

func (s *PostgresStore) EnsureWallet(ctx context.Context, address string, initial decimal.Decimal) (*model.Wallet, error) {
	// Insert-if-absent, then read back: idempotent and never resets an
	// existing balance.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (address, balance, created_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (address) DO NOTHING`,
		address, initial.String(), time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	var w model.Wallet
	var balance string
	err = s.pool.QueryRow(ctx,
		`SELECT address, balance::TEXT, created_at FROM wallets WHERE address = $1`,
		address).Scan(&w.Address, &balance, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet %s: %w", address, err)
	}
	w.Balance, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM wallets WHERE address = $1`, address).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	b, _ := decimal.NewFromString(balance)
	return b, nil
}

func (s *PostgresStore) Credit(ctx context.Context, address string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE wallets SET balance = balance + $2::NUMERIC WHERE address = $1`,
		address, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Debit uses a conditional UPDATE so the balance check and subtraction are
// one atomic statement — no lost update between concurrent bets.
func (s *PostgresStore) Debit(ctx context.Context, address string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE wallets
		 SET balance = balance - $2::NUMERIC
		 WHERE address = $1 AND balance >= $2::NUMERIC`,
		address, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if err := s.walletExists(ctx, address); err != nil {
			return err
		}
		return ErrInsufficientBalance
	}
	return nil
}

func (s *PostgresStore) walletExists(ctx context.Context, address string) error {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM wallets WHERE address = $1`, address).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrWalletNotFound
	}
	return err
}

// --- Row scanning ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var yesPool, noPool string
	var resolvedOption *string
	var resolvedAt *time.Time
	var detailsJSON []byte

	err := row.Scan(&m.ID, &m.Creator, &m.Title, &m.Description, &m.Category,
		&m.Country, &m.ImageURL, &m.EndDate, &m.Status,
		&yesPool, &noPool, &m.TotalBets,
		&m.ResolutionType, &resolvedOption, &resolvedAt, &detailsJSON, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.YesPool, _ = decimal.NewFromString(yesPool)
	m.NoPool, _ = decimal.NewFromString(noPool)
	m.ResolvedOption = resolvedOption
	m.ResolvedAt = resolvedAt

	if len(detailsJSON) > 0 {
		var details model.ResolutionDetails
		if json.Unmarshal(detailsJSON, &details) == nil {
			m.ResolutionDetails = &details
		}
	}
	return &m, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanBets(rows pgxRows) ([]model.Bet, error) {
	var bets []model.Bet
	for rows.Next() {
		var b model.Bet
		var amount string

		if err := rows.Scan(&b.ID, &b.WalletAddress, &b.MarketID, &b.Option,
			&amount, &b.Timestamp); err != nil {
			return nil, err
		}

		b.Amount, _ = decimal.NewFromString(amount)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}
