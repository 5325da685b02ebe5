// Package market provides the HTTP handlers and business logic for
// creating markets, placing bets, and resolving markets with pari-mutuel
// payout distribution.
//
// All monetary values use shopspring/decimal — never float64 for money.
package market

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chipcast/market-engine/internal/metrics"
	"github.com/chipcast/market-engine/internal/model"
	"github.com/chipcast/market-engine/internal/parimutuel"
	"github.com/chipcast/market-engine/internal/store"
)

// Starting balances handed out by EnsureWallet, by caller type.
var (
	// InitialBalance is the CHIPS balance of a freshly connected wallet.
	InitialBalance = decimal.NewFromInt(1000)

	// GuestInitialBalance is the CHIPS balance of the anonymous wallet.
	GuestInitialBalance = decimal.NewFromInt(500)
)

// Creation validation bounds.
const (
	minTitleLen       = 10
	minDescriptionLen = 20
)

// Service orchestrates the market store, bet ledger, wallet ledger, and
// settlement engine. Mutating operations on one market are serialized by a
// per-market mutex (single-instance; for horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency).
type Service struct {
	store  store.Store
	engine *parimutuel.Engine
	locks  marketLocks
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new market service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, engine *parimutuel.Engine, hub *WSHub) *Service {
	return &Service{
		store:  st,
		engine: engine,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Creator        string    `json:"creator"` // empty → guest wallet
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Category       string    `json:"category"`
	Country        string    `json:"country"`
	ImageURL       string    `json:"imageUrl"`
	EndDate        time.Time `json:"endDate"`
	ResolutionType string    `json:"resolutionType"` // "manual" (default) or "automatic"
}

// PlaceBetRequest is the JSON body for POST /bets.
type PlaceBetRequest struct {
	WalletAddress string          `json:"walletAddress"`
	MarketID      string          `json:"marketId"`
	Option        string          `json:"option"` // "yes" or "no"
	Amount        decimal.Decimal `json:"amount"`
}

// PlaceBetResponse is returned from POST /bets: the recorded bet plus the
// updated market.
type PlaceBetResponse struct {
	Bet    *model.Bet    `json:"bet"`
	Market *model.Market `json:"market"`
}

// ResolveMarketRequest is the JSON body for market resolution.
type ResolveMarketRequest struct {
	Option  string `json:"option"` // winning outcome: "yes" or "no"
	Method  string `json:"method"`
	Source  string `json:"source"`
	Details string `json:"details"`
}

// OddsResponse is the pool-implied probability pair for a market.
type OddsResponse struct {
	Yes decimal.Decimal `json:"yes"`
	No  decimal.Decimal `json:"no"`
}

// BalanceResponse is returned from the read-only balance probe.
type BalanceResponse struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validateCreateMarket(&req, time.Now().UTC()); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	creator := req.Creator
	if creator == "" {
		creator = model.GuestAddress
	}
	resolutionType := req.ResolutionType
	if resolutionType == "" {
		resolutionType = model.ResolutionManual
	}

	ctx := r.Context()

	// Lazy wallet creation is centralized here: the creator gets a funded
	// wallet on first interaction.
	if _, err := s.store.EnsureWallet(ctx, creator, startingBalance(creator)); err != nil {
		writeError(w, "failed to initialize creator wallet", http.StatusInternalServerError)
		return
	}

	m := &model.Market{
		ID:             uuid.New().String(),
		Creator:        creator,
		Title:          strings.TrimSpace(req.Title),
		Description:    strings.TrimSpace(req.Description),
		Category:       req.Category,
		Country:        req.Country,
		ImageURL:       req.ImageURL,
		EndDate:        req.EndDate,
		Status:         model.StatusOpen,
		YesPool:        decimal.Zero,
		NoPool:         decimal.Zero,
		TotalBets:      0,
		ResolutionType: resolutionType,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateMarket(ctx, m); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	metrics.OpenMarkets.Inc()

	slog.Info("market created",
		"id", m.ID,
		"creator", creator,
		"category", m.Category,
		"end_date", m.EndDate,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets in insertion order, optionally filtered by
// ?category=<cat> and/or ?status=<status>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	category := r.URL.Query().Get("category")
	status := r.URL.Query().Get("status")
	if category != "" || status != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if category != "" && m.Category != category {
				continue
			}
			if status != "" && m.Status != status {
				continue
			}
			filtered = append(filtered, m)
		}
		markets = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// GetOdds handles GET /api/v1/markets/{marketID}/odds
// Returns pool-implied probabilities for both sides.
func (s *Service) GetOdds(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	yes, no := parimutuel.ImpliedOdds(m.YesPool, m.NoPool)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(OddsResponse{Yes: yes, No: no})
}

// GetMarketBets handles GET /api/v1/markets/{marketID}/bets
// Returns the full bet log for a market in insertion order.
func (s *Service) GetMarketBets(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	if _, err := s.store.GetMarket(r.Context(), marketID); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	bets, err := s.store.GetBetsByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market bets", http.StatusInternalServerError)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bets)
}

// PlaceBet handles POST /api/v1/bets
// Debits the wallet, records the bet, and updates the market pool as one
// atomic store operation, serialized per market.
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.WalletAddress == "" {
		writeError(w, "walletAddress is required", http.StatusBadRequest)
		return
	}
	if req.Option != model.OptionYes && req.Option != model.OptionNo {
		writeError(w, "option must be yes or no", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize against other bets and resolution on this market.
	unlock := s.locks.lock(req.MarketID)
	defer unlock()

	bet := &model.Bet{
		ID:            uuid.New().String(),
		WalletAddress: req.WalletAddress,
		MarketID:      req.MarketID,
		Option:        req.Option,
		Amount:        req.Amount,
		Timestamp:     time.Now().UTC(),
	}

	// The store applies the debit, the record, and the pool update
	// atomically; a failure leaves no partial mutation behind.
	updated, err := s.store.PlaceBet(ctx, bet)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	metrics.BetsTotal.WithLabelValues(req.Option).Inc()
	metrics.BetVolume.WithLabelValues(req.Option).Add(req.Amount.InexactFloat64())

	slog.Info("bet placed",
		"bet_id", bet.ID,
		"market_id", req.MarketID,
		"wallet", req.WalletAddress,
		"option", req.Option,
		"amount", req.Amount.String(),
		"yes_pool", updated.YesPool.String(),
		"no_pool", updated.NoPool.String(),
	)

	s.broadcastMarket("bet_placed", updated, req.Option, req.Amount.String())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PlaceBetResponse{Bet: bet, Market: updated})
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
// Marks the market resolved (single-shot) and distributes the pool to
// winning bets through the settlement engine.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Option != model.OptionYes && req.Option != model.OptionNo {
		writeError(w, "option must be yes or no", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	unlock := s.locks.lock(marketID)
	defer unlock()

	// The prior status decides the gauge move below: a market the sweeper
	// already closed was counted out of the gauge at close time.
	prior, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	details := &model.ResolutionDetails{
		Method:     req.Method,
		Source:     req.Source,
		Details:    req.Details,
		ResolvedAt: time.Now().UTC(),
	}

	// ApplyResolution is the single already-resolved guard; everything
	// after it runs at most once per market.
	m, err := s.store.ApplyResolution(ctx, marketID, req.Option, details)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if prior.Status == model.StatusOpen {
		metrics.OpenMarkets.Dec()
	}
	metrics.MarketsResolved.WithLabelValues(req.Option).Inc()

	bets, err := s.store.GetBetsByMarket(ctx, marketID)
	if err != nil {
		writeError(w, "failed to load bet log for settlement", http.StatusInternalServerError)
		return
	}

	paid, count, err := s.engine.Settle(ctx, m, bets, s.store)
	if err != nil {
		// The market stays resolved; a credit failure here means a bet
		// references a wallet the ledger never initialized.
		slog.Error("payout distribution failed",
			"market_id", marketID, "err", err)
		writeError(w, "payout distribution failed", http.StatusInternalServerError)
		return
	}
	metrics.PayoutVolume.Add(paid.InexactFloat64())

	slog.Info("market resolved",
		"market_id", marketID,
		"outcome", req.Option,
		"total_pool", m.TotalPool().String(),
		"paid_out", paid.String(),
		"payouts", count,
	)

	s.broadcastMarket("market_resolved", m, req.Option, "")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// ConnectWallet handles POST /api/v1/wallets/{address}/connect
// Idempotently initializes the wallet with its starting balance.
func (s *Service) ConnectWallet(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	wallet, err := s.store.EnsureWallet(r.Context(), address, startingBalance(address))
	if err != nil {
		writeError(w, "failed to initialize wallet", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// GetBalance handles GET /api/v1/wallets/{address}/balance
// A read-only probe: unknown addresses report zero and are not created.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	balance, err := s.store.GetBalance(r.Context(), address)
	if err != nil {
		writeError(w, "failed to read balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BalanceResponse{Address: address, Balance: balance})
}

// GetWalletBets handles GET /api/v1/wallets/{address}/bets
func (s *Service) GetWalletBets(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	bets, err := s.store.GetBetsByWallet(r.Context(), address)
	if err != nil {
		writeError(w, "failed to get wallet bets", http.StatusInternalServerError)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bets)
}

// --- Helpers ---

// startingBalance picks the wallet default by caller type.
func startingBalance(address string) decimal.Decimal {
	if address == model.GuestAddress {
		return GuestInitialBalance
	}
	return InitialBalance
}

// validateCreateMarket enforces the creation constraints before any store
// mutation happens.
func validateCreateMarket(req *CreateMarketRequest, now time.Time) error {
	// Rune counts, not byte lengths: titles are frequently non-ASCII.
	if utf8.RuneCountInString(strings.TrimSpace(req.Title)) < minTitleLen {
		return errors.New("title must be at least 10 characters")
	}
	if utf8.RuneCountInString(strings.TrimSpace(req.Description)) < minDescriptionLen {
		return errors.New("description must be at least 20 characters")
	}
	if req.EndDate.IsZero() || !req.EndDate.After(now) {
		return errors.New("endDate must be in the future")
	}
	if req.ResolutionType != "" &&
		req.ResolutionType != model.ResolutionManual &&
		req.ResolutionType != model.ResolutionAutomatic {
		return errors.New("resolutionType must be manual or automatic")
	}
	return nil
}

// broadcastMarket pushes a market snapshot to WebSocket clients.
func (s *Service) broadcastMarket(event string, m *model.Market, option, amount string) {
	if s.wsHub == nil {
		return
	}
	yes, no := parimutuel.ImpliedOdds(m.YesPool, m.NoPool)
	s.wsHub.Broadcast(WSMessage{
		Type:     event,
		MarketID: m.ID,
		Status:   m.Status,
		YesPool:  m.YesPool.String(),
		NoPool:   m.NoPool.String(),
		OddsYes:  yes.String(),
		OddsNo:   no.String(),
		Option:   option,
		Amount:   amount,
	})
}

// writeStoreError maps store sentinel errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrMarketNotFound):
		writeError(w, "market not found", http.StatusNotFound)
	case errors.Is(err, store.ErrWalletNotFound):
		writeError(w, "wallet not found", http.StatusNotFound)
	case errors.Is(err, store.ErrMarketNotOpen):
		writeError(w, "market is not open for betting", http.StatusConflict)
	case errors.Is(err, store.ErrMarketAlreadyResolved):
		writeError(w, "market already resolved", http.StatusConflict)
	case errors.Is(err, store.ErrInsufficientBalance):
		writeError(w, "insufficient balance", http.StatusConflict)
	case errors.Is(err, store.ErrInvalidAmount):
		writeError(w, "amount must be positive", http.StatusBadRequest)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
