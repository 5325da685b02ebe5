package parimutuel_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chipcast/market-engine/internal/model"
	"github.com/chipcast/market-engine/internal/parimutuel"
	"github.com/chipcast/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newEngine(t *testing.T) *parimutuel.Engine {
	t.Helper()
	e, err := parimutuel.NewEngine(parimutuel.DefaultFeeRate)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func bet(id, wallet, option string, amount float64) model.Bet {
	return model.Bet{
		ID:            id,
		WalletAddress: wallet,
		MarketID:      "m1",
		Option:        option,
		Amount:        d(amount),
	}
}

// --- Engine construction ---

func TestNewEngine_InvalidFee(t *testing.T) {
	if _, err := parimutuel.NewEngine(d(-0.01)); err != parimutuel.ErrInvalidFee {
		t.Errorf("expected ErrInvalidFee for negative fee, got %v", err)
	}
	if _, err := parimutuel.NewEngine(d(1.0)); err != parimutuel.ErrInvalidFee {
		t.Errorf("expected ErrInvalidFee for fee = 1, got %v", err)
	}
	if _, err := parimutuel.NewEngine(decimal.Zero); err != nil {
		t.Errorf("zero fee should be valid, got %v", err)
	}
}

// --- Implied odds ---

func TestImpliedOdds_EmptyMarket(t *testing.T) {
	yes, no := parimutuel.ImpliedOdds(decimal.Zero, decimal.Zero)
	if !yes.Equal(d(0.5)) || !no.Equal(d(0.5)) {
		t.Errorf("empty market should read even odds, got yes=%s no=%s", yes, no)
	}
}

func TestImpliedOdds_PoolRatio(t *testing.T) {
	yes, no := parimutuel.ImpliedOdds(d(600), d(400))
	if !yes.Equal(d(0.6)) {
		t.Errorf("expected yes odds 0.6, got %s", yes)
	}
	if !no.Equal(d(0.4)) {
		t.Errorf("expected no odds 0.4, got %s", no)
	}
	if !yes.Add(no).Equal(decimal.NewFromInt(1)) {
		t.Errorf("odds should sum to 1, got %s", yes.Add(no))
	}
}

// --- Payout math ---

func TestPayout_SoleWinnerTakesNetPool(t *testing.T) {
	e := newEngine(t)

	// One winning bet of 600 against a 1000 total pool: 1000 * 0.98.
	payout := e.Payout(d(600), d(600), d(1000))
	if !payout.Equal(d(980)) {
		t.Errorf("expected payout 980, got %s", payout)
	}
}

func TestPayout_ProportionalSplit(t *testing.T) {
	e := newEngine(t)

	// Winners staked 300 and 100; pool is 1000 total, 400 winning.
	big := e.Payout(d(300), d(400), d(1000))
	small := e.Payout(d(100), d(400), d(1000))

	if !big.Equal(d(735)) {
		t.Errorf("expected 735 for the 300 stake, got %s", big)
	}
	if !small.Equal(d(245)) {
		t.Errorf("expected 245 for the 100 stake, got %s", small)
	}
}

// --- Distribution ---

func TestDistribute_WinnersOnly(t *testing.T) {
	e := newEngine(t)

	bets := []model.Bet{
		bet("b1", "addr-a", model.OptionYes, 600),
		bet("b2", "addr-b", model.OptionNo, 400),
	}

	credits := e.Distribute(bets, model.OptionYes, d(600), d(400))
	if len(credits) != 1 {
		t.Fatalf("expected 1 credit, got %d", len(credits))
	}
	if credits[0].WalletAddress != "addr-a" {
		t.Errorf("expected credit for addr-a, got %s", credits[0].WalletAddress)
	}
	if !credits[0].Amount.Equal(d(980)) {
		t.Errorf("expected 980, got %s", credits[0].Amount)
	}
}

func TestDistribute_EmptyWinningPool(t *testing.T) {
	e := newEngine(t)

	bets := []model.Bet{
		bet("b1", "addr-b", model.OptionNo, 500),
	}

	// Nobody bet yes; resolving yes distributes nothing.
	credits := e.Distribute(bets, model.OptionYes, decimal.Zero, d(500))
	if len(credits) != 0 {
		t.Errorf("expected no credits, got %d", len(credits))
	}
}

func TestDistribute_Conservation(t *testing.T) {
	e := newEngine(t)

	// Three equal winners against an awkward pool: payouts round down,
	// so the distributed sum never exceeds the fee-adjusted pool.
	bets := []model.Bet{
		bet("b1", "w1", model.OptionYes, 1),
		bet("b2", "w2", model.OptionYes, 1),
		bet("b3", "w3", model.OptionYes, 1),
		bet("b4", "w4", model.OptionNo, 7),
	}

	credits := e.Distribute(bets, model.OptionYes, d(3), d(7))
	if len(credits) != 3 {
		t.Fatalf("expected 3 credits, got %d", len(credits))
	}

	sum := decimal.Zero
	for _, c := range credits {
		sum = sum.Add(c.Amount)
	}

	netPool := d(10).Mul(d(0.98))
	if sum.GreaterThan(netPool) {
		t.Errorf("distributed %s exceeds net pool %s", sum, netPool)
	}
	// The rounding remainder is bounded by one unit at PayoutScale per bet.
	slack := decimal.New(3, -parimutuel.PayoutScale)
	if netPool.Sub(sum).GreaterThan(slack) {
		t.Errorf("distributed %s leaves more than rounding slack below %s", sum, netPool)
	}
}

// --- Settlement through the wallet ledger ---

func TestSettle_CreditsEachWinnerOnce(t *testing.T) {
	e := newEngine(t)
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for _, addr := range []string{"addr-a", "addr-b"} {
		if _, err := ms.EnsureWallet(ctx, addr, d(0)); err != nil {
			t.Fatalf("ensure wallet: %v", err)
		}
	}

	outcome := model.OptionYes
	m := &model.Market{
		ID:             "m1",
		Status:         model.StatusResolved,
		YesPool:        d(600),
		NoPool:         d(400),
		ResolvedOption: &outcome,
	}
	bets := []model.Bet{
		bet("b1", "addr-a", model.OptionYes, 600),
		bet("b2", "addr-b", model.OptionNo, 400),
	}

	paid, count, err := e.Settle(ctx, m, bets, ms)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 payout, got %d", count)
	}
	if !paid.Equal(d(980)) {
		t.Errorf("expected total 980 paid, got %s", paid)
	}

	balA, _ := ms.GetBalance(ctx, "addr-a")
	if !balA.Equal(d(980)) {
		t.Errorf("expected addr-a balance 980, got %s", balA)
	}
	balB, _ := ms.GetBalance(ctx, "addr-b")
	if !balB.IsZero() {
		t.Errorf("expected addr-b balance 0, got %s", balB)
	}
}

func TestSettle_NoWinningBets(t *testing.T) {
	e := newEngine(t)
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if _, err := ms.EnsureWallet(ctx, "addr-b", d(0)); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	outcome := model.OptionYes
	m := &model.Market{
		ID:             "m1",
		Status:         model.StatusResolved,
		YesPool:        decimal.Zero,
		NoPool:         d(500),
		ResolvedOption: &outcome,
	}
	bets := []model.Bet{bet("b1", "addr-b", model.OptionNo, 500)}

	paid, count, err := e.Settle(ctx, m, bets, ms)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if count != 0 || !paid.IsZero() {
		t.Errorf("expected no payouts, got count=%d paid=%s", count, paid)
	}
}
