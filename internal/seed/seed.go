// Package seed bootstraps a fresh instance with a set of demo markets so
// the browsing experience is not empty on first boot. Pools and bet counts
// are pre-filled display values; they carry no bet-log entries and are
// intended for demo resolution flows only.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chipcast/market-engine/internal/market"
	"github.com/chipcast/market-engine/internal/metrics"
	"github.com/chipcast/market-engine/internal/model"
	"github.com/chipcast/market-engine/internal/store"
)

type demoMarket struct {
	title       string
	description string
	category    string
	country     string
	imageURL    string
	endDate     time.Time
	yesPool     int64
	noPool      int64
	totalBets   int
}

func demoMarkets(now time.Time) []demoMarket {
	year := now.Year()
	return []demoMarket{
		{
			title:       fmt.Sprintf("Will Bitcoin trade above $100,000 before the end of %d?", year),
			description: "BTC must trade at or above $100,000 USD on a major exchange (Binance, Coinbase, or Kraken) for at least one hour before December 31.",
			category:    "crypto",
			imageURL:    "/images/markets/bitcoin-price.png",
			endDate:     time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
			yesPool:     3250, noPool: 1850, totalBets: 87,
		},
		{
			title:       "Will Ethereum pass 500,000 active validators this cycle?",
			description: "The Ethereum network must reach or exceed 500,000 active validators according to etherscan.io before the market end date.",
			category:    "crypto",
			imageURL:    "/images/markets/ethereum.png",
			endDate:     now.AddDate(0, 6, 0),
			yesPool:     1875, noPool: 2340, totalBets: 64,
		},
		{
			title:       "Will Argentina win the next Copa America?",
			description: "Argentina must be declared official champion of the next Copa America by CONMEBOL. The market resolves after the tournament final.",
			category:    "sports",
			country:     "AR",
			imageURL:    "/images/markets/argentina-football.png",
			endDate:     now.AddDate(0, 10, 0),
			yesPool:     4200, noPool: 3800, totalBets: 156,
		},
		{
			title:       "Will a snap general election be called in Spain this year?",
			description: "A Spanish general election must be officially announced and held before the market end date.",
			category:    "politics",
			country:     "ES",
			imageURL:    "/images/markets/spain-politics.png",
			endDate:     time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
			yesPool:     1250, noPool: 3650, totalBets: 78,
		},
		{
			title:       "Will the next Marvel film gross over $1B worldwide?",
			description: "The next Marvel Cinematic Universe release must gross more than $1,000 million USD globally according to Box Office Mojo.",
			category:    "entertainment",
			imageURL:    "/images/markets/marvel.png",
			endDate:     now.AddDate(1, 0, 0),
			yesPool:     1450, noPool: 2180, totalBets: 67,
		},
		{
			title:       fmt.Sprintf("Will %d be declared the hottest year on record?", year),
			description: "NASA or NOAA must officially declare this year as having the highest global average temperature ever recorded.",
			category:    "other",
			imageURL:    "/images/markets/global-warming.png",
			endDate:     time.Date(year+1, 2, 15, 0, 0, 0, 0, time.UTC),
			yesPool:     3760, noPool: 1230, totalBets: 82,
		},
	}
}

// Run creates the demo markets unless markets already exist. Safe to call
// on every boot.
func Run(ctx context.Context, st store.Store) error {
	existing, err := st.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("seed: list markets: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, dm := range demoMarkets(now) {
		creator := fmt.Sprintf("wallet-%s", uuid.New().String()[:8])
		if _, err := st.EnsureWallet(ctx, creator, market.InitialBalance); err != nil {
			return fmt.Errorf("seed: ensure creator wallet: %w", err)
		}

		// Spread creation dates over the last month for a lived-in feel.
		createdAt := now.AddDate(0, 0, -rand.Intn(30))

		m := &model.Market{
			ID:             uuid.New().String(),
			Creator:        creator,
			Title:          dm.title,
			Description:    dm.description,
			Category:       dm.category,
			Country:        dm.country,
			ImageURL:       dm.imageURL,
			EndDate:        dm.endDate,
			Status:         model.StatusOpen,
			YesPool:        decimal.NewFromInt(dm.yesPool),
			NoPool:         decimal.NewFromInt(dm.noPool),
			TotalBets:      dm.totalBets,
			ResolutionType: model.ResolutionManual,
			CreatedAt:      createdAt,
		}
		if err := st.CreateMarket(ctx, m); err != nil {
			return fmt.Errorf("seed: create market %q: %w", dm.title, err)
		}
		metrics.OpenMarkets.Inc()
	}

	slog.Info("demo markets seeded", "count", len(demoMarkets(now)))
	return nil
}
