package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cryptofolio/internal/exchange"
	"cryptofolio/internal/models"
	"cryptofolio/internal/repository"
	"cryptofolio/internal/worker"
)

type portfolioFixture struct {
	svc      *PortfolioService
	creds    *MockCredentialRepository
	holdings *MockHoldingRepository
	exch     *MockExchange
	jobs     *inlineSubmitter
	hub      *mockBroadcaster
}

func newPortfolioFixture() *portfolioFixture {
	f := &portfolioFixture{
		creds:    NewMockCredentialRepository(),
		holdings: NewMockHoldingRepository(),
		exch:     NewMockExchange(),
		jobs:     &inlineSubmitter{},
		hub:      &mockBroadcaster{},
	}
	seedActiveCredential(f.creds)

	f.exch.account.Balances = []exchange.Balance{
		{Asset: "BTC", Free: dec("0.5"), Locked: dec("0.5")},
		{Asset: "ETH", Free: dec("2"), Locked: decimal.Zero},
		{Asset: "USDT", Free: dec("1000.505"), Locked: decimal.Zero},
		{Asset: "DOGE", Free: dec("100"), Locked: decimal.Zero}, // цены нет
		{Asset: "SHIB", Free: decimal.Zero, Locked: decimal.Zero},
	}
	f.exch.prices = map[string]decimal.Decimal{
		"BTCUSDT": dec("40000"),
		"ETHUSDT": dec("2500"),
	}

	credSvc := NewCredentialService(f.creds, mockSealer{}, f.exch, nil)
	f.svc = NewPortfolioService(credSvc, f.holdings, f.exch, f.jobs, time.Second, nil)
	f.svc.SetWebSocketHub(f.hub)
	return f
}

func TestValuePortfolio(t *testing.T) {
	f := newPortfolioFixture()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	snap := ValuePortfolio(f.exch.account, f.exch.prices, now)

	if len(snap.Assets) != 3 {
		t.Fatalf("expected 3 valued assets, got %d: %+v", len(snap.Assets), snap.Assets)
	}

	wantOrder := []string{"BTC", "ETH", "USDT"}
	for i, a := range snap.Assets {
		if a.Asset != wantOrder[i] {
			t.Errorf("asset[%d] = %s, want %s", i, a.Asset, wantOrder[i])
		}
	}

	if !snap.Assets[2].Value.Equal(dec("1000.51")) {
		t.Errorf("USDT value = %s, want 1000.51 (HALF_UP)", snap.Assets[2].Value)
	}
	if !snap.TotalValue.Equal(dec("46000.51")) {
		t.Errorf("total = %s, want 46000.51", snap.TotalValue)
	}
	if !snap.TotalValueBTC.Equal(dec("1.15001275")) {
		t.Errorf("total BTC = %s, want 1.15001275", snap.TotalValueBTC)
	}

	sumValues := decimal.Zero
	sumAlloc := decimal.Zero
	for _, a := range snap.Assets {
		sumValues = sumValues.Add(a.Value)
		sumAlloc = sumAlloc.Add(a.AllocationPct)
	}
	if !sumValues.Equal(snap.TotalValue) {
		t.Errorf("Σ value = %s, total = %s", sumValues, snap.TotalValue)
	}
	if sumAlloc.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(dec("0.05")) {
		t.Errorf("Σ allocation = %s, want ≈100", sumAlloc)
	}
	if !snap.Assets[0].AllocationPct.Equal(dec("86.96")) {
		t.Errorf("BTC allocation = %s, want 86.96", snap.Assets[0].AllocationPct)
	}
}

func TestValuePortfolio_Empty(t *testing.T) {
	snap := ValuePortfolio(&exchange.AccountSnapshot{}, map[string]decimal.Decimal{}, time.Now())
	if !snap.TotalValue.IsZero() || len(snap.Assets) != 0 || !snap.TotalValueBTC.IsZero() {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestPortfolioService_GetLivePortfolio(t *testing.T) {
	f := newPortfolioFixture()

	ctx, cancel := context.WithCancel(context.Background())
	snap, err := f.svc.GetLivePortfolio(ctx, testUserID)
	cancel()
	if err != nil {
		t.Fatalf("GetLivePortfolio: %v", err)
	}
	if snap.UserID != testUserID || snap.CredentialID == 0 {
		t.Errorf("snapshot not attributed: %+v", snap)
	}

	if f.jobs.submitted != 1 {
		t.Fatalf("expected 1 merge job, got %d", f.jobs.submitted)
	}
	if f.jobs.lastCtx.Err() != nil {
		t.Error("merge context must be detached from request cancellation")
	}

	if h := f.holdings.get(testUserID, "BTCUSDT"); h == nil || !h.Quantity.Equal(dec("1")) {
		t.Errorf("BTC holding not merged: %+v", h)
	}
	if f.holdings.get(testUserID, "USDTUSDT") != nil {
		t.Error("USDT must not become a holding")
	}
	if len(f.hub.portfolios) != 1 || len(f.hub.syncResults) != 1 {
		t.Errorf("merge result not broadcast: %d/%d", len(f.hub.portfolios), len(f.hub.syncResults))
	}
}

func TestPortfolioService_QueueFullDropsMerge(t *testing.T) {
	f := newPortfolioFixture()
	f.jobs.err = worker.ErrQueueFull

	snap, err := f.svc.GetLivePortfolio(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("live read must succeed when merge is dropped: %v", err)
	}
	if snap == nil || len(snap.Assets) == 0 {
		t.Fatal("expected snapshot")
	}
	if f.holdings.saves != 0 {
		t.Error("dropped merge must not touch holdings")
	}
}

func TestPortfolioService_LiveReadDoesNotWaitForCredentialWrites(t *testing.T) {
	tests := []struct {
		name         string
		accountErr   error
		wantErr      bool
		wantFailures int
		wantSynced   bool
	}{
		{name: "success", wantSynced: true},
		{
			name:         "provider error",
			accountErr:   &exchange.APIError{Category: exchange.CategoryInvalidCredential, Code: -2014},
			wantErr:      true,
			wantFailures: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPortfolioFixture()
			jobs := &queuedSubmitter{}
			credSvc := NewCredentialService(f.creds, mockSealer{}, f.exch, nil)
			svc := NewPortfolioService(credSvc, f.holdings, f.exch, jobs, time.Second, nil)
			f.exch.accountErr = tt.accountErr
			updatesBefore := f.creds.updates

			_, err := svc.GetLivePortfolio(context.Background(), testUserID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if f.creds.updates != updatesBefore {
				t.Fatalf("live read wrote credential state synchronously (%d updates)", f.creds.updates-updatesBefore)
			}
			if len(jobs.tasks) != 1 {
				t.Fatalf("expected 1 background job, got %d", len(jobs.tasks))
			}

			jobs.runAll()
			if f.creds.updates != updatesBefore+1 {
				t.Errorf("background job must persist credential state, updates = %d", f.creds.updates-updatesBefore)
			}
			for _, c := range f.creds.creds {
				if c.FailureCount != tt.wantFailures {
					t.Errorf("failure count = %d, want %d", c.FailureCount, tt.wantFailures)
				}
				if (c.LastSyncedAt != nil) != tt.wantSynced {
					t.Errorf("last synced = %v, want set=%v", c.LastSyncedAt, tt.wantSynced)
				}
			}
		})
	}
}

func TestPortfolioService_LiveErrors(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(f *portfolioFixture)
		expectIs     error
		wantFailures int
	}{
		{
			name: "no credential",
			setup: func(f *portfolioFixture) {
				f.creds.creds = map[int64]*models.Credential{}
			},
			expectIs: ErrNoActiveCredential,
		},
		{
			name: "circuit open does not penalize credential",
			setup: func(f *portfolioFixture) {
				f.exch.accountErr = exchange.ErrCircuitOpen
			},
			expectIs:     exchange.ErrCircuitOpen,
			wantFailures: 0,
		},
		{
			name: "provider error counts",
			setup: func(f *portfolioFixture) {
				f.exch.accountErr = &exchange.APIError{Category: exchange.CategoryInvalidSignature, Code: -1022}
			},
			wantFailures: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPortfolioFixture()
			tt.setup(f)

			_, err := f.svc.GetLivePortfolio(context.Background(), testUserID)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.expectIs != nil && !errors.Is(err, tt.expectIs) {
				t.Errorf("expected %v, got %v", tt.expectIs, err)
			}
			if f.holdings.saves != 0 || len(f.hub.portfolios) != 0 {
				t.Error("failed live read must not merge")
			}
			for _, c := range f.creds.creds {
				if c.FailureCount != tt.wantFailures {
					t.Errorf("failure count = %d, want %d", c.FailureCount, tt.wantFailures)
				}
			}
		})
	}
}

func TestPortfolioService_Merge(t *testing.T) {
	f := newPortfolioFixture()

	// BTC с себестоимостью, SOL пропал из аккаунта, ADA уже нулевой
	f.holdings.seed(&models.Holding{UserID: testUserID, Symbol: "BTCUSDT", Asset: "BTC",
		Quantity: dec("2"), AvgBuyPrice: dec("30000"), TotalInvested: dec("60000"), Notes: "long"})
	f.holdings.seed(&models.Holding{UserID: testUserID, Symbol: "SOLUSDT", Asset: "SOL",
		Quantity: dec("10"), Free: dec("10"), CurrentValue: dec("1000")})
	f.holdings.seed(&models.Holding{UserID: testUserID, Symbol: "ADAUSDT", Asset: "ADA"})

	snap := ValuePortfolio(f.exch.account, f.exch.prices, time.Now())
	snap.UserID = testUserID

	result, err := f.svc.Merge(context.Background(), snap)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Updated != 1 || result.Created != 1 || result.Zeroed != 1 || result.Failed != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	btc := f.holdings.get(testUserID, "BTCUSDT")
	if !btc.Quantity.Equal(dec("1")) {
		t.Errorf("quantity must be overwritten, got %s", btc.Quantity)
	}
	if !btc.AvgBuyPrice.Equal(dec("30000")) || btc.Notes != "long" {
		t.Error("cost basis must survive merge")
	}
	if !btc.UnrealizedPnl.Valid || !btc.UnrealizedPnl.Decimal.Equal(dec("-20000")) {
		t.Errorf("pnl = %+v, want -20000", btc.UnrealizedPnl)
	}
	if !btc.UnrealizedPnlPct.Decimal.Equal(dec("-33.33")) {
		t.Errorf("pnl pct = %s, want -33.33", btc.UnrealizedPnlPct.Decimal)
	}
	if btc.LastBalanceUpdate == nil || btc.LastPriceUpdate == nil {
		t.Error("timestamps not set")
	}

	eth := f.holdings.get(testUserID, "ETHUSDT")
	if eth == nil || !eth.CurrentValue.Equal(dec("5000")) || eth.UnrealizedPnl.Valid {
		t.Errorf("unexpected ETH holding: %+v", eth)
	}

	sol := f.holdings.get(testUserID, "SOLUSDT")
	if !sol.Quantity.IsZero() || !sol.CurrentValue.IsZero() || !sol.Free.IsZero() {
		t.Errorf("absent asset must be zeroed: %+v", sol)
	}
}

func TestPortfolioService_MergeKeepsUnpricedBalance(t *testing.T) {
	f := newPortfolioFixture()
	// DOGE есть на аккаунте (100), но тикера нет: в оценку не попадает
	f.holdings.seed(&models.Holding{UserID: testUserID, Symbol: "DOGEUSDT", Asset: "DOGE",
		Quantity: dec("100"), Free: dec("100"), CurrentValue: dec("8")})

	snap := ValuePortfolio(f.exch.account, f.exch.prices, time.Now())
	snap.UserID = testUserID
	for _, a := range snap.Assets {
		if a.Asset == "DOGE" {
			t.Fatal("unpriced asset must not be valued")
		}
	}

	result, err := f.svc.Merge(context.Background(), snap)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Zeroed != 0 {
		t.Errorf("nothing must be zeroed: %+v", result)
	}
	if doge := f.holdings.get(testUserID, "DOGEUSDT"); !doge.Quantity.Equal(dec("100")) {
		t.Errorf("held asset zeroed: quantity = %s", doge.Quantity)
	}
}

func TestPortfolioService_CostBasisOnZeroQuantity(t *testing.T) {
	f := newPortfolioFixture()
	f.holdings.seed(&models.Holding{UserID: testUserID, Symbol: "ETHUSDT", Asset: "ETH"})

	h, err := f.svc.SetCostBasis(context.Background(), testUserID, "ETHUSDT", &CostBasisRequest{AvgBuyPrice: dec("2000")})
	if err != nil {
		t.Fatalf("SetCostBasis: %v", err)
	}
	if !h.TotalInvested.IsZero() || h.UnrealizedPnl.Valid {
		t.Errorf("zero quantity: invested = %s, pnl = %+v", h.TotalInvested, h.UnrealizedPnl)
	}

	snap := ValuePortfolio(f.exch.account, f.exch.prices, time.Now())
	snap.UserID = testUserID
	if _, err := f.svc.Merge(context.Background(), snap); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	eth := f.holdings.get(testUserID, "ETHUSDT")
	if !eth.TotalInvested.Equal(dec("4000")) {
		t.Errorf("invested = %s, want 4000 (2 * 2000)", eth.TotalInvested)
	}
	if !eth.UnrealizedPnl.Valid || !eth.UnrealizedPnl.Decimal.Equal(dec("1000")) {
		t.Errorf("pnl = %+v, want 1000", eth.UnrealizedPnl)
	}
	if !eth.UnrealizedPnlPct.Decimal.Equal(dec("25")) {
		t.Errorf("pnl pct = %s, want 25", eth.UnrealizedPnlPct.Decimal)
	}
}

func TestPortfolioService_MergeErrors(t *testing.T) {
	t.Run("save error is counted", func(t *testing.T) {
		f := newPortfolioFixture()
		f.holdings.saveErr["ETHUSDT"] = errors.New("disk full")

		snap := ValuePortfolio(f.exch.account, f.exch.prices, time.Now())
		snap.UserID = testUserID

		result, err := f.svc.Merge(context.Background(), snap)
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		if result.Failed != 1 || result.Created != 1 {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("list error", func(t *testing.T) {
		f := newPortfolioFixture()
		f.holdings.listErr = errors.New("db down")

		snap := ValuePortfolio(f.exch.account, f.exch.prices, time.Now())
		snap.UserID = testUserID

		if _, err := f.svc.Merge(context.Background(), snap); err == nil {
			t.Error("expected error")
		}
	})
}

func TestPortfolioService_SyncNow(t *testing.T) {
	f := newPortfolioFixture()

	result, err := f.svc.SyncNow(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if f.jobs.submitted != 0 {
		t.Error("SyncNow must merge synchronously")
	}
	if result.Created != 2 || !result.TotalValue.Equal(dec("46000.51")) {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestPortfolioService_UpdatePricesOnly(t *testing.T) {
	f := newPortfolioFixture()
	f.exch.prices["BTCUSDT"] = dec("50000")
	f.exch.accountErr = errors.New("signed endpoints must not be called")

	f.holdings.seed(&models.Holding{UserID: testUserID, Symbol: "BTCUSDT", Asset: "BTC", Quantity: dec("1"),
		TotalInvested: dec("40000"), AvgBuyPrice: dec("40000")})
	f.holdings.seed(&models.Holding{UserID: testUserID, Symbol: "ETHUSDT", Asset: "ETH"})
	f.holdings.seed(&models.Holding{UserID: testUserID, Symbol: "XRPUSDT", Asset: "XRP", Quantity: dec("5")})

	result, err := f.svc.UpdatePricesOnly(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("UpdatePricesOnly: %v", err)
	}
	if result.Updated != 1 {
		t.Errorf("expected 1 updated, got %d", result.Updated)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "XRPUSDT" {
		t.Errorf("unexpected missing: %v", result.Missing)
	}

	btc := f.holdings.get(testUserID, "BTCUSDT")
	if !btc.CurrentValue.Equal(dec("50000")) || !btc.UnrealizedPnl.Decimal.Equal(dec("10000")) {
		t.Errorf("unexpected BTC: value=%s pnl=%s", btc.CurrentValue, btc.UnrealizedPnl.Decimal)
	}
	if !btc.UnrealizedPnlPct.Decimal.Equal(dec("25")) {
		t.Errorf("pnl pct = %s, want 25", btc.UnrealizedPnlPct.Decimal)
	}
}

func TestPortfolioService_SetCostBasis(t *testing.T) {
	f := newPortfolioFixture()
	f.holdings.seed(&models.Holding{UserID: testUserID, Symbol: "BTCUSDT", Asset: "BTC",
		Quantity: dec("2"), CurrentValue: dec("80000")})

	notes := "DCA"
	firstBuy := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	h, err := f.svc.SetCostBasis(context.Background(), testUserID, "btc-usdt", &CostBasisRequest{
		AvgBuyPrice:  dec("30000"),
		Notes:        &notes,
		FirstBuyDate: &firstBuy,
	})
	if err != nil {
		t.Fatalf("SetCostBasis: %v", err)
	}
	if !h.TotalInvested.Equal(dec("60000")) {
		t.Errorf("invested = %s, want 60000", h.TotalInvested)
	}
	if !h.UnrealizedPnl.Decimal.Equal(dec("20000")) || !h.UnrealizedPnlPct.Decimal.Equal(dec("33.33")) {
		t.Errorf("pnl = %s (%s%%)", h.UnrealizedPnl.Decimal, h.UnrealizedPnlPct.Decimal)
	}
	if !h.Quantity.Equal(dec("2")) {
		t.Error("quantity must be untouched")
	}
	if h.Notes != "DCA" || h.FirstBuyDate == nil || !h.FirstBuyDate.Equal(firstBuy) {
		t.Errorf("optional fields not applied: %+v", h)
	}

	if _, err := f.svc.SetCostBasis(context.Background(), testUserID, "BTCUSDT", &CostBasisRequest{}); !errors.Is(err, ErrInvalidCostBasis) {
		t.Errorf("expected ErrInvalidCostBasis, got %v", err)
	}
	if _, err := f.svc.SetCostBasis(context.Background(), testUserID, "ETHUSDT", &CostBasisRequest{AvgBuyPrice: dec("1")}); !errors.Is(err, repository.ErrHoldingNotFound) {
		t.Errorf("expected ErrHoldingNotFound, got %v", err)
	}
}
