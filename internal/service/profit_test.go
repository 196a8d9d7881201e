package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptofolio/internal/models"
)

var sellTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func buy(id string, qty, price string, at time.Time) *models.Trade {
	return &models.Trade{
		UserID:     testUserID,
		Symbol:     "BTCUSDT",
		Side:       models.TradeSideBuy,
		Quantity:   dec(qty),
		Price:      dec(price),
		ExecutedAt: at,
		ExternalID: id,
	}
}

func sell(qty, price, fee string) *models.Trade {
	return &models.Trade{
		UserID:     testUserID,
		Symbol:     "BTCUSDT",
		Side:       models.TradeSideSell,
		Quantity:   dec(qty),
		Price:      dec(price),
		Fee:        dec(fee),
		ExecutedAt: sellTime,
		ExternalID: "BINANCE_SELL",
	}
}

func TestProfitCalculator_WeightedAverage(t *testing.T) {
	tests := []struct {
		name    string
		fee     string
		wantPnl string
	}{
		{"without fee", "0", "60"},
		{"fee subtracted", "0.5", "59.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockTradeRepository()
			repo.seed(buy("BINANCE_1", "1", "100", sellTime.Add(-48*time.Hour)))
			repo.seed(buy("BINANCE_2", "1", "200", sellTime.Add(-24*time.Hour)))

			calc := NewProfitCalculator(repo, 0)
			tr := sell("2", "180", tt.fee)

			if err := calc.Apply(context.Background(), tr); err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !tr.AvgEntryPrice.Valid || !tr.AvgEntryPrice.Decimal.Equal(dec("150")) {
				t.Errorf("avg entry = %+v, want 150", tr.AvgEntryPrice)
			}
			if !tr.RealizedPnl.Valid || !tr.RealizedPnl.Decimal.Equal(dec(tt.wantPnl)) {
				t.Errorf("pnl = %s, want %s", tr.RealizedPnl.Decimal, tt.wantPnl)
			}
			if !tr.RealizedPnlPct.Valid || !tr.RealizedPnlPct.Decimal.Equal(dec("20")) {
				t.Errorf("pct = %s, want 20", tr.RealizedPnlPct.Decimal)
			}
		})
	}
}

func TestProfitCalculator_Window(t *testing.T) {
	repo := NewMockTradeRepository()
	// за пределами 365 дней
	repo.seed(buy("BINANCE_OLD", "1", "1000", sellTime.Add(-400*24*time.Hour)))
	// одновременно с продажей - не входит в [from, to)
	repo.seed(buy("BINANCE_SAME", "1", "1", sellTime))
	repo.seed(buy("BINANCE_IN", "2", "90", sellTime.Add(-time.Hour)))

	calc := NewProfitCalculator(repo, 0)
	tr := sell("1", "100", "0")
	if err := calc.Apply(context.Background(), tr); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if !tr.AvgEntryPrice.Decimal.Equal(dec("90")) {
		t.Errorf("avg entry = %s, want 90", tr.AvgEntryPrice.Decimal)
	}
	if !tr.RealizedPnl.Decimal.Equal(dec("10")) {
		t.Errorf("pnl = %s, want 10", tr.RealizedPnl.Decimal)
	}
	if got := repo.lastRange[0]; !got.Equal(sellTime.Add(-DefaultProfitLookback)) {
		t.Errorf("window start = %v", got)
	}
}

func TestProfitCalculator_NoBuysLeavesNull(t *testing.T) {
	calc := NewProfitCalculator(NewMockTradeRepository(), 0)
	tr := sell("1", "100", "0")

	if err := calc.Apply(context.Background(), tr); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.RealizedPnl.Valid || tr.RealizedPnlPct.Valid || tr.AvgEntryPrice.Valid {
		t.Error("без покупок P&L должен остаться NULL")
	}
}

func TestProfitCalculator_BuyIgnored(t *testing.T) {
	repo := NewMockTradeRepository()
	repo.listErr = errors.New("must not be called")
	calc := NewProfitCalculator(repo, 0)

	tr := buy("BINANCE_B", "1", "100", sellTime)
	if err := calc.Apply(context.Background(), tr); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.RealizedPnl.Valid {
		t.Error("BUY не получает P&L")
	}
}

func TestProfitCalculator_RepositoryError(t *testing.T) {
	repo := NewMockTradeRepository()
	repo.listErr = errors.New("db down")

	err := NewProfitCalculator(repo, 0).Apply(context.Background(), sell("1", "1", "0"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestProfitCalculator_RoundsToEightPlaces(t *testing.T) {
	repo := NewMockTradeRepository()
	repo.seed(buy("BINANCE_1", "3", "1", sellTime.Add(-time.Hour)))
	repo.seed(buy("BINANCE_2", "0", "5", sellTime.Add(-time.Hour)))
	repo.seed(buy("BINANCE_3", "3", "2", sellTime.Add(-time.Hour)))

	tr := sell("1", "2", "0")
	tr.Symbol = "BTCUSDT"
	if err := NewProfitCalculator(repo, 0).Apply(context.Background(), tr); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// 9/6 = 1.5
	if !tr.AvgEntryPrice.Decimal.Equal(dec("1.5")) {
		t.Errorf("avg entry = %s", tr.AvgEntryPrice.Decimal)
	}
	if tr.RealizedPnlPct.Decimal.Exponent() < -8 {
		t.Errorf("pct not rounded: %s", tr.RealizedPnlPct.Decimal)
	}
}
