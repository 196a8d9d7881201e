package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"cryptofolio/internal/models"
)

// ============================================================
// TradeRepository Tests
// ============================================================

var tradeRowColumns = []string{
	"id", "user_id", "exchange", "symbol", "side", "quantity", "price", "quote_quantity", "fee", "fee_asset",
	"is_maker", "executed_at", "external_id", "realized_pnl", "realized_pnl_pct", "avg_entry_price", "created_at", "updated_at",
}

func TestTradeRepositoryExistsByExternalID(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
	}{
		{"exists", true},
		{"missing", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM trades WHERE user_id = \$1 AND external_id = \$2\)`).
				WithArgs(int64(42), "BINANCE_BTCUSDT_1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))

			got, err := NewTradeRepository(db).ExistsByExternalID(context.Background(), 42, "BINANCE_BTCUSDT_1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.exists {
				t.Errorf("expected %v, got %v", tt.exists, got)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO trades`).
					WithArgs(int64(42), "binance", "BTCUSDT", "SELL", "2", "180", "360", "1", "USDT",
						false, sqlmock.AnyArg(), "BINANCE_BTCUSDT_77", "59", sqlmock.AnyArg(), "150",
						sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))
			},
		},
		{
			name: "duplicate external id",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO trades`).
					WillReturnError(&pq.Error{Code: "23505"})
			},
			expectError: ErrTradeExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			tr := &models.Trade{
				UserID:         42,
				Exchange:       "binance",
				Symbol:         "BTCUSDT",
				Side:           models.TradeSideSell,
				Quantity:       decimal.NewFromInt(2),
				Price:          decimal.NewFromInt(180),
				QuoteQuantity:  decimal.NewFromInt(360),
				Fee:            decimal.NewFromInt(1),
				FeeAsset:       "USDT",
				ExecutedAt:     time.Now(),
				ExternalID:     "BINANCE_BTCUSDT_77",
				RealizedPnl:    decimal.NewNullDecimal(decimal.NewFromInt(59)),
				RealizedPnlPct: decimal.NewNullDecimal(decimal.NewFromInt(20)),
				AvgEntryPrice:  decimal.NewNullDecimal(decimal.NewFromInt(150)),
			}
			err = NewTradeRepository(db).Create(context.Background(), tr)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tr.ID != 100 {
					t.Errorf("expected ID=100, got %d", tr.ID)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryListBuysInRange(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	executed := from.Add(24 * time.Hour)

	rows := sqlmock.NewRows(tradeRowColumns).
		AddRow(1, 42, "binance", "BTCUSDT", "BUY", "1", "100", "100", "0", "BTC", false, executed, "BINANCE_1", nil, nil, nil, executed, executed).
		AddRow(2, 42, "binance", "BTCUSDT", "BUY", "1", "200", "200", "0", "BTC", true, executed, "BINANCE_2", nil, nil, nil, executed, executed)
	mock.ExpectQuery(`SELECT .+ FROM trades WHERE user_id = \$1 AND symbol = \$2 AND side = 'BUY' AND executed_at >= \$3 AND executed_at < \$4`).
		WithArgs(int64(42), "BTCUSDT", from, to).
		WillReturnRows(rows)

	trades, err := NewTradeRepository(db).ListBuysInRange(context.Background(), 42, "BTCUSDT", from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].RealizedPnl.Valid {
		t.Error("buy must not carry realized pnl")
	}
	if !trades[1].Price.Equal(decimal.NewFromInt(200)) || !trades[1].IsMaker {
		t.Errorf("unexpected trade: %+v", trades[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryListByUserInRange(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)

	rows := sqlmock.NewRows(tradeRowColumns).
		AddRow(3, 42, "binance", "ETHUSDT", "SELL", "1", "2500", "2500", "1", "USDT", false, from, "BINANCE_3", "499", "24.95", "2000", from, from)
	mock.ExpectQuery(`SELECT .+ FROM trades WHERE user_id = \$1 AND executed_at >= \$2 AND executed_at < \$3`).
		WithArgs(int64(42), from, to).
		WillReturnRows(rows)

	trades, err := NewTradeRepository(db).ListByUserInRange(context.Background(), 42, from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 || !trades[0].RealizedPnl.Valid {
		t.Fatalf("unexpected trades: %+v", trades)
	}
	if !trades[0].RealizedPnl.Decimal.Equal(decimal.NewFromInt(499)) {
		t.Errorf("expected pnl 499, got %s", trades[0].RealizedPnl.Decimal)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
