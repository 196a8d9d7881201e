package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptofolio/internal/models"
	"cryptofolio/pkg/utils"
)

// DefaultProfitLookback - окно покупок для расчёта средней цены входа
const DefaultProfitLookback = 365 * 24 * time.Hour

// ProfitCalculator считает реализованный P&L продажи по средневзвешенной цене покупок.
//
// Для SELL:
//
//	avg = Σ(qty*price) / Σqty   по BUY того же символа за [executedAt-lookback, executedAt)
//	pnl = (price - avg) * qty - fee
//	pct = (price - avg) / avg * 100
//
// Все три значения округляются до 8 знаков. BUY не получает P&L никогда.
type ProfitCalculator struct {
	trades   TradeRepositoryInterface
	lookback time.Duration
}

// NewProfitCalculator создаёт калькулятор; lookback <= 0 = 365 дней
func NewProfitCalculator(trades TradeRepositoryInterface, lookback time.Duration) *ProfitCalculator {
	if lookback <= 0 {
		lookback = DefaultProfitLookback
	}
	return &ProfitCalculator{trades: trades, lookback: lookback}
}

// Apply заполняет RealizedPnl, RealizedPnlPct и AvgEntryPrice продажи.
// Без покупок в окне поля остаются NULL.
func (c *ProfitCalculator) Apply(ctx context.Context, t *models.Trade) error {
	if !t.IsSell() {
		return nil
	}

	from := t.ExecutedAt.Add(-c.lookback)
	buys, err := c.trades.ListBuysInRange(ctx, t.UserID, t.Symbol, from, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("load buys for %s: %w", t.Symbol, err)
	}

	avg, ok := averageEntryPrice(buys)
	if !ok || !avg.IsPositive() {
		return nil
	}

	diff := t.Price.Sub(avg)
	pnl := diff.Mul(t.Quantity).Sub(t.Fee)
	pct, _ := utils.ChangePercent(t.Price, avg)

	t.AvgEntryPrice = decimal.NewNullDecimal(avg)
	t.RealizedPnl = decimal.NewNullDecimal(utils.RoundPrice(pnl))
	t.RealizedPnlPct = decimal.NewNullDecimal(pct)
	return nil
}

func averageEntryPrice(buys []*models.Trade) (decimal.Decimal, bool) {
	if len(buys) == 0 {
		return decimal.Zero, false
	}
	quantities := make([]decimal.Decimal, len(buys))
	prices := make([]decimal.Decimal, len(buys))
	for i, b := range buys {
		quantities[i] = b.Quantity
		prices[i] = b.Price
	}
	return utils.WeightedAverage(quantities, prices)
}
