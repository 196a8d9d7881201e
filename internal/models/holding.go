package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding - позиция пользователя по активу, ключ (user_id, symbol)
//
// Quantity перезаписывается из каждого снимка аккаунта и никогда не накапливается.
// AvgBuyPrice и TotalInvested задаются вручную (SetCostBasis) и от снимков не зависят.
type Holding struct {
	ID                int64               `json:"id" db:"id"`
	UserID            int64               `json:"user_id" db:"user_id"`
	Symbol            string              `json:"symbol" db:"symbol"` // BTCUSDT
	Asset             string              `json:"asset" db:"asset"`   // BTC
	Quantity          decimal.Decimal     `json:"quantity" db:"quantity"`
	Free              decimal.Decimal     `json:"free" db:"free"`
	Locked            decimal.Decimal     `json:"locked" db:"locked"`
	AvgBuyPrice       decimal.Decimal     `json:"avg_buy_price" db:"avg_buy_price"`
	TotalInvested     decimal.Decimal     `json:"total_invested" db:"total_invested"`
	CurrentPrice      decimal.Decimal     `json:"current_price" db:"current_price"`
	CurrentValue      decimal.Decimal     `json:"current_value" db:"current_value"`
	UnrealizedPnl     decimal.NullDecimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	UnrealizedPnlPct  decimal.NullDecimal `json:"unrealized_pnl_pct" db:"unrealized_pnl_pct"`
	Notes             string              `json:"notes,omitempty" db:"notes"`
	FirstBuyDate      *time.Time          `json:"first_buy_date,omitempty" db:"first_buy_date"`
	LastPriceUpdate   *time.Time          `json:"last_price_update,omitempty" db:"last_price_update"`
	LastBalanceUpdate *time.Time          `json:"last_balance_update,omitempty" db:"last_balance_update"`
	Timestamps
}

// HasCostBasis - задана ли себестоимость
func (h *Holding) HasCostBasis() bool {
	return h.TotalInvested.IsPositive()
}

// Zero обнуляет количество и стоимость (актив пропал из снимка аккаунта)
func (h *Holding) Zero(now time.Time) {
	h.Quantity = decimal.Zero
	h.Free = decimal.Zero
	h.Locked = decimal.Zero
	h.CurrentValue = decimal.Zero
	h.LastBalanceUpdate = &now
}
