package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Стороны сделки
const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

// ExternalIDPrefix - префикс внешнего id сделок Binance
const ExternalIDPrefix = "BINANCE_"

// ExternalTradeID строит внешний id сделки: BINANCE_<symbol>_<tradeId>.
// id сделки Binance уникален только в пределах символа и общий для обеих сторон,
// поэтому в базе уникальна пара (user_id, external_id).
func ExternalTradeID(symbol string, tradeID int64) string {
	return ExternalIDPrefix + symbol + "_" + strconv.FormatInt(tradeID, 10)
}

// Trade представляет исполненную сделку, загруженную с биржи
type Trade struct {
	ID             int64               `json:"id" db:"id"`
	UserID         int64               `json:"user_id" db:"user_id"`
	Exchange       string              `json:"exchange" db:"exchange"`
	Symbol         string              `json:"symbol" db:"symbol"`
	Side           string              `json:"side" db:"side"` // BUY, SELL
	Quantity       decimal.Decimal     `json:"quantity" db:"quantity"`
	Price          decimal.Decimal     `json:"price" db:"price"`
	QuoteQuantity  decimal.Decimal     `json:"quote_quantity" db:"quote_quantity"`
	Fee            decimal.Decimal     `json:"fee" db:"fee"`
	FeeAsset       string              `json:"fee_asset" db:"fee_asset"`
	IsMaker        bool                `json:"is_maker" db:"is_maker"`
	ExecutedAt     time.Time           `json:"executed_at" db:"executed_at"`
	ExternalID     string              `json:"external_id" db:"external_id"` // уникален для пользователя
	RealizedPnl    decimal.NullDecimal `json:"realized_pnl" db:"realized_pnl"`
	RealizedPnlPct decimal.NullDecimal `json:"realized_pnl_pct" db:"realized_pnl_pct"`
	AvgEntryPrice  decimal.NullDecimal `json:"avg_entry_price" db:"avg_entry_price"`
	Timestamps
}

// IsSell - сделка продажи
func (t *Trade) IsSell() bool {
	return t.Side == TradeSideSell
}

// Volume возвращает qty * price
func (t *Trade) Volume() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}
