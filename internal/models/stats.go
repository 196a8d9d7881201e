package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SymbolSyncResult - результат загрузки сделок по одному символу
type SymbolSyncResult struct {
	Symbol  string `json:"symbol"`
	Fetched int    `json:"fetched"`
	Saved   int    `json:"saved"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// TradeSyncResult - результат загрузки сделок
type TradeSyncResult struct {
	UserID    int64              `json:"user_id"`
	Symbols   []SymbolSyncResult `json:"symbols"`
	Saved     int                `json:"saved"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
	Aborted   bool               `json:"aborted"` // прервано открытым breaker
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
}

// TradeStats - агрегированная статистика сделок за период
type TradeStats struct {
	Period        string          `json:"period"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	TotalTrades   int             `json:"total_trades"`
	BuyTrades     int             `json:"buy_trades"`
	SellTrades    int             `json:"sell_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"` // %
	TotalProfit   decimal.Decimal `json:"total_profit"`
	TotalLoss     decimal.Decimal `json:"total_loss"` // отрицательное или 0
	NetPnl        decimal.Decimal `json:"net_pnl"`
	AvgProfit     decimal.Decimal `json:"avg_profit"`
	AvgLoss       decimal.Decimal `json:"avg_loss"`
	LargestWin    decimal.Decimal `json:"largest_win"`
	LargestLoss   decimal.Decimal `json:"largest_loss"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	AvgTradeSize  decimal.Decimal `json:"avg_trade_size"`
	TradesPerDay  decimal.Decimal `json:"trades_per_day"`
}
