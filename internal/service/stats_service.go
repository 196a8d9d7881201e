package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cryptofolio/internal/models"
	"cryptofolio/pkg/utils"
)

// StatsService предоставляет статистику сделок за период.
//
// Функции:
// - GetTradeStats: количество сделок, win rate, P&L, объём за day/week/month/year/all
//
// Выигрышная/проигрышная сделка - продажа с realized pnl > 0 / < 0.
// Продажи без P&L (не было покупок в окне) в win rate не участвуют.
type StatsService struct {
	trades TradeRepositoryInterface
	now    func() time.Time
}

// NewStatsService создает новый экземпляр StatsService
func NewStatsService(trades TradeRepositoryInterface) *StatsService {
	return &StatsService{trades: trades, now: time.Now}
}

// GetTradeStats возвращает статистику за период; неизвестный период = all
func (s *StatsService) GetTradeStats(ctx context.Context, userID int64, period string) (*models.TradeStats, error) {
	p := utils.ParsePeriod(period)
	tr := utils.PeriodRangeAt(p, s.now())

	// интервал репозитория полуоткрытый, сделки текущей секунды включаем
	trades, err := s.trades.ListByUserInRange(ctx, userID, tr.Start, tr.End.Add(time.Second))
	if err != nil {
		return nil, err
	}

	if p == utils.PeriodAll && len(trades) > 0 {
		tr.Start = trades[0].ExecutedAt
	}

	stats := aggregateTrades(trades, tr.Days())
	stats.Period = string(p)
	stats.From = tr.Start
	stats.To = tr.End
	return stats, nil
}

// aggregateTrades считает показатели по списку сделок
func aggregateTrades(trades []*models.Trade, days int) *models.TradeStats {
	stats := &models.TradeStats{
		WinRate:      decimal.Zero,
		TotalProfit:  decimal.Zero,
		TotalLoss:    decimal.Zero,
		NetPnl:       decimal.Zero,
		AvgProfit:    decimal.Zero,
		AvgLoss:      decimal.Zero,
		LargestWin:   decimal.Zero,
		LargestLoss:  decimal.Zero,
		TotalVolume:  decimal.Zero,
		AvgTradeSize: decimal.Zero,
		TradesPerDay: decimal.Zero,
	}

	withPnl := 0
	for _, t := range trades {
		stats.TotalTrades++
		stats.TotalVolume = stats.TotalVolume.Add(t.Volume())

		if !t.IsSell() {
			stats.BuyTrades++
			continue
		}
		stats.SellTrades++

		if !t.RealizedPnl.Valid {
			continue
		}
		withPnl++
		pnl := t.RealizedPnl.Decimal

		switch {
		case pnl.IsPositive():
			stats.WinningTrades++
			stats.TotalProfit = stats.TotalProfit.Add(pnl)
			if pnl.GreaterThan(stats.LargestWin) {
				stats.LargestWin = pnl
			}
		case pnl.IsNegative():
			stats.LosingTrades++
			stats.TotalLoss = stats.TotalLoss.Add(pnl)
			if pnl.LessThan(stats.LargestLoss) {
				stats.LargestLoss = pnl
			}
		}
	}

	stats.NetPnl = stats.TotalProfit.Add(stats.TotalLoss)

	if withPnl > 0 {
		stats.WinRate, _ = utils.PercentOf(decimal.NewFromInt(int64(stats.WinningTrades)), decimal.NewFromInt(int64(withPnl)))
	}
	if stats.WinningTrades > 0 {
		stats.AvgProfit = stats.TotalProfit.DivRound(decimal.NewFromInt(int64(stats.WinningTrades)), utils.PriceScale)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = stats.TotalLoss.DivRound(decimal.NewFromInt(int64(stats.LosingTrades)), utils.PriceScale)
	}
	if stats.TotalTrades > 0 {
		n := decimal.NewFromInt(int64(stats.TotalTrades))
		stats.AvgTradeSize = stats.TotalVolume.DivRound(n, utils.PriceScale)
		if days < 1 {
			days = 1
		}
		stats.TradesPerDay = n.DivRound(decimal.NewFromInt(int64(days)), utils.MoneyScale)
	}
	return stats
}
