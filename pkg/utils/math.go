package utils

import (
	"github.com/shopspring/decimal"
)

// math.go - денежная арифметика на decimal
//
// Все суммы и количества хранятся в decimal.Decimal: float64 накапливает
// ошибку округления при суммировании стоимости портфеля.
//
// Правила округления:
// - стоимость (USDT): 2 знака, HALF_UP
// - промежуточная доля (value/total, pnl/invested): 4 знака, HALF_UP
// - цены и P&L сделок: 8 знаков
// - стоимость в BTC: 8 знаков

const (
	MoneyScale    int32 = 2
	RatioScale    int32 = 4
	PriceScale    int32 = 8
	CryptoScale   int32 = 8
	PercentFactor int64 = 100
)

var hundred = decimal.NewFromInt(PercentFactor)

// RoundMoney округляет сумму до центов (HALF_UP)
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyScale)
}

// RoundPrice округляет цену до 8 знаков
func RoundPrice(v decimal.Decimal) decimal.Decimal {
	return v.Round(PriceScale)
}

// PercentOf возвращает part/total*100.
//
// Деление выполняется с точностью RatioScale, затем результат умножается на 100
// и округляется до MoneyScale. Для total <= 0 возвращает false.
//
//	PercentOf(25, 100) // 25.00
func PercentOf(part, total decimal.Decimal) (decimal.Decimal, bool) {
	if !total.IsPositive() {
		return decimal.Zero, false
	}
	ratio := part.DivRound(total, RatioScale)
	return ratio.Mul(hundred).Round(MoneyScale), true
}

// WeightedAverage считает Σ(qty*price)/Σqty.
// Возвращает false, если суммарное количество равно нулю.
func WeightedAverage(quantities, prices []decimal.Decimal) (decimal.Decimal, bool) {
	if len(quantities) != len(prices) {
		return decimal.Zero, false
	}

	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for i := range quantities {
		totalQty = totalQty.Add(quantities[i])
		totalCost = totalCost.Add(quantities[i].Mul(prices[i]))
	}

	if totalQty.IsZero() {
		return decimal.Zero, false
	}
	return totalCost.DivRound(totalQty, PriceScale), true
}

// ChangePercent возвращает (current-base)/base*100 с точностью PriceScale.
// Для base == 0 возвращает false.
func ChangePercent(current, base decimal.Decimal) (decimal.Decimal, bool) {
	if base.IsZero() {
		return decimal.Zero, false
	}
	return current.Sub(base).Div(base).Mul(hundred).Round(PriceScale), true
}

// SumDecimals складывает значения
func SumDecimals(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
