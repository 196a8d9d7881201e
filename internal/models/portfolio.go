package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetValuation - оценка одного актива в снимке портфеля
type AssetValuation struct {
	Asset         string          `json:"asset"`
	Symbol        string          `json:"symbol"`
	Free          decimal.Decimal `json:"free"`
	Locked        decimal.Decimal `json:"locked"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Value         decimal.Decimal `json:"value"`          // USDT, 2 знака
	AllocationPct decimal.Decimal `json:"allocation_pct"` // 2 знака
}

// PortfolioSnapshot - живой снимок портфеля
type PortfolioSnapshot struct {
	UserID        int64            `json:"user_id"`
	CredentialID  int64            `json:"credential_id"`
	TotalValue    decimal.Decimal  `json:"total_value"`     // USDT
	TotalValueBTC decimal.Decimal  `json:"total_value_btc"` // 8 знаков
	Assets        []AssetValuation `json:"assets"`          // value > 0, по убыванию value
	Permissions   []string         `json:"permissions"`
	CanTrade      bool             `json:"can_trade"`
	UpdatedAt     time.Time        `json:"updated_at"`

	// HeldAssets - все активы с ненулевым балансом, включая неоценённые
	// (нет тикера или стоимость меньше цента)
	HeldAssets []string `json:"-"`
}

// AssetSet возвращает множество активов, которые есть на аккаунте
func (s *PortfolioSnapshot) AssetSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Assets)+len(s.HeldAssets))
	for _, a := range s.Assets {
		set[a.Asset] = struct{}{}
	}
	for _, asset := range s.HeldAssets {
		set[asset] = struct{}{}
	}
	return set
}

// SyncResult - результат слияния снимка с сохранёнными позициями
type SyncResult struct {
	UserID     int64           `json:"user_id"`
	Updated    int             `json:"updated"`
	Created    int             `json:"created"`
	Zeroed     int             `json:"zeroed"`
	Failed     int             `json:"failed"`
	TotalValue decimal.Decimal `json:"total_value"`
	SyncedAt   time.Time       `json:"synced_at"`
}

// PriceUpdateResult - результат обновления цен без запроса баланса
type PriceUpdateResult struct {
	UserID   int64     `json:"user_id"`
	Updated  int       `json:"updated"`
	Missing  []string  `json:"missing,omitempty"` // символы без цены
	SyncedAt time.Time `json:"synced_at"`
}
