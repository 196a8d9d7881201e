package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange определяет интерфейс клиента биржи, которым пользуются сервисы.
// Только чтение: размещение ордеров не поддерживается.
type Exchange interface {
	// GetName возвращает имя биржи
	GetName() string

	// GetAccountSnapshot получает балансы и права ключа (подписанный запрос)
	GetAccountSnapshot(ctx context.Context, creds Credentials) (*AccountSnapshot, error)

	// GetRecentTrades получает сделки пользователя по символу (подписанный запрос)
	GetRecentTrades(ctx context.Context, creds Credentials, q TradeQuery) ([]ExchangeTrade, error)

	// GetServerTime возвращает время сервера биржи
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetTickerPrices возвращает последние цены всех символов
	GetTickerPrices(ctx context.Context) (map[string]decimal.Decimal, error)

	// GetTickerPrice возвращает последнюю цену символа
	GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// CheckClockSkew сравнивает локальные часы с сервером биржи
	CheckClockSkew(ctx context.Context) (time.Duration, error)

	// ProtectionState возвращает состояние breaker и бюджета веса для credential
	ProtectionState(credentialID int64) ProtectionSnapshot

	// ForgetCredential удаляет состояние breaker и бюджета для credential
	ForgetCredential(credentialID int64)

	// Close закрывает idle соединения
	Close()
}

// ProtectionSnapshot - локальная защита ключа: breaker и остаток веса в текущем окне
type ProtectionSnapshot struct {
	Breaker         BreakerSnapshot `json:"breaker"`
	WeightRemaining int             `json:"weight_remaining"`
	WeightCeiling   int             `json:"weight_ceiling"`
}

// Credentials - расшифрованный ключ для подписи запросов.
// Живёт только на время вызова, не сохраняется.
type Credentials struct {
	ID     int64
	APIKey string
	Secret string
}

// Balance - остаток актива на спотовом аккаунте
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total возвращает free + locked
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// AccountSnapshot - состояние аккаунта на момент запроса
type AccountSnapshot struct {
	Balances    []Balance `json:"balances"`
	Permissions []string  `json:"permissions"`
	CanTrade    bool      `json:"can_trade"`
	UpdateTime  time.Time `json:"update_time"`
}

// NonZeroBalances возвращает балансы с free + locked > 0
func (s *AccountSnapshot) NonZeroBalances() []Balance {
	result := make([]Balance, 0, len(s.Balances))
	for _, b := range s.Balances {
		if b.Total().IsPositive() {
			result = append(result, b)
		}
	}
	return result
}

// TradeQuery - параметры запроса сделок
type TradeQuery struct {
	Symbol    string
	StartTime time.Time // нулевое значение = без ограничения
	EndTime   time.Time
	Limit     int // 1..1000, 0 = 500
}

// ExchangeTrade - исполненная сделка в формате биржи
type ExchangeTrade struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	QuoteQty        decimal.Decimal `json:"quote_qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commission_asset"`
	Time            time.Time       `json:"time"`
	IsBuyer         bool            `json:"is_buyer"`
	IsMaker         bool            `json:"is_maker"`
}

// Side возвращает BUY или SELL
func (t ExchangeTrade) Side() string {
	if t.IsBuyer {
		return SideBuy
	}
	return SideSell
}

// Стороны сделки
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)
