package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"cryptofolio/internal/metrics"
	"cryptofolio/pkg/ratelimit"
	"cryptofolio/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	BinanceName       = "binance"
	BinanceBaseURL    = "https://api.binance.com"
	DefaultRecvWindow = 5000 // мс

	apiKeyHeader    = "X-MBX-APIKEY"
	maxResponseSize = 10 << 20
)

// Endpoints
const (
	endpointAccount  = "/api/v3/account"
	endpointMyTrades = "/api/v3/myTrades"
	endpointTime     = "/api/v3/time"
	endpointTicker   = "/api/v3/ticker/price"
)

// Вес запросов по таблице лимитов Binance
const (
	weightAccount      = 10
	weightMyTrades     = 10
	weightTickerAll    = 4
	weightTickerSingle = 2
	weightTime         = 1
)

// Лимиты выборки сделок
const (
	DefaultTradesLimit = 500
	MaxTradesLimit     = 1000
)

// BinanceConfig - параметры клиента
type BinanceConfig struct {
	BaseURL          string
	RecvWindow       int64 // мс
	WeightCeiling    int
	BudgetWindow     time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	MaxClockSkew     time.Duration // 0 = recvWindow
	HTTP             HTTPClientConfig
}

// DefaultBinanceConfig возвращает конфигурацию по умолчанию
func DefaultBinanceConfig() BinanceConfig {
	return BinanceConfig{
		BaseURL:          BinanceBaseURL,
		RecvWindow:       DefaultRecvWindow,
		WeightCeiling:    ratelimit.DefaultCeiling,
		BudgetWindow:     ratelimit.DefaultWindow,
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerCooldown:  DefaultBreakerCooldown,
		HTTP:             DefaultHTTPClientConfig(),
	}
}

// Binance реализует Exchange для спотового REST API Binance.
//
// Каждый подписанный запрос проходит через:
// 1. breaker ключа - отказ ErrCircuitOpen без сетевого запроса
// 2. бюджет веса ключа - отказ ErrRateLimited без сетевого запроса
// 3. подпись HMAC-SHA256 с timestamp и recvWindow
// 4. классификацию ошибки и запись исхода в breaker
//
// Автоматических повторов нет: решение о повторе принимает вызывающий код.
type Binance struct {
	baseURL    string
	recvWindow int64
	maxSkew    time.Duration

	httpClient *http.Client
	breakers   *BreakerRegistry
	budgets    *ratelimit.Budgets

	logger *utils.Logger
	now    func() time.Time
}

// NewBinance создаёт клиент Binance
func NewBinance(cfg BinanceConfig, logger *utils.Logger) *Binance {
	def := DefaultBinanceConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = def.RecvWindow
	}
	if cfg.HTTP.TotalTimeout <= 0 {
		cfg.HTTP = def.HTTP
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = time.Duration(cfg.RecvWindow) * time.Millisecond
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Binance{
		baseURL:    cfg.BaseURL,
		recvWindow: cfg.RecvWindow,
		maxSkew:    cfg.MaxClockSkew,
		httpClient: NewHTTPClient(cfg.HTTP),
		breakers:   NewBreakerRegistry(cfg.BreakerThreshold, cfg.BreakerCooldown, logger),
		budgets:    ratelimit.NewBudgets(cfg.WeightCeiling, cfg.BudgetWindow),
		logger:     logger.WithExchange(BinanceName),
		now:        time.Now,
	}
}

// setClock подменяет источник времени для подписи, breaker и бюджетов (тесты)
func (b *Binance) setClock(now func() time.Time) {
	b.now = now
	b.breakers.now = now
	b.budgets.SetClock(now)
}

func (b *Binance) GetName() string {
	return BinanceName
}

// BreakerState возвращает состояние breaker ключа
func (b *Binance) BreakerState(credentialID int64) BreakerSnapshot {
	return b.breakers.Get(credentialID).Snapshot()
}

// ProtectionState возвращает состояние breaker и бюджета веса ключа
func (b *Binance) ProtectionState(credentialID int64) ProtectionSnapshot {
	budget := b.budgets.For(credentialID)
	return ProtectionSnapshot{
		Breaker:         b.BreakerState(credentialID),
		WeightRemaining: budget.Remaining(),
		WeightCeiling:   budget.Ceiling(),
	}
}

// ForgetCredential удаляет состояние защиты для удалённого ключа
func (b *Binance) ForgetCredential(credentialID int64) {
	b.breakers.Reset(credentialID)
	b.budgets.Forget(credentialID)
}

func (b *Binance) Close() {
	closeIdle(b.httpClient)
}

// ============================================================
// Транспорт
// ============================================================

// doSigned выполняет подписанный GET запрос
func (b *Binance) doSigned(ctx context.Context, creds Credentials, endpoint string, params url.Values, weight int) ([]byte, error) {
	breaker := b.breakers.Get(creds.ID)
	if !breaker.Allow() {
		metrics.RecordExchangeRequest(endpoint, metrics.OutcomeCircuitOpen, 0)
		return nil, ErrCircuitOpen
	}

	budget := b.budgets.For(creds.ID)
	if !budget.Reserve(weight) {
		// пробный запрос не ушёл - cooldown не перезапускаем
		breaker.ReleaseProbe()
		metrics.RecordExchangeRequest(endpoint, metrics.OutcomeRateLimited, 0)
		b.logger.Warn("request weight budget exhausted",
			utils.CredentialID(creds.ID), utils.Endpoint(endpoint), utils.Weight(weight),
			utils.Int("remaining", budget.Remaining()))
		return nil, ErrRateLimited
	}

	query := signQuery(params, creds.Secret, b.recvWindow, b.now())
	body, err := b.send(ctx, endpoint, query, creds.APIKey)
	if err != nil {
		if ctx.Err() != nil {
			// запрос отменён вызывающим кодом, биржа тут ни при чём
			breaker.ReleaseProbe()
			return nil, err
		}
		breaker.RecordFailure()
		b.logFailure(creds.ID, endpoint, err)
		return nil, err
	}

	breaker.RecordSuccess()
	return body, nil
}

// doPublic выполняет публичный запрос через общий бюджет, без breaker
func (b *Binance) doPublic(ctx context.Context, endpoint string, params url.Values, weight int) ([]byte, error) {
	budget := b.budgets.For(ratelimit.PublicKey)
	if !budget.Reserve(weight) {
		metrics.RecordExchangeRequest(endpoint, metrics.OutcomeRateLimited, 0)
		return nil, ErrRateLimited
	}
	metrics.SetBudgetUsed("public", budget.Used())

	var query string
	if len(params) > 0 {
		query = params.Encode()
	}
	return b.send(ctx, endpoint, query, "")
}

// send отправляет запрос и превращает неуспешный ответ в *APIError
func (b *Binance) send(ctx context.Context, endpoint, query, apiKey string) ([]byte, error) {
	reqURL := b.baseURL + endpoint
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", endpoint, err)
	}
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.RecordExchangeRequest(endpoint, metrics.OutcomeError, msSince(start))
		metrics.RecordExchangeError(string(CategoryNetworkError))
		return nil, newNetworkError(endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		metrics.RecordExchangeRequest(endpoint, metrics.OutcomeError, msSince(start))
		return nil, newNetworkError(endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseErrorBody(endpoint, resp.StatusCode, body)
		metrics.RecordExchangeRequest(endpoint, metrics.OutcomeError, msSince(start))
		metrics.RecordExchangeError(string(apiErr.Category))
		return nil, apiErr
	}

	metrics.RecordExchangeRequest(endpoint, metrics.OutcomeOK, msSince(start))
	return body, nil
}

// parseErrorBody разбирает тело {code,msg}; если не удалось - классифицирует по HTTP статусу
func parseErrorBody(endpoint string, status int, body []byte) *APIError {
	var e struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &e); err == nil && (e.Code != 0 || e.Msg != "") {
		return newAPIError(endpoint, status, e.Code, e.Msg, nil)
	}
	return newAPIError(endpoint, status, 0, http.StatusText(status), nil)
}

func (b *Binance) logFailure(credentialID int64, endpoint string, err error) {
	fields := []utils.Field{utils.CredentialID(credentialID), utils.Endpoint(endpoint), utils.Err(err)}
	if apiErr, ok := AsAPIError(err); ok {
		fields = append(fields, utils.Category(string(apiErr.Category)), utils.Bool("retryable", apiErr.IsTransient))
	}
	b.logger.Warn("exchange request failed", fields...)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// ============================================================
// Операции
// ============================================================

type accountResponse struct {
	CanTrade    bool     `json:"canTrade"`
	UpdateTime  int64    `json:"updateTime"`
	Permissions []string `json:"permissions"`
	Balances    []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

// GetAccountSnapshot получает балансы и права ключа
func (b *Binance) GetAccountSnapshot(ctx context.Context, creds Credentials) (*AccountSnapshot, error) {
	body, err := b.doSigned(ctx, creds, endpointAccount, url.Values{}, weightAccount)
	if err != nil {
		return nil, err
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	snapshot := &AccountSnapshot{
		Balances:    make([]Balance, 0, len(resp.Balances)),
		Permissions: resp.Permissions,
		CanTrade:    resp.CanTrade,
		UpdateTime:  utils.FromUnixMillis(resp.UpdateTime),
	}
	for _, bal := range resp.Balances {
		snapshot.Balances = append(snapshot.Balances, Balance{
			Asset:  bal.Asset,
			Free:   bal.Free,
			Locked: bal.Locked,
		})
	}
	return snapshot, nil
}

type tradeResponse struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"orderId"`
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	QuoteQty        decimal.Decimal `json:"quoteQty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	Time            int64           `json:"time"`
	IsBuyer         bool            `json:"isBuyer"`
	IsMaker         bool            `json:"isMaker"`
}

// GetRecentTrades получает сделки по символу.
// Limit ограничивается диапазоном 1..1000, 0 = 500.
func (b *Binance) GetRecentTrades(ctx context.Context, creds Credentials, q TradeQuery) ([]ExchangeTrade, error) {
	symbol := utils.NormalizeSymbol(q.Symbol)
	if err := utils.ValidateSymbol(symbol); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(utils.ClampLimit(q.Limit, DefaultTradesLimit, MaxTradesLimit)))
	if !q.StartTime.IsZero() {
		params.Set("startTime", strconv.FormatInt(utils.ToUnixMillis(q.StartTime), 10))
	}
	if !q.EndTime.IsZero() {
		params.Set("endTime", strconv.FormatInt(utils.ToUnixMillis(q.EndTime), 10))
	}

	body, err := b.doSigned(ctx, creds, endpointMyTrades, params, weightMyTrades)
	if err != nil {
		return nil, err
	}

	var resp []tradeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}

	trades := make([]ExchangeTrade, 0, len(resp))
	for _, t := range resp {
		trades = append(trades, ExchangeTrade{
			ID:              t.ID,
			OrderID:         t.OrderID,
			Symbol:          t.Symbol,
			Price:           t.Price,
			Qty:             t.Qty,
			QuoteQty:        t.QuoteQty,
			Commission:      t.Commission,
			CommissionAsset: t.CommissionAsset,
			Time:            utils.FromUnixMillis(t.Time),
			IsBuyer:         t.IsBuyer,
			IsMaker:         t.IsMaker,
		})
	}
	return trades, nil
}

// GetServerTime возвращает время сервера биржи
func (b *Binance) GetServerTime(ctx context.Context) (time.Time, error) {
	body, err := b.doPublic(ctx, endpointTime, nil, weightTime)
	if err != nil {
		return time.Time{}, err
	}

	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("decode server time: %w", err)
	}
	return utils.FromUnixMillis(resp.ServerTime), nil
}

type tickerResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// GetTickerPrices возвращает цены всех символов: symbol -> price
func (b *Binance) GetTickerPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := b.doPublic(ctx, endpointTicker, nil, weightTickerAll)
	if err != nil {
		return nil, err
	}

	var resp []tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(resp))
	for _, t := range resp {
		prices[t.Symbol] = t.Price
	}
	return prices, nil
}

// GetTickerPrice возвращает цену одного символа
func (b *Binance) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = utils.NormalizeSymbol(symbol)
	if err := utils.ValidateSymbol(symbol); err != nil {
		return decimal.Zero, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := b.doPublic(ctx, endpointTicker, params, weightTickerSingle)
	if err != nil {
		return decimal.Zero, err
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker: %w", err)
	}
	return resp.Price, nil
}

// CheckClockSkew возвращает расхождение локальных часов с биржей (local - server).
// Расхождение больше допустимого возвращается как TIMESTAMP_SKEW: подписанные
// запросы с такими часами биржа отклонит.
func (b *Binance) CheckClockSkew(ctx context.Context) (time.Duration, error) {
	server, err := b.GetServerTime(ctx)
	if err != nil {
		return 0, err
	}

	skew := b.now().Sub(server)
	if skew.Abs() > b.maxSkew {
		return skew, &APIError{
			Category:    CategoryTimestampSkew,
			IsTransient: true,
			Message:     fmt.Sprintf("local clock differs from server by %s (max %s)", skew, b.maxSkew),
			Endpoint:    endpointTime,
		}
	}
	return skew, nil
}

var _ Exchange = (*Binance)(nil)
