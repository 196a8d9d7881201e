package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"cryptofolio/internal/exchange"
	"cryptofolio/internal/metrics"
	"cryptofolio/internal/models"
	"cryptofolio/internal/repository"
	"cryptofolio/pkg/utils"
)

// DefaultSyncSymbols - символы загрузки, если запрос их не указывает
var DefaultSyncSymbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"}

// DefaultSymbolDelay - пауза между запросами сделок по разным символам
const DefaultSymbolDelay = time.Second

// Результаты ingest для метрик
const (
	ingestSaved   = "saved"
	ingestSkipped = "skipped"
	ingestFailed  = "failed"
)

// TradeSyncRequest - параметры загрузки сделок
type TradeSyncRequest struct {
	Symbols []string  `json:"symbols"`
	Since   time.Time `json:"since"`
	Limit   int       `json:"limit"`
}

// TradeSyncConfig - настройки сервиса загрузки
type TradeSyncConfig struct {
	DefaultSymbols []string
	SymbolDelay    time.Duration // 0 = без паузы между символами
}

// TradeSyncService загружает исполненные сделки с биржи.
//
// Символы обрабатываются последовательно, между запросами - пауза SymbolDelay
// (rate.Limiter). Каждая сделка сохраняется не более одного раза по (user_id, external_id);
// конфликт уникальности при параллельной загрузке считается пропуском.
// Открытый breaker прерывает загрузку: остальные символы дадут тот же отказ.
type TradeSyncService struct {
	credentials CredentialProvider
	trades      TradeRepositoryInterface
	profit      *ProfitCalculator
	exch        exchange.Exchange
	wsHub       TradeSyncBroadcaster
	cfg         TradeSyncConfig
	logger      *utils.Logger
	now         func() time.Time
}

// NewTradeSyncService создает новый экземпляр сервиса
func NewTradeSyncService(
	credentials CredentialProvider,
	trades TradeRepositoryInterface,
	profit *ProfitCalculator,
	exch exchange.Exchange,
	cfg TradeSyncConfig,
	logger *utils.Logger,
) *TradeSyncService {
	if len(cfg.DefaultSymbols) == 0 {
		cfg.DefaultSymbols = DefaultSyncSymbols
	}
	if cfg.SymbolDelay < 0 {
		cfg.SymbolDelay = 0
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &TradeSyncService{
		credentials: credentials,
		trades:      trades,
		profit:      profit,
		exch:        exch,
		cfg:         cfg,
		logger:      logger.WithComponent("trade_sync"),
		now:         time.Now,
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast результатов
func (s *TradeSyncService) SetWebSocketHub(hub TradeSyncBroadcaster) {
	s.wsHub = hub
}

// SyncTrades загружает сделки по символам и возвращает сводку
func (s *TradeSyncService) SyncTrades(ctx context.Context, userID int64, req *TradeSyncRequest) (*models.TradeSyncResult, error) {
	symbols, err := s.resolveSymbols(req.Symbols)
	if err != nil {
		return nil, err
	}

	cred, creds, err := s.credentials.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := utils.ClampLimit(req.Limit, exchange.DefaultTradesLimit, exchange.MaxTradesLimit)
	limiter := newSymbolLimiter(s.cfg.SymbolDelay)
	log := s.logger.WithUser(userID)

	result := &models.TradeSyncResult{
		UserID:    userID,
		Symbols:   make([]models.SymbolSyncResult, 0, len(symbols)),
		StartedAt: s.now(),
	}

	var providerErr error
	fetched := 0

	for _, symbol := range symbols {
		if err := limiter.Wait(ctx); err != nil {
			result.Aborted = true
			break
		}

		sr := models.SymbolSyncResult{Symbol: symbol}
		fills, err := s.exch.GetRecentTrades(ctx, creds, exchange.TradeQuery{
			Symbol:    symbol,
			StartTime: req.Since,
			Limit:     limit,
		})
		if err != nil {
			sr.Error = err.Error()
			result.Failed++
			result.Symbols = append(result.Symbols, sr)
			log.Warn("trade fetch failed", utils.Symbol(symbol), utils.Err(err))

			if errors.Is(err, exchange.ErrCircuitOpen) {
				result.Aborted = true
				break
			}
			if _, ok := exchange.AsAPIError(err); ok {
				providerErr = err
			}
			continue
		}
		fetched++

		sr.Fetched = len(fills)
		for _, fill := range fills {
			saved, err := s.ingest(ctx, userID, fill)
			switch {
			case err != nil:
				result.Failed++
				log.Error("failed to store trade", utils.Symbol(symbol), utils.Int64("trade_id", fill.ID), utils.Err(err))
			case saved:
				sr.Saved++
			default:
				sr.Skipped++
			}
		}

		result.Saved += sr.Saved
		result.Skipped += sr.Skipped
		result.Symbols = append(result.Symbols, sr)
	}

	switch {
	case providerErr != nil:
		s.credentials.MarkFailed(ctx, cred, providerErr)
	case fetched > 0:
		s.credentials.MarkSynced(ctx, cred, cred.CanTrade)
	}

	result.Duration = time.Since(result.StartedAt)
	metrics.RecordTradeIngest(ingestSaved, result.Saved)
	metrics.RecordTradeIngest(ingestSkipped, result.Skipped)
	metrics.RecordTradeIngest(ingestFailed, result.Failed)

	log.Info("trade sync finished",
		utils.Count("saved", result.Saved),
		utils.Count("skipped", result.Skipped),
		utils.Count("failed", result.Failed),
		utils.Bool("aborted", result.Aborted),
	)

	if s.wsHub != nil {
		s.wsHub.BroadcastTradeSync(result)
	}
	return result, nil
}

// ingest сохраняет одну сделку. Возвращает false, если она уже была загружена.
func (s *TradeSyncService) ingest(ctx context.Context, userID int64, fill exchange.ExchangeTrade) (bool, error) {
	externalID := models.ExternalTradeID(fill.Symbol, fill.ID)

	exists, err := s.trades.ExistsByExternalID(ctx, userID, externalID)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", externalID, err)
	}
	if exists {
		return false, nil
	}

	t := &models.Trade{
		UserID:        userID,
		Exchange:      s.exch.GetName(),
		Symbol:        fill.Symbol,
		Side:          fill.Side(),
		Quantity:      fill.Qty,
		Price:         fill.Price,
		QuoteQuantity: fill.QuoteQty,
		Fee:           fill.Commission,
		FeeAsset:      fill.CommissionAsset,
		IsMaker:       fill.IsMaker,
		ExecutedAt:    fill.Time,
		ExternalID:    externalID,
	}

	if s.profit != nil {
		if err := s.profit.Apply(ctx, t); err != nil {
			// сделку сохраняем без P&L
			s.logger.Warn("profit calculation failed", utils.Symbol(t.Symbol), utils.Err(err))
		}
	}

	if err := s.trades.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrTradeExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *TradeSyncService) resolveSymbols(requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = s.cfg.DefaultSymbols
	}

	seen := make(map[string]struct{}, len(requested))
	symbols := make([]string, 0, len(requested))
	for _, raw := range requested {
		if err := utils.ValidateSymbol(raw); err != nil {
			return nil, err
		}
		symbol := utils.NormalizeSymbol(raw)
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}

// newSymbolLimiter: первый запрос сразу, каждый следующий не раньше чем через delay
func newSymbolLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
