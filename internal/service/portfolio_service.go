package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptofolio/internal/exchange"
	"cryptofolio/internal/metrics"
	"cryptofolio/internal/models"
	"cryptofolio/internal/repository"
	"cryptofolio/pkg/utils"
)

// Ошибки сервиса портфеля
var (
	ErrInvalidCostBasis = errors.New("average buy price must be positive")
)

// DefaultMergeTimeout - лимит времени фонового merge
const DefaultMergeTimeout = 30 * time.Second

// Результаты merge для метрик
const (
	mergeResultOK      = "ok"
	mergeResultPartial = "partial"
	mergeResultFailed  = "failed"
	mergeResultDropped = "dropped"
)

// btcSymbol - символ для пересчёта стоимости в BTC
const btcSymbol = "BTCUSDT"

// CostBasisRequest - ручная установка себестоимости позиции
type CostBasisRequest struct {
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	Notes        *string         `json:"notes,omitempty"`
	FirstBuyDate *time.Time      `json:"first_buy_date,omitempty"`
}

// PortfolioService - сверка живого состояния аккаунта с сохранёнными позициями.
//
// Две фазы:
// - live (GetLivePortfolio): снимок аккаунта + цены -> оценка, сразу возвращается вызывающему
// - merge (Merge): в фоне обновляет holdings по снимку, обнуляет пропавшие активы
//
// Live фаза никогда не ждёт merge и запись в базу: состояние ключа пишет
// та же фоновая задача. Переполненная очередь теряет задачу
// (следующее live чтение поставит новую).
type PortfolioService struct {
	credentials  CredentialProvider
	holdings     HoldingRepositoryInterface
	exch         exchange.Exchange
	jobs         JobSubmitter
	wsHub        PortfolioBroadcaster
	mergeTimeout time.Duration
	logger       *utils.Logger
	now          func() time.Time
}

// NewPortfolioService создает новый экземпляр сервиса
func NewPortfolioService(
	credentials CredentialProvider,
	holdings HoldingRepositoryInterface,
	exch exchange.Exchange,
	jobs JobSubmitter,
	mergeTimeout time.Duration,
	logger *utils.Logger,
) *PortfolioService {
	if mergeTimeout <= 0 {
		mergeTimeout = DefaultMergeTimeout
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &PortfolioService{
		credentials:  credentials,
		holdings:     holdings,
		exch:         exch,
		jobs:         jobs,
		mergeTimeout: mergeTimeout,
		logger:       logger.WithComponent("portfolio_service"),
		now:          time.Now,
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast результатов merge.
//
// Вызывается после инициализации Hub в main.go:
//
//	portfolioService.SetWebSocketHub(wsHub)
func (s *PortfolioService) SetWebSocketHub(hub PortfolioBroadcaster) {
	s.wsHub = hub
}

// ============================================================
// Live фаза
// ============================================================

// liveRead - результат live чтения: снимок и данные для учёта на ключе
type liveRead struct {
	cred       *models.Credential
	account    *exchange.AccountSnapshot
	accountErr error // ошибка запроса аккаунта
	snapshot   *models.PortfolioSnapshot
}

// GetLivePortfolio возвращает оценённый снимок аккаунта и ставит merge в очередь.
// Состояние ключа пишется фоновой задачей, запрос не ждёт базу.
func (s *PortfolioService) GetLivePortfolio(ctx context.Context, userID int64) (*models.PortfolioSnapshot, error) {
	read, err := s.fetchLive(ctx, userID)
	if err != nil {
		s.submitOutcome(ctx, read)
		return nil, err
	}
	s.enqueueMerge(ctx, read)
	return read.snapshot, nil
}

// fetchLive читает аккаунт и цены. Ничего не пишет: результат на ключе
// учитывает вызывающий через recordOutcome. read == nil, если ключ не загружен.
func (s *PortfolioService) fetchLive(ctx context.Context, userID int64) (*liveRead, error) {
	cred, creds, err := s.credentials.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	read := &liveRead{cred: cred}

	account, err := s.exch.GetAccountSnapshot(ctx, creds)
	if err != nil {
		read.accountErr = err
		return read, fmt.Errorf("account snapshot: %w", err)
	}
	read.account = account

	prices, err := s.exch.GetTickerPrices(ctx)
	if err != nil {
		return read, fmt.Errorf("ticker prices: %w", err)
	}

	read.snapshot = ValuePortfolio(account, prices, s.now())
	read.snapshot.UserID = userID
	read.snapshot.CredentialID = cred.ID
	return read, nil
}

// recordOutcome учитывает результат запроса аккаунта на ключе
func (s *PortfolioService) recordOutcome(ctx context.Context, read *liveRead) {
	switch {
	case read == nil || read.cred == nil:
	case read.accountErr != nil:
		s.credentials.MarkFailed(ctx, read.cred, read.accountErr)
	case read.account != nil:
		s.credentials.MarkSynced(ctx, read.cred, read.account.CanTrade)
	}
}

// submitOutcome отдаёт учёт на ключе в пул (live чтение без merge)
func (s *PortfolioService) submitOutcome(ctx context.Context, read *liveRead) {
	if read == nil || read.cred == nil {
		return
	}
	jobID := uuid.NewString()
	err := s.jobs.Submit(context.WithoutCancel(ctx), jobID, func(ctx context.Context) error {
		s.recordOutcome(ctx, read)
		return nil
	})
	if err != nil {
		s.logger.Warn("credential state update dropped",
			utils.JobID(jobID), utils.CredentialID(read.cred.ID), utils.Err(err))
	}
}

// ValuePortfolio оценивает балансы по ценам тикера.
//
// Правила:
// - цена актива = prices[asset+"USDT"], для USDT = 1
// - value = qty * price, 2 знака HALF_UP; total = Σ value
// - allocation = value/total (4 знака) * 100, 2 знака; при total = 0 не считается
// - в снимок попадают только value > 0, по убыванию value;
//   все ненулевые балансы перечислены в HeldAssets
// - totalBTC = total / BTCUSDT, 8 знаков
func ValuePortfolio(account *exchange.AccountSnapshot, prices map[string]decimal.Decimal, now time.Time) *models.PortfolioSnapshot {
	balances := account.NonZeroBalances()
	assets := make([]models.AssetValuation, 0, len(balances))
	held := make([]string, 0, len(balances))
	total := decimal.Zero

	for _, b := range balances {
		held = append(held, b.Asset)
		qty := b.Total()
		symbol := utils.SymbolForAsset(b.Asset)

		price := decimal.NewFromInt(1)
		if b.Asset != utils.QuoteAsset {
			price = prices[symbol]
		}

		value := utils.RoundMoney(qty.Mul(price))
		if !value.IsPositive() {
			continue
		}
		total = total.Add(value)

		assets = append(assets, models.AssetValuation{
			Asset:    b.Asset,
			Symbol:   symbol,
			Free:     b.Free,
			Locked:   b.Locked,
			Quantity: qty,
			Price:    price,
			Value:    value,
		})
	}

	for i := range assets {
		if pct, ok := utils.PercentOf(assets[i].Value, total); ok {
			assets[i].AllocationPct = pct
		}
	}

	sort.SliceStable(assets, func(i, j int) bool {
		if assets[i].Value.Equal(assets[j].Value) {
			return assets[i].Asset < assets[j].Asset
		}
		return assets[i].Value.GreaterThan(assets[j].Value)
	})

	totalBTC := decimal.Zero
	if btc := prices[btcSymbol]; btc.IsPositive() {
		totalBTC = total.DivRound(btc, utils.CryptoScale)
	}

	return &models.PortfolioSnapshot{
		TotalValue:    total,
		TotalValueBTC: totalBTC,
		Assets:        assets,
		Permissions:   account.Permissions,
		CanTrade:      account.CanTrade,
		UpdatedAt:     now,
		HeldAssets:    held,
	}
}

// enqueueMerge ставит учёт на ключе и merge в пул без ожидания.
// Контекст запроса отвязан от отмены: клиент может уйти, merge доработает.
func (s *PortfolioService) enqueueMerge(ctx context.Context, read *liveRead) {
	jobID := uuid.NewString()
	detached := context.WithoutCancel(ctx)

	err := s.jobs.Submit(detached, jobID, func(ctx context.Context) error {
		s.recordOutcome(ctx, read)

		ctx, cancel := context.WithTimeout(ctx, s.mergeTimeout)
		defer cancel()
		_, err := s.Merge(ctx, read.snapshot)
		return err
	})
	if err != nil {
		metrics.RecordMerge(mergeResultDropped, 0)
		s.logger.Warn("merge job dropped",
			utils.JobID(jobID), utils.UserID(read.snapshot.UserID), utils.Err(err))
	}
}

// ============================================================
// Merge фаза
// ============================================================

// Merge обновляет сохранённые позиции по снимку.
//
// - каждый актив снимка (кроме USDT): найти или создать holding, перезаписать
//   количество, цену, стоимость и оба timestamp; пересчитать P&L при заданной себестоимости
// - каждый сохранённый актив, которого нет на аккаунте: количество и стоимость = 0
//   (неоценённый, но ненулевой баланс отсутствующим не считается)
//
// Ошибки отдельных позиций логируются и учитываются в Failed, merge продолжается.
// Ошибка возвращается только если не удалось прочитать сохранённые позиции.
func (s *PortfolioService) Merge(ctx context.Context, snapshot *models.PortfolioSnapshot) (*models.SyncResult, error) {
	start := time.Now()
	now := s.now()
	userID := snapshot.UserID
	log := s.logger.WithUser(userID)

	result := &models.SyncResult{
		UserID:     userID,
		TotalValue: snapshot.TotalValue,
		SyncedAt:   now,
	}

	for _, a := range snapshot.Assets {
		if a.Asset == utils.QuoteAsset {
			continue
		}

		h, err := s.holdings.GetByUserAndSymbol(ctx, userID, a.Symbol)
		created := false
		switch {
		case errors.Is(err, repository.ErrHoldingNotFound):
			h = &models.Holding{UserID: userID, Symbol: a.Symbol, Asset: a.Asset}
			created = true
		case err != nil:
			result.Failed++
			log.Error("failed to load holding", utils.Symbol(a.Symbol), utils.Err(err))
			continue
		}

		h.Quantity = a.Quantity
		h.Free = a.Free
		h.Locked = a.Locked
		h.CurrentPrice = a.Price
		h.CurrentValue = a.Value
		h.LastPriceUpdate = &now
		h.LastBalanceUpdate = &now
		restoreInvested(h)
		recomputeUnrealized(h)

		if err := s.holdings.Save(ctx, h); err != nil {
			result.Failed++
			log.Error("failed to save holding", utils.Symbol(a.Symbol), utils.Err(err))
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	stored, err := s.holdings.ListByUser(ctx, userID)
	if err != nil {
		metrics.RecordMerge(mergeResultFailed, msSince(start))
		log.Error("merge failed: list holdings", utils.Err(err))
		return result, fmt.Errorf("list holdings: %w", err)
	}

	present := snapshot.AssetSet()
	for _, h := range stored {
		if _, ok := present[h.Asset]; ok {
			continue
		}
		if h.Quantity.IsZero() && h.CurrentValue.IsZero() {
			continue
		}

		h.Zero(now)
		recomputeUnrealized(h)
		if err := s.holdings.Save(ctx, h); err != nil {
			result.Failed++
			log.Error("failed to zero holding", utils.Symbol(h.Symbol), utils.Err(err))
			continue
		}
		result.Zeroed++
	}

	outcome := mergeResultOK
	if result.Failed > 0 {
		outcome = mergeResultPartial
	}
	metrics.RecordMerge(outcome, msSince(start))
	log.Debug("portfolio merged",
		utils.Count("updated", result.Updated),
		utils.Count("created", result.Created),
		utils.Count("zeroed", result.Zeroed),
		utils.Count("failed", result.Failed),
	)

	if s.wsHub != nil {
		s.wsHub.BroadcastPortfolio(snapshot)
		s.wsHub.BroadcastSyncResult(result)
	}
	return result, nil
}

// restoreInvested восстанавливает вложения по средней цене,
// если себестоимость задали, когда количество было нулевым
func restoreInvested(h *models.Holding) {
	if h.HasCostBasis() || !h.AvgBuyPrice.IsPositive() {
		return
	}
	h.TotalInvested = utils.RoundMoney(h.AvgBuyPrice.Mul(h.Quantity))
}

// recomputeUnrealized пересчитывает P&L позиции.
// Без себестоимости поля остаются NULL.
func recomputeUnrealized(h *models.Holding) {
	if !h.HasCostBasis() {
		h.UnrealizedPnl = decimal.NullDecimal{}
		h.UnrealizedPnlPct = decimal.NullDecimal{}
		return
	}
	pnl := h.CurrentValue.Sub(h.TotalInvested)
	h.UnrealizedPnl = decimal.NewNullDecimal(pnl)
	if pct, ok := utils.PercentOf(pnl, h.TotalInvested); ok {
		h.UnrealizedPnlPct = decimal.NewNullDecimal(pct)
	}
}

// ============================================================
// Синхронные операции
// ============================================================

// SyncNow выполняет live чтение, учёт на ключе и merge в текущем запросе
func (s *PortfolioService) SyncNow(ctx context.Context, userID int64) (*models.SyncResult, error) {
	read, err := s.fetchLive(ctx, userID)
	s.recordOutcome(ctx, read)
	if err != nil {
		return nil, err
	}
	return s.Merge(ctx, read.snapshot)
}

// UpdatePricesOnly обновляет цены и стоимость сохранённых позиций без подписанных запросов
func (s *PortfolioService) UpdatePricesOnly(ctx context.Context, userID int64) (*models.PriceUpdateResult, error) {
	holdings, err := s.holdings.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	prices, err := s.exch.GetTickerPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticker prices: %w", err)
	}

	now := s.now()
	result := &models.PriceUpdateResult{UserID: userID, SyncedAt: now}

	for _, h := range holdings {
		if !h.Quantity.IsPositive() {
			continue
		}
		price, ok := prices[h.Symbol]
		if !ok {
			result.Missing = append(result.Missing, h.Symbol)
			continue
		}

		h.CurrentPrice = price
		h.CurrentValue = utils.RoundMoney(h.Quantity.Mul(price))
		h.LastPriceUpdate = &now
		recomputeUnrealized(h)

		if err := s.holdings.Save(ctx, h); err != nil {
			s.logger.Error("failed to save holding price", utils.UserID(userID), utils.Symbol(h.Symbol), utils.Err(err))
			continue
		}
		result.Updated++
	}
	return result, nil
}

// GetHoldings возвращает сохранённые позиции по убыванию стоимости
func (s *PortfolioService) GetHoldings(ctx context.Context, userID int64) ([]*models.Holding, error) {
	return s.holdings.ListByUser(ctx, userID)
}

// SetCostBasis задаёт среднюю цену покупки; TotalInvested = avg * quantity.
// Количество не меняется. При нулевом количестве вложения посчитает следующий merge.
func (s *PortfolioService) SetCostBasis(ctx context.Context, userID int64, symbol string, req *CostBasisRequest) (*models.Holding, error) {
	if err := utils.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if !req.AvgBuyPrice.IsPositive() {
		return nil, ErrInvalidCostBasis
	}

	h, err := s.holdings.GetByUserAndSymbol(ctx, userID, utils.NormalizeSymbol(symbol))
	if err != nil {
		return nil, err
	}

	h.AvgBuyPrice = utils.RoundPrice(req.AvgBuyPrice)
	h.TotalInvested = utils.RoundMoney(h.AvgBuyPrice.Mul(h.Quantity))
	if req.Notes != nil {
		h.Notes = *req.Notes
	}
	if req.FirstBuyDate != nil {
		h.FirstBuyDate = req.FirstBuyDate
	}
	recomputeUnrealized(h)

	if err := s.holdings.Save(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
