package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptofolio/internal/exchange"
	"cryptofolio/internal/models"
	"cryptofolio/internal/repository"
	"cryptofolio/internal/worker"
)

// ============ Mock CredentialRepository ============

type MockCredentialRepository struct {
	creds     map[int64]*models.Credential
	createErr error
	getErr    error
	updateErr error
	updates   int
	nextID    int64
}

func NewMockCredentialRepository() *MockCredentialRepository {
	return &MockCredentialRepository{
		creds:  make(map[int64]*models.Credential),
		nextID: 1,
	}
}

func (m *MockCredentialRepository) Create(ctx context.Context, c *models.Credential) error {
	if m.createErr != nil {
		return m.createErr
	}
	c.ID = m.nextID
	m.nextID++
	c.Touch(time.Now())
	m.creds[c.ID] = c
	return nil
}

func (m *MockCredentialRepository) GetActiveByUser(ctx context.Context, userID int64) (*models.Credential, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, c := range m.creds {
		if c.UserID == userID && c.Active {
			return c, nil
		}
	}
	return nil, repository.ErrCredentialNotFound
}

func (m *MockCredentialRepository) GetByID(ctx context.Context, id int64) (*models.Credential, error) {
	if c, ok := m.creds[id]; ok {
		return c, nil
	}
	return nil, repository.ErrCredentialNotFound
}

func (m *MockCredentialRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Credential, error) {
	result := make([]*models.Credential, 0)
	for _, c := range m.creds {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (m *MockCredentialRepository) UpdateSyncState(ctx context.Context, c *models.Credential) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates++
	m.creds[c.ID] = c
	return nil
}

func (m *MockCredentialRepository) Delete(ctx context.Context, userID, id int64) error {
	c, ok := m.creds[id]
	if !ok || c.UserID != userID {
		return repository.ErrCredentialNotFound
	}
	delete(m.creds, id)
	return nil
}

// ============ Mock HoldingRepository ============

type MockHoldingRepository struct {
	holdings map[string]*models.Holding
	saveErr  map[string]error // по символу
	listErr  error
	saves    int
	nextID   int64
	mu       sync.Mutex
}

func NewMockHoldingRepository() *MockHoldingRepository {
	return &MockHoldingRepository{
		holdings: make(map[string]*models.Holding),
		saveErr:  make(map[string]error),
		nextID:   1,
	}
}

func holdingKey(userID int64, symbol string) string {
	return fmt.Sprintf("%d|%s", userID, symbol)
}

func (m *MockHoldingRepository) seed(h *models.Holding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == 0 {
		h.ID = m.nextID
		m.nextID++
	}
	m.holdings[holdingKey(h.UserID, h.Symbol)] = h
}

func (m *MockHoldingRepository) get(userID int64, symbol string) *models.Holding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdings[holdingKey(userID, symbol)]
}

func (m *MockHoldingRepository) GetByUserAndSymbol(ctx context.Context, userID int64, symbol string) (*models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[holdingKey(userID, symbol)]
	if !ok {
		return nil, repository.ErrHoldingNotFound
	}
	copied := *h
	return &copied, nil
}

func (m *MockHoldingRepository) Save(ctx context.Context, h *models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErr[h.Symbol]; err != nil {
		return err
	}
	if h.ID == 0 {
		h.ID = m.nextID
		m.nextID++
	}
	h.Touch(time.Now())
	copied := *h
	m.holdings[holdingKey(h.UserID, h.Symbol)] = &copied
	m.saves++
	return nil
}

func (m *MockHoldingRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]*models.Holding, 0)
	for _, h := range m.holdings {
		if h.UserID == userID {
			copied := *h
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// ============ Mock TradeRepository ============

type MockTradeRepository struct {
	trades     map[string]*models.Trade // по user_id|external_id
	existsErr  error
	createErr  error
	listErr    error
	raceOnSave map[string]bool // по external_id: Create вернёт ErrTradeExists (параллельная загрузка)
	lastRange  [2]time.Time
	nextID     int64
	mu         sync.Mutex
}

func NewMockTradeRepository() *MockTradeRepository {
	return &MockTradeRepository{
		trades:     make(map[string]*models.Trade),
		raceOnSave: make(map[string]bool),
		nextID:     1,
	}
}

func tradeKey(userID int64, externalID string) string {
	return fmt.Sprintf("%d|%s", userID, externalID)
}

func (m *MockTradeRepository) seed(t *models.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.nextID
	m.nextID++
	m.trades[tradeKey(t.UserID, t.ExternalID)] = t
}

func (m *MockTradeRepository) find(userID int64, externalID string) *models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades[tradeKey(userID, externalID)]
}

func (m *MockTradeRepository) ExistsByExternalID(ctx context.Context, userID int64, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.trades[tradeKey(userID, externalID)]
	return ok, nil
}

func (m *MockTradeRepository) Create(ctx context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	key := tradeKey(t.UserID, t.ExternalID)
	if _, ok := m.trades[key]; ok || m.raceOnSave[t.ExternalID] {
		return repository.ErrTradeExists
	}
	t.ID = m.nextID
	m.nextID++
	m.trades[key] = t
	return nil
}

func (m *MockTradeRepository) ListBuysInRange(ctx context.Context, userID int64, symbol string, from, to time.Time) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.lastRange = [2]time.Time{from, to}
	result := make([]*models.Trade, 0)
	for _, t := range m.trades {
		if t.UserID == userID && t.Symbol == symbol && t.Side == models.TradeSideBuy &&
			!t.ExecutedAt.Before(from) && t.ExecutedAt.Before(to) {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *MockTradeRepository) ListByUserInRange(ctx context.Context, userID int64, from, to time.Time) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]*models.Trade, 0)
	for _, t := range m.trades {
		if t.UserID == userID && !t.ExecutedAt.Before(from) && t.ExecutedAt.Before(to) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExecutedAt.Before(result[j].ExecutedAt) })
	return result, nil
}

// ============ Mock SecretSealer ============

type mockSealer struct{}

func (mockSealer) Seal(secret string) (string, error) { return "sealed:" + secret, nil }

func (mockSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, "sealed:") {
		return "", errors.New("decryption failed")
	}
	return strings.TrimPrefix(sealed, "sealed:"), nil
}

// ============ Mock Exchange ============

type MockExchange struct {
	account     *exchange.AccountSnapshot
	accountErr  error
	prices      map[string]decimal.Decimal
	pricesErr   error
	trades      map[string][]exchange.ExchangeTrade
	tradesErr   map[string]error
	lastCreds   exchange.Credentials
	tradeCalls  []string
	tradeLimits []int
	forgotten   []int64
	mu          sync.Mutex
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		account:   &exchange.AccountSnapshot{CanTrade: true, Permissions: []string{"SPOT"}},
		prices:    make(map[string]decimal.Decimal),
		trades:    make(map[string][]exchange.ExchangeTrade),
		tradesErr: make(map[string]error),
	}
}

func (m *MockExchange) GetName() string { return exchange.BinanceName }

func (m *MockExchange) GetAccountSnapshot(ctx context.Context, creds exchange.Credentials) (*exchange.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCreds = creds
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return m.account, nil
}

func (m *MockExchange) GetRecentTrades(ctx context.Context, creds exchange.Credentials, q exchange.TradeQuery) ([]exchange.ExchangeTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCreds = creds
	m.tradeCalls = append(m.tradeCalls, q.Symbol)
	m.tradeLimits = append(m.tradeLimits, q.Limit)
	if err := m.tradesErr[q.Symbol]; err != nil {
		return nil, err
	}
	return m.trades[q.Symbol], nil
}

func (m *MockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (m *MockExchange) GetTickerPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	if m.pricesErr != nil {
		return nil, m.pricesErr
	}
	return m.prices, nil
}

func (m *MockExchange) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return p, nil
}

func (m *MockExchange) CheckClockSkew(ctx context.Context) (time.Duration, error) { return 0, nil }

func (m *MockExchange) ProtectionState(credentialID int64) exchange.ProtectionSnapshot {
	return exchange.ProtectionSnapshot{
		Breaker:         exchange.BreakerSnapshot{State: exchange.BreakerClosed.String()},
		WeightRemaining: 1200,
		WeightCeiling:   1200,
	}
}

func (m *MockExchange) ForgetCredential(credentialID int64) {
	m.forgotten = append(m.forgotten, credentialID)
}

func (m *MockExchange) Close() {}

var _ exchange.Exchange = (*MockExchange)(nil)

// ============ Mock JobSubmitter ============

// inlineSubmitter выполняет задачу сразу в вызывающей горутине
type inlineSubmitter struct {
	err       error
	submitted int
	lastCtx   context.Context
}

func (s *inlineSubmitter) Submit(ctx context.Context, id string, task worker.Task) error {
	if s.err != nil {
		return s.err
	}
	s.submitted++
	s.lastCtx = ctx
	return task(ctx)
}

// queuedSubmitter копит задачи, пока тест не вызовет runAll
type queuedSubmitter struct {
	tasks []worker.Task
	ctxs  []context.Context
}

func (s *queuedSubmitter) Submit(ctx context.Context, id string, task worker.Task) error {
	s.tasks = append(s.tasks, task)
	s.ctxs = append(s.ctxs, ctx)
	return nil
}

func (s *queuedSubmitter) runAll() {
	for i, task := range s.tasks {
		_ = task(s.ctxs[i])
	}
	s.tasks, s.ctxs = nil, nil
}

// ============ Mock Broadcaster ============

type mockBroadcaster struct {
	portfolios  []*models.PortfolioSnapshot
	syncResults []*models.SyncResult
	tradeSyncs  []*models.TradeSyncResult
}

func (b *mockBroadcaster) BroadcastPortfolio(s *models.PortfolioSnapshot) {
	b.portfolios = append(b.portfolios, s)
}

func (b *mockBroadcaster) BroadcastSyncResult(r *models.SyncResult) {
	b.syncResults = append(b.syncResults, r)
}

func (b *mockBroadcaster) BroadcastTradeSync(r *models.TradeSyncResult) {
	b.tradeSyncs = append(b.tradeSyncs, r)
}

// ============ Helpers ============

const (
	testUserID = int64(42)
	testAPIKey = "abcdefghijklmnop1234"
	testSecret = "secretsecretsecret99"
)

func seedActiveCredential(repo *MockCredentialRepository) *models.Credential {
	c := &models.Credential{
		UserID:          testUserID,
		Exchange:        exchange.BinanceName,
		APIKey:          testAPIKey,
		EncryptedSecret: "sealed:" + testSecret,
		Active:          true,
	}
	_ = repo.Create(context.Background(), c)
	return c
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
