package handlers

import (
	"context"
	"errors"
	"sync"

	"cryptofolio/internal/exchange"
	"cryptofolio/internal/models"
	"cryptofolio/internal/service"
)

// ErrMockDatabase - имитация ошибки БД
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Portfolio Service ============

// MockPortfolioService мок для PortfolioServiceInterface
type MockPortfolioService struct {
	snapshot  *models.PortfolioSnapshot
	sync      *models.SyncResult
	prices    *models.PriceUpdateResult
	holdings  []*models.Holding
	err       error
	lastUser  int64
	lastSym   string
	lastBasis *service.CostBasisRequest
	mu        sync.Mutex
}

func (m *MockPortfolioService) record(userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = userID
	return m.err
}

func (m *MockPortfolioService) GetLivePortfolio(_ context.Context, userID int64) (*models.PortfolioSnapshot, error) {
	if err := m.record(userID); err != nil {
		return nil, err
	}
	return m.snapshot, nil
}

func (m *MockPortfolioService) SyncNow(_ context.Context, userID int64) (*models.SyncResult, error) {
	if err := m.record(userID); err != nil {
		return nil, err
	}
	return m.sync, nil
}

func (m *MockPortfolioService) UpdatePricesOnly(_ context.Context, userID int64) (*models.PriceUpdateResult, error) {
	if err := m.record(userID); err != nil {
		return nil, err
	}
	return m.prices, nil
}

func (m *MockPortfolioService) GetHoldings(_ context.Context, userID int64) ([]*models.Holding, error) {
	if err := m.record(userID); err != nil {
		return nil, err
	}
	return m.holdings, nil
}

func (m *MockPortfolioService) SetCostBasis(_ context.Context, userID int64, symbol string, req *service.CostBasisRequest) (*models.Holding, error) {
	m.mu.Lock()
	m.lastSym = symbol
	m.lastBasis = req
	m.mu.Unlock()
	if err := m.record(userID); err != nil {
		return nil, err
	}
	return &models.Holding{UserID: userID, Symbol: symbol, AvgBuyPrice: req.AvgBuyPrice}, nil
}

// ============ Mock Trade Services ============

// MockTradeSyncService мок для TradeSyncServiceInterface
type MockTradeSyncService struct {
	result  *models.TradeSyncResult
	err     error
	lastReq *service.TradeSyncRequest
}

func (m *MockTradeSyncService) SyncTrades(_ context.Context, userID int64, req *service.TradeSyncRequest) (*models.TradeSyncResult, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &models.TradeSyncResult{UserID: userID}, nil
}

// MockStatsService мок для StatsServiceInterface
type MockStatsService struct {
	stats      *models.TradeStats
	err        error
	lastPeriod string
}

func (m *MockStatsService) GetTradeStats(_ context.Context, _ int64, period string) (*models.TradeStats, error) {
	m.lastPeriod = period
	if m.err != nil {
		return nil, m.err
	}
	return m.stats, nil
}

// ============ Mock Credential Service ============

// MockCredentialService мок для CredentialServiceInterface
type MockCredentialService struct {
	creds       []*models.Credential
	registerErr error
	listErr     error
	deleteErr   error
	deletedID   int64
	lastReq     *service.RegisterCredentialRequest
}

func (m *MockCredentialService) Load(context.Context, int64) (*models.Credential, exchange.Credentials, error) {
	return nil, exchange.Credentials{}, service.ErrNoActiveCredential
}

func (m *MockCredentialService) MarkSynced(context.Context, *models.Credential, bool) {}

func (m *MockCredentialService) MarkFailed(context.Context, *models.Credential, error) {}

func (m *MockCredentialService) Register(_ context.Context, userID int64, req *service.RegisterCredentialRequest) (*models.Credential, error) {
	m.lastReq = req
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	c := &models.Credential{ID: 1, UserID: userID, Exchange: "binance", APIKey: req.APIKey, EncryptedSecret: "sealed", Active: true}
	m.creds = append(m.creds, c)
	return c, nil
}

func (m *MockCredentialService) List(context.Context, int64) ([]*models.Credential, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.creds, nil
}

func (m *MockCredentialService) ProtectionState(credentialID int64) exchange.ProtectionSnapshot {
	return exchange.ProtectionSnapshot{
		Breaker:         exchange.BreakerSnapshot{State: "OPEN", Failures: 5},
		WeightRemaining: 1190,
		WeightCeiling:   1200,
	}
}

func (m *MockCredentialService) Delete(_ context.Context, _, id int64) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedID = id
	return nil
}

// Проверка соответствия интерфейсам
var (
	_ service.PortfolioServiceInterface  = (*MockPortfolioService)(nil)
	_ service.TradeSyncServiceInterface  = (*MockTradeSyncService)(nil)
	_ service.StatsServiceInterface      = (*MockStatsService)(nil)
	_ service.CredentialServiceInterface = (*MockCredentialService)(nil)
)
