package service

import (
	"context"
	"time"

	"cryptofolio/internal/exchange"
	"cryptofolio/internal/models"
	"cryptofolio/internal/repository"
	"cryptofolio/internal/worker"
	"cryptofolio/pkg/crypto"
)

// CredentialRepositoryInterface определяет интерфейс репозитория API ключей
type CredentialRepositoryInterface interface {
	Create(ctx context.Context, c *models.Credential) error
	GetActiveByUser(ctx context.Context, userID int64) (*models.Credential, error)
	GetByID(ctx context.Context, id int64) (*models.Credential, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Credential, error)
	UpdateSyncState(ctx context.Context, c *models.Credential) error
	Delete(ctx context.Context, userID, id int64) error
}

// HoldingRepositoryInterface определяет интерфейс репозитория позиций
type HoldingRepositoryInterface interface {
	GetByUserAndSymbol(ctx context.Context, userID int64, symbol string) (*models.Holding, error)
	Save(ctx context.Context, h *models.Holding) error
	ListByUser(ctx context.Context, userID int64) ([]*models.Holding, error)
}

// TradeRepositoryInterface определяет интерфейс репозитория сделок
type TradeRepositoryInterface interface {
	ExistsByExternalID(ctx context.Context, userID int64, externalID string) (bool, error)
	Create(ctx context.Context, t *models.Trade) error
	ListBuysInRange(ctx context.Context, userID int64, symbol string, from, to time.Time) ([]*models.Trade, error)
	ListByUserInRange(ctx context.Context, userID int64, from, to time.Time) ([]*models.Trade, error)
}

// SecretSealer шифрует секреты API ключей
type SecretSealer interface {
	Seal(secret string) (string, error)
	Open(sealed string) (string, error)
}

// JobSubmitter - очередь фоновых задач
type JobSubmitter interface {
	Submit(ctx context.Context, id string, task worker.Task) error
}

// Проверяем, что реальные реализации подходят под интерфейсы
var _ CredentialRepositoryInterface = (*repository.CredentialRepository)(nil)
var _ HoldingRepositoryInterface = (*repository.HoldingRepository)(nil)
var _ TradeRepositoryInterface = (*repository.TradeRepository)(nil)
var _ SecretSealer = (*crypto.SecretBox)(nil)
var _ JobSubmitter = (*worker.Pool)(nil)

// ============ Broadcast интерфейсы (WebSocket hub) ============

// PortfolioBroadcaster - отправка обновлений портфеля через WebSocket
type PortfolioBroadcaster interface {
	BroadcastPortfolio(snapshot *models.PortfolioSnapshot)
	BroadcastSyncResult(result *models.SyncResult)
}

// TradeSyncBroadcaster - отправка результатов загрузки сделок через WebSocket
type TradeSyncBroadcaster interface {
	BroadcastTradeSync(result *models.TradeSyncResult)
}

// ============ Интерфейсы сервисов для Dependency Injection ============

// CredentialProvider - загрузка и учёт состояния активного ключа пользователя
type CredentialProvider interface {
	Load(ctx context.Context, userID int64) (*models.Credential, exchange.Credentials, error)
	MarkSynced(ctx context.Context, c *models.Credential, canTrade bool)
	MarkFailed(ctx context.Context, c *models.Credential, cause error)
}

// CredentialServiceInterface определяет интерфейс сервиса API ключей
type CredentialServiceInterface interface {
	CredentialProvider
	Register(ctx context.Context, userID int64, req *RegisterCredentialRequest) (*models.Credential, error)
	List(ctx context.Context, userID int64) ([]*models.Credential, error)
	ProtectionState(credentialID int64) exchange.ProtectionSnapshot
	Delete(ctx context.Context, userID, id int64) error
}

// PortfolioServiceInterface определяет интерфейс сервиса портфеля
type PortfolioServiceInterface interface {
	GetLivePortfolio(ctx context.Context, userID int64) (*models.PortfolioSnapshot, error)
	SyncNow(ctx context.Context, userID int64) (*models.SyncResult, error)
	UpdatePricesOnly(ctx context.Context, userID int64) (*models.PriceUpdateResult, error)
	GetHoldings(ctx context.Context, userID int64) ([]*models.Holding, error)
	SetCostBasis(ctx context.Context, userID int64, symbol string, req *CostBasisRequest) (*models.Holding, error)
}

// TradeSyncServiceInterface определяет интерфейс сервиса загрузки сделок
type TradeSyncServiceInterface interface {
	SyncTrades(ctx context.Context, userID int64, req *TradeSyncRequest) (*models.TradeSyncResult, error)
}

// StatsServiceInterface определяет интерфейс сервиса статистики
type StatsServiceInterface interface {
	GetTradeStats(ctx context.Context, userID int64, period string) (*models.TradeStats, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ CredentialServiceInterface = (*CredentialService)(nil)
var _ PortfolioServiceInterface = (*PortfolioService)(nil)
var _ TradeSyncServiceInterface = (*TradeSyncService)(nil)
var _ StatsServiceInterface = (*StatsService)(nil)
