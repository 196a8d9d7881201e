package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptofolio/internal/exchange"
	"cryptofolio/internal/models"
	"cryptofolio/internal/repository"
	"cryptofolio/pkg/utils"
)

// Ошибки сервиса ключей
var (
	ErrNoActiveCredential   = errors.New("no active exchange credential")
	ErrExchangeNotSupported = errors.New("exchange is not supported")
	ErrInvalidCredentials   = errors.New("invalid API credentials")
)

// RegisterCredentialRequest - запрос на добавление API ключа
type RegisterCredentialRequest struct {
	Exchange string `json:"exchange"`
	Label    string `json:"label"`
	APIKey   string `json:"api_key"`
	Secret   string `json:"secret"`
}

// CredentialService - жизненный цикл API ключей пользователя.
//
// Функции:
// - Register: проверка формата, тестовый запрос аккаунта, шифрование секрета, сохранение
// - Load: активный ключ + расшифрованный секрет для подписи
// - MarkSynced / MarkFailed: учёт ошибок подряд, деактивация после порога
// - ProtectionState: состояние breaker и бюджета веса ключа
// - Delete: удаление ключа и состояния breaker/бюджета
type CredentialService struct {
	repo             CredentialRepositoryInterface
	box              SecretSealer
	exch             exchange.Exchange
	failureThreshold int
	logger           *utils.Logger
	now              func() time.Time
}

// NewCredentialService создает новый экземпляр сервиса
func NewCredentialService(repo CredentialRepositoryInterface, box SecretSealer, exch exchange.Exchange, logger *utils.Logger) *CredentialService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &CredentialService{
		repo:             repo,
		box:              box,
		exch:             exch,
		failureThreshold: models.CredentialFailureThreshold,
		logger:           logger.WithComponent("credential_service"),
		now:              time.Now,
	}
}

// SetFailureThreshold задаёт число ошибок подряд до деактивации ключа
func (s *CredentialService) SetFailureThreshold(n int) {
	if n > 0 {
		s.failureThreshold = n
	}
}

// Register сохраняет новый ключ.
// Выполняет:
// 1. Проверку биржи и формата ключа
// 2. Шифрование секрета и сохранение (нужен id для breaker)
// 3. Тестовый запрос аккаунта; при ошибке ключ удаляется
func (s *CredentialService) Register(ctx context.Context, userID int64, req *RegisterCredentialRequest) (*models.Credential, error) {
	name := strings.ToLower(strings.TrimSpace(req.Exchange))
	if name == "" {
		name = exchange.BinanceName
	}
	if !exchange.IsSupported(name) {
		return nil, ErrExchangeNotSupported
	}
	if err := utils.ValidateAPIKey(req.APIKey); err != nil {
		return nil, err
	}
	if err := utils.ValidateAPISecret(req.Secret); err != nil {
		return nil, err
	}

	sealed, err := s.box.Seal(req.Secret)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}

	cred := &models.Credential{
		UserID:          userID,
		Exchange:        name,
		Label:           strings.TrimSpace(req.Label),
		APIKey:          req.APIKey,
		EncryptedSecret: sealed,
		Active:          true,
	}
	if err := s.repo.Create(ctx, cred); err != nil {
		return nil, err
	}

	snapshot, err := s.exch.GetAccountSnapshot(ctx, exchange.Credentials{
		ID:     cred.ID,
		APIKey: req.APIKey,
		Secret: req.Secret,
	})
	if err != nil {
		if delErr := s.repo.Delete(ctx, userID, cred.ID); delErr != nil {
			s.logger.Error("failed to remove unverified credential", utils.CredentialID(cred.ID), utils.Err(delErr))
		}
		s.exch.ForgetCredential(cred.ID)
		return nil, errors.Join(ErrInvalidCredentials, err)
	}

	s.MarkSynced(ctx, cred, snapshot.CanTrade)
	s.logger.Info("credential registered",
		utils.UserID(userID), utils.CredentialID(cred.ID), utils.String("api_key", cred.MaskedAPIKey()))
	return cred, nil
}

// Load возвращает активный ключ пользователя и расшифрованные данные для подписи.
// Секрет в открытом виде не сохраняется и не логируется.
func (s *CredentialService) Load(ctx context.Context, userID int64) (*models.Credential, exchange.Credentials, error) {
	cred, err := s.repo.GetActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, exchange.Credentials{}, ErrNoActiveCredential
		}
		return nil, exchange.Credentials{}, err
	}

	secret, err := s.box.Open(cred.EncryptedSecret)
	if err != nil {
		return nil, exchange.Credentials{}, fmt.Errorf("decrypt credential %d: %w", cred.ID, err)
	}

	return cred, exchange.Credentials{ID: cred.ID, APIKey: cred.APIKey, Secret: secret}, nil
}

// MarkSynced сбрасывает счётчик ошибок ключа после успешного запроса
func (s *CredentialService) MarkSynced(ctx context.Context, c *models.Credential, canTrade bool) {
	c.RecordSuccess(s.now())
	c.CanTrade = canTrade
	s.persist(ctx, c)
}

// MarkFailed учитывает ошибку провайдера.
// Локальные отказы (breaker, бюджет) ключ не штрафуют: запрос до биржи не дошёл.
func (s *CredentialService) MarkFailed(ctx context.Context, c *models.Credential, cause error) {
	if cause == nil {
		return
	}
	var protection *exchange.ProtectionError
	if errors.As(cause, &protection) || errors.Is(cause, context.Canceled) {
		return
	}

	if c.RecordFailure(s.now(), cause.Error(), s.failureThreshold) {
		s.logger.Warn("credential deactivated after consecutive failures",
			utils.CredentialID(c.ID), utils.Int("failures", c.FailureCount), utils.Err(cause))
	}
	s.persist(ctx, c)
}

func (s *CredentialService) persist(ctx context.Context, c *models.Credential) {
	// состояние пишем даже если запрос пользователя уже отменён
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.UpdateSyncState(ctx, c); err != nil {
		s.logger.Error("failed to update credential state", utils.CredentialID(c.ID), utils.Err(err))
	}
}

// List возвращает ключи пользователя (без секретов)
func (s *CredentialService) List(ctx context.Context, userID int64) ([]*models.Credential, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ProtectionState возвращает состояние breaker и бюджета веса ключа
func (s *CredentialService) ProtectionState(credentialID int64) exchange.ProtectionSnapshot {
	return s.exch.ProtectionState(credentialID)
}

// Delete удаляет ключ пользователя и забывает его breaker и бюджет
func (s *CredentialService) Delete(ctx context.Context, userID, id int64) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.exch.ForgetCredential(id)
	s.logger.Info("credential deleted", utils.UserID(userID), utils.CredentialID(id))
	return nil
}
