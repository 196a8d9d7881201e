package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cryptofolio/internal/models"
)

// Ошибки репозитория ключей
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
)

const credentialColumns = `id, user_id, exchange, label, api_key, encrypted_secret, can_trade, active,
		failure_count, last_error, last_used_at, last_synced_at, created_at, updated_at`

// CredentialRepository - работа с таблицей credentials.
// Секрет хранится только в зашифрованном виде.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository создает новый экземпляр репозитория
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create сохраняет новый ключ
func (r *CredentialRepository) Create(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO credentials (user_id, exchange, label, api_key, encrypted_secret, can_trade, active, failure_count, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	c.Touch(time.Now())

	err := r.db.QueryRowContext(ctx, query,
		c.UserID,
		c.Exchange,
		c.Label,
		c.APIKey,
		c.EncryptedSecret,
		c.CanTrade,
		c.Active,
		c.FailureCount,
		c.LastError,
		c.CreatedAt,
		c.UpdatedAt,
	).Scan(&c.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrCredentialExists
		}
		return err
	}
	return nil
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	c := &models.Credential{}
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Exchange,
		&c.Label,
		&c.APIKey,
		&c.EncryptedSecret,
		&c.CanTrade,
		&c.Active,
		&c.FailureCount,
		&c.LastError,
		&c.LastUsedAt,
		&c.LastSyncedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetActiveByUser возвращает последний обновлённый активный ключ пользователя
func (r *CredentialRepository) GetActiveByUser(ctx context.Context, userID int64) (*models.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE user_id = $1 AND active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1`

	c, err := scanCredential(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetByID возвращает ключ по ID
func (r *CredentialRepository) GetByID(ctx context.Context, id int64) (*models.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE id = $1`

	c, err := scanCredential(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListByUser возвращает все ключи пользователя
func (r *CredentialRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creds := make([]*models.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return creds, nil
}

// UpdateSyncState сохраняет результат обращения к бирже: счётчик ошибок, активность, время
func (r *CredentialRepository) UpdateSyncState(ctx context.Context, c *models.Credential) error {
	query := `
		UPDATE credentials
		SET can_trade = $1, active = $2, failure_count = $3, last_error = $4,
			last_used_at = $5, last_synced_at = $6, updated_at = $7
		WHERE id = $8`

	c.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		c.CanTrade,
		c.Active,
		c.FailureCount,
		c.LastError,
		c.LastUsedAt,
		c.LastSyncedAt,
		c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Delete удаляет ключ пользователя
func (r *CredentialRepository) Delete(ctx context.Context, userID, id int64) error {
	query := `DELETE FROM credentials WHERE id = $1 AND user_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}
