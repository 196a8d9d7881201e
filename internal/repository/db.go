package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"cryptofolio/pkg/retry"
)

// SQLSTATE ошибок подключения, которые ожидание не исправит
const (
	pgClassInvalidAuthorization = "28"    // неверный пароль или роль
	pgInvalidCatalogName        = "3D000" // базы не существует
)

// pingTimeout - лимит одной попытки ping
const pingTimeout = 5 * time.Second

// isPermanentConnError - ошибка подключения, которую повтор не исправит
func isPermanentConnError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code.Class() == pgClassInvalidAuthorization || pqErr.Code == pgInvalidCatalogName
}

// WaitForDB пингует базу с повторами, пока она не станет доступна.
// Ошибки авторизации и отсутствие базы возвращаются сразу.
func WaitForDB(ctx context.Context, db *sql.DB, cfg retry.Config) error {
	cfg.RetryIf = retry.IsRetryable

	return retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		err := db.PingContext(pingCtx)
		switch {
		case err == nil:
			return nil
		case isPermanentConnError(err):
			return retry.Permanent(err)
		case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
			// истёк таймаут попытки, а не запуска: база ещё поднимается
			return fmt.Errorf("ping timed out after %s", pingTimeout)
		default:
			return err
		}
	}, cfg)
}
