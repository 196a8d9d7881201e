package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config конфигурация повторов для инфраструктурных операций
// (подключение к БД на старте, применение миграций).
//
// Запросы к бирже через этот пакет НЕ повторяются: политика повторов
// для ошибок провайдера остаётся на вызывающей стороне.
//
// Экспоненциальный backoff с jitter поверх cenkalti/backoff:
// delay = min(InitialDelay * Multiplier^attempt ± jitter, MaxDelay)
type Config struct {
	// MaxRetries - максимальное количество попыток (включая первую), 0 = без лимита
	MaxRetries int

	// InitialDelay - задержка перед второй попыткой
	InitialDelay time.Duration

	// MaxDelay - верхняя граница задержки
	MaxDelay time.Duration

	// MaxElapsed - общий лимит времени на все попытки
	MaxElapsed time.Duration

	// Multiplier - множитель экспоненциального роста
	Multiplier float64

	// JitterFactor - доля случайной вариации задержки (0.0 - 1.0)
	JitterFactor float64

	// RetryIf - нужно ли повторять ошибку; nil = повторять все
	RetryIf func(error) bool

	// OnRetry - callback перед каждым повтором (для логирования)
	OnRetry func(err error, delay time.Duration)
}

// DefaultConfig - 4 попытки, 100ms -> 800ms
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// StartupConfig для ожидания зависимостей при старте (БД в docker-compose поднимается дольше сервиса)
func StartupConfig() Config {
	return Config{
		MaxRetries:   8,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		MaxElapsed:   time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// validate устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

func (c Config) options() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.JitterFactor

	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if c.MaxRetries > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(c.MaxRetries)))
	}
	if c.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(c.MaxElapsed))
	}
	if c.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(c.OnRetry)))
	}
	return opts
}

// Do выполняет операцию с повторами
//
// Пример:
//
//	err := retry.Do(ctx, func() error {
//	    return db.PingContext(ctx)
//	}, retry.StartupConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и повторами
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()

	result, err := backoff.Retry(ctx, func() (T, error) {
		res, err := operation()
		if err == nil {
			return res, nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, cfg.options()...)

	// backoff оборачивает постоянные ошибки - возвращаем исходную
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return result, perm.Unwrap()
	}
	return result, err
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError - ошибка, сама сообщающая о возможности повтора
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет, можно ли повторять ошибку.
// Ошибки контекста не повторяются, остальные без маркера считаются повторяемыми.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// PermanentError помечает ошибку как неповторяемую
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
