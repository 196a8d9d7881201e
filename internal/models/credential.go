package models

import "time"

// CredentialFailureThreshold - порог по умолчанию: после стольких ошибок подряд ключ деактивируется
const CredentialFailureThreshold = 5

// Credential представляет API ключ биржи пользователя
type Credential struct {
	ID              int64      `json:"id" db:"id"`
	UserID          int64      `json:"user_id" db:"user_id"`
	Exchange        string     `json:"exchange" db:"exchange"` // binance
	Label           string     `json:"label" db:"label"`
	APIKey          string     `json:"-" db:"api_key"`          // публичная часть, в JSON не отдаётся
	EncryptedSecret string     `json:"-" db:"encrypted_secret"` // AES-256-GCM, base64
	CanTrade        bool       `json:"can_trade" db:"can_trade"`
	Active          bool       `json:"active" db:"active"`
	FailureCount    int        `json:"failure_count" db:"failure_count"`
	LastError       string     `json:"last_error,omitempty" db:"last_error"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	Timestamps
}

// MaskedAPIKey возвращает ключ в виде "abcd...wxyz" для отображения
func (c *Credential) MaskedAPIKey() string {
	if len(c.APIKey) <= 8 {
		return "****"
	}
	return c.APIKey[:4] + "..." + c.APIKey[len(c.APIKey)-4:]
}

// RecordSuccess сбрасывает счётчик ошибок и отмечает время синхронизации
func (c *Credential) RecordSuccess(now time.Time) {
	c.FailureCount = 0
	c.LastError = ""
	c.LastUsedAt = &now
	c.LastSyncedAt = &now
}

// RecordFailure увеличивает счётчик ошибок; при достижении порога ключ деактивируется.
// threshold <= 0 - CredentialFailureThreshold.
// Возвращает true, если ключ был деактивирован этим вызовом.
func (c *Credential) RecordFailure(now time.Time, errMsg string, threshold int) bool {
	if threshold <= 0 {
		threshold = CredentialFailureThreshold
	}
	c.FailureCount++
	c.LastError = errMsg
	c.LastUsedAt = &now
	if c.Active && c.FailureCount >= threshold {
		c.Active = false
		return true
	}
	return false
}
