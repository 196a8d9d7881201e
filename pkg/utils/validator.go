package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - проверка входных данных API (символы, API ключи, лимиты)

// QuoteAsset - котируемая валюта для оценки портфеля
const QuoteAsset = "USDT"

var (
	ErrEmptySymbol   = errors.New("symbol is required")
	ErrInvalidSymbol = errors.New("invalid symbol format")
	ErrEmptyAPIKey   = errors.New("api key is required")
	ErrInvalidAPIKey = errors.New("invalid api key format")
	ErrEmptySecret   = errors.New("api secret is required")
	ErrInvalidSecret = errors.New("invalid api secret format")
)

var (
	symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)
	keyPattern    = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// NormalizeSymbol приводит символ к виду BTCUSDT (верхний регистр, без разделителей)
func NormalizeSymbol(symbol string) string {
	replacer := strings.NewReplacer("-", "", "_", "", "/", "")
	return strings.ToUpper(replacer.Replace(strings.TrimSpace(symbol)))
}

// ValidateSymbol проверяет символ после нормализации
func ValidateSymbol(symbol string) error {
	if strings.TrimSpace(symbol) == "" {
		return ErrEmptySymbol
	}
	if !symbolPattern.MatchString(NormalizeSymbol(symbol)) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// SymbolForAsset возвращает торговый символ актива к USDT
func SymbolForAsset(asset string) string {
	return strings.ToUpper(asset) + QuoteAsset
}

// AssetFromSymbol отрезает котируемую валюту: BTCUSDT -> BTC
func AssetFromSymbol(symbol string) string {
	symbol = NormalizeSymbol(symbol)
	if strings.HasSuffix(symbol, QuoteAsset) && len(symbol) > len(QuoteAsset) {
		return strings.TrimSuffix(symbol, QuoteAsset)
	}
	return symbol
}

// ValidateAPIKey проверяет публичный ключ биржи (буквы и цифры, 16-128 символов)
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrEmptyAPIKey
	}
	if len(key) < 16 || len(key) > 128 || !keyPattern.MatchString(key) {
		return ErrInvalidAPIKey
	}
	return nil
}

// ValidateAPISecret проверяет секрет биржи
func ValidateAPISecret(secret string) error {
	if secret == "" {
		return ErrEmptySecret
	}
	if len(secret) < 16 || len(secret) > 128 || !keyPattern.MatchString(secret) {
		return ErrInvalidSecret
	}
	return nil
}

// ClampLimit ограничивает значение limit диапазоном [1, max], 0 = def
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
