package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// Category - категория ошибки провайдера
type Category string

const (
	CategoryInvalidCredential   Category = "INVALID_CREDENTIAL"
	CategoryInvalidSignature    Category = "INVALID_SIGNATURE"
	CategoryTimestampSkew       Category = "TIMESTAMP_SKEW"
	CategoryIPNotAllowed        Category = "IP_NOT_ALLOWED"
	CategoryRateLimited         Category = "RATE_LIMITED"
	CategoryInsufficientBalance Category = "INSUFFICIENT_BALANCE"
	CategoryPermissionDenied    Category = "PERMISSION_DENIED"
	CategoryNetworkError        Category = "NETWORK_ERROR"
	CategoryMaintenance         Category = "MAINTENANCE"
	CategoryUnknown             Category = "UNKNOWN"
)

// Коды ошибок Binance
const (
	codeInvalidAPIKey     = -2014
	codeRejectedMBXKey    = -2015
	codeInvalidSignature  = -1022
	codeInvalidTimestamp  = -1021
	codeTooManyRequests   = -1003
	codeTooManyOrders     = -1015
	codeInsufficientFunds = -2010
	codeMandatoryParam    = -1102
)

// Classification - результат классификации ошибки
type Classification struct {
	Category    Category
	Retryable   bool
	Description string
}

var codeCategories = map[int]Category{
	codeInvalidAPIKey:     CategoryInvalidCredential,
	codeRejectedMBXKey:    CategoryIPNotAllowed,
	codeInvalidSignature:  CategoryInvalidSignature,
	codeInvalidTimestamp:  CategoryTimestampSkew,
	codeTooManyRequests:   CategoryRateLimited,
	codeTooManyOrders:     CategoryRateLimited,
	codeInsufficientFunds: CategoryInsufficientBalance,
	codeMandatoryParam:    CategoryPermissionDenied,
}

// messageRule - подстроки сообщения для категории; порядок правил важен
type messageRule struct {
	needles  []string
	category Category
}

var messageRules = []messageRule{
	{[]string{"api-key"}, CategoryInvalidCredential},
	{[]string{"signature"}, CategoryInvalidSignature},
	{[]string{"timestamp", "recvwindow"}, CategoryTimestampSkew},
	{[]string{"ip address", "whitelist"}, CategoryIPNotAllowed},
	{[]string{"rate limit", "too many"}, CategoryRateLimited},
	{[]string{"insufficient"}, CategoryInsufficientBalance},
	{[]string{"permission"}, CategoryPermissionDenied},
	{[]string{"network", "timeout", "connection"}, CategoryNetworkError},
	{[]string{"maintenance"}, CategoryMaintenance},
}

var descriptions = map[Category]string{
	CategoryInvalidCredential:   "API key is invalid or revoked",
	CategoryInvalidSignature:    "request signature rejected, check the API secret",
	CategoryTimestampSkew:       "request timestamp outside recvWindow, check clock sync",
	CategoryIPNotAllowed:        "API key, IP or permissions rejected, check the IP whitelist",
	CategoryRateLimited:         "exchange rate limit exceeded",
	CategoryInsufficientBalance: "insufficient balance",
	CategoryPermissionDenied:    "API key lacks permission or a mandatory parameter is missing",
	CategoryNetworkError:        "network error while calling the exchange",
	CategoryMaintenance:         "exchange is under maintenance",
	CategoryUnknown:             "unknown exchange error",
}

// IsRetryableCategory - временные ошибки, повтор которых имеет смысл
func IsRetryableCategory(c Category) bool {
	switch c {
	case CategoryRateLimited, CategoryTimestampSkew, CategoryNetworkError, CategoryMaintenance:
		return true
	default:
		return false
	}
}

// IsCredentialCategory - ошибки, которые не исправит повтор с тем же ключом
func IsCredentialCategory(c Category) bool {
	switch c {
	case CategoryInvalidCredential, CategoryInvalidSignature, CategoryIPNotAllowed, CategoryPermissionDenied:
		return true
	default:
		return false
	}
}

// Classify сопоставляет код и сообщение биржи с категорией.
// Известный код имеет приоритет; иначе ищется подстрока в сообщении без учёта регистра.
func Classify(code int, msg string) Classification {
	if c, ok := codeCategories[code]; ok {
		return newClassification(c)
	}

	lower := strings.ToLower(msg)
	for _, rule := range messageRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return newClassification(rule.category)
			}
		}
	}
	return newClassification(CategoryUnknown)
}

func newClassification(c Category) Classification {
	return Classification{
		Category:    c,
		Retryable:   IsRetryableCategory(c),
		Description: descriptions[c],
	}
}

// ============================================================
// APIError - ошибка провайдера
// ============================================================

// APIError описывает неуспешный вызов биржи (ответ с ошибкой или сбой транспорта)
type APIError struct {
	Category    Category
	IsTransient bool
	Code        int
	Message     string
	HTTPStatus  int
	Endpoint    string
	Original    error
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance %s: %s (code %d): %s", e.Endpoint, e.Category, e.Code, e.Message)
	}
	return fmt.Sprintf("binance %s: %s: %s", e.Endpoint, e.Category, e.Message)
}

// Unwrap возвращает исходную ошибку транспорта
func (e *APIError) Unwrap() error {
	return e.Original
}

// Retryable реализует retry.RetryableError
func (e *APIError) Retryable() bool {
	return e.IsTransient
}

// IsCredentialError - ошибка ключа (неверный ключ, подпись, IP, права)
func (e *APIError) IsCredentialError() bool {
	return IsCredentialCategory(e.Category)
}

func newAPIError(endpoint string, status, code int, msg string, original error) *APIError {
	c := Classify(code, msg)
	if c.Category == CategoryUnknown {
		switch {
		case status == 429 || status == 418:
			// 418 - IP забанен после игнорирования 429
			c = newClassification(CategoryRateLimited)
		case status >= 500:
			// неизвестные 5xx считаем сетевой проблемой на стороне биржи
			c = newClassification(CategoryNetworkError)
		}
	}
	return &APIError{
		Category:    c.Category,
		IsTransient: c.Retryable,
		Code:        code,
		Message:     msg,
		HTTPStatus:  status,
		Endpoint:    endpoint,
		Original:    original,
	}
}

func newNetworkError(endpoint string, err error) *APIError {
	return &APIError{
		Category:    CategoryNetworkError,
		IsTransient: true,
		Message:     err.Error(),
		Endpoint:    endpoint,
		Original:    err,
	}
}

// AsAPIError извлекает *APIError из цепочки
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// ============================================================
// ProtectionError - локальный отказ без обращения к бирже
// ============================================================

// Коды локальной защиты
const (
	CodeCircuitOpen = "CB_OPEN"
	CodeRateLimited = "RATE_LIMIT"
)

// ProtectionError - запрос отклонён breaker'ом или бюджетом веса
type ProtectionError struct {
	Code    string
	Message string
}

func (e *ProtectionError) Error() string {
	return e.Code + ": " + e.Message
}

// Retryable: повтор возможен после cooldown или смены окна
func (e *ProtectionError) Retryable() bool {
	return true
}

var (
	ErrCircuitOpen = &ProtectionError{Code: CodeCircuitOpen, Message: "circuit breaker is open for this credential"}
	ErrRateLimited = &ProtectionError{Code: CodeRateLimited, Message: "request weight budget exhausted"}
)

// ErrUnsupportedExchange - биржа не зарегистрирована в фабрике
var ErrUnsupportedExchange = errors.New("unsupported exchange")
