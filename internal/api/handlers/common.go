package handlers

import (
	"errors"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"cryptofolio/internal/api/middleware"
	"cryptofolio/internal/exchange"
	"cryptofolio/internal/repository"
	"cryptofolio/internal/service"
	"cryptofolio/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxRequestBodySize ограничение размера тела запроса (1 MB)
const MaxRequestBodySize = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, message, code, details string) {
	respondWithJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// decodeBody декодирует JSON тело с ограничением размера
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// currentUser возвращает пользователя из context; без Identity middleware - 401
func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing user identity", "UNAUTHORIZED", "")
	}
	return userID, ok
}

// respondWithServiceError переводит ошибку сервиса в HTTP статус.
//
// Порядок важен: локальная защита (breaker, бюджет) проверяется раньше APIError,
// ошибка провайдера - раньше "not found".
func respondWithServiceError(w http.ResponseWriter, err error) {
	var protection *exchange.ProtectionError
	if errors.As(err, &protection) {
		switch protection.Code {
		case exchange.CodeCircuitOpen:
			w.Header().Set("Retry-After", "30")
			respondWithError(w, http.StatusServiceUnavailable, "exchange temporarily unavailable for this credential", protection.Code, protection.Message)
		default:
			w.Header().Set("Retry-After", "60")
			respondWithError(w, http.StatusTooManyRequests, "request budget exhausted", protection.Code, protection.Message)
		}
		return
	}

	if apiErr, ok := exchange.AsAPIError(err); ok {
		switch {
		case apiErr.IsCredentialError():
			respondWithError(w, http.StatusUnprocessableEntity, "exchange rejected the credential", string(apiErr.Category), apiErr.Message)
		case apiErr.Retryable():
			respondWithError(w, http.StatusBadGateway, "exchange temporarily unavailable", string(apiErr.Category), apiErr.Message)
		case errors.Is(err, service.ErrInvalidCredentials):
			// при регистрации любой постоянный отказ означает непригодный ключ
			respondWithError(w, http.StatusUnprocessableEntity, "invalid API credentials", string(apiErr.Category), apiErr.Message)
		default:
			respondWithError(w, http.StatusBadGateway, "exchange error", string(apiErr.Category), apiErr.Message)
		}
		return
	}

	switch {
	case errors.Is(err, service.ErrNoActiveCredential):
		respondWithError(w, http.StatusPreconditionFailed, "no active exchange credential", "NO_CREDENTIAL", "register an API key first")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondWithError(w, http.StatusUnprocessableEntity, "invalid API credentials", "INVALID_CREDENTIAL", err.Error())
	case errors.Is(err, service.ErrExchangeNotSupported):
		respondWithError(w, http.StatusBadRequest, "exchange not supported", "UNSUPPORTED_EXCHANGE", "")
	case errors.Is(err, service.ErrInvalidCostBasis):
		respondWithError(w, http.StatusBadRequest, err.Error(), "VALIDATION", "")
	case isValidationError(err):
		respondWithError(w, http.StatusBadRequest, err.Error(), "VALIDATION", "")
	case errors.Is(err, repository.ErrHoldingNotFound),
		errors.Is(err, repository.ErrCredentialNotFound),
		errors.Is(err, repository.ErrTradeNotFound):
		respondWithError(w, http.StatusNotFound, err.Error(), "NOT_FOUND", "")
	case errors.Is(err, repository.ErrCredentialExists):
		respondWithError(w, http.StatusConflict, err.Error(), "CONFLICT", "")
	default:
		respondWithError(w, http.StatusInternalServerError, "internal server error", "", "")
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		utils.ErrEmptySymbol, utils.ErrInvalidSymbol,
		utils.ErrEmptyAPIKey, utils.ErrInvalidAPIKey,
		utils.ErrEmptySecret, utils.ErrInvalidSecret,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
