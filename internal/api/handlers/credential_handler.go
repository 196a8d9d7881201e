package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"cryptofolio/internal/exchange"
	"cryptofolio/internal/models"
	"cryptofolio/internal/service"
)

// CredentialResponse - ключ без секрета, публичная часть маскирована.
// Protection заполняется только в списке ключей.
type CredentialResponse struct {
	*models.Credential
	APIKey     string                       `json:"api_key"`
	Protection *exchange.ProtectionSnapshot `json:"protection,omitempty"`
}

func newCredentialResponse(c *models.Credential) CredentialResponse {
	return CredentialResponse{Credential: c, APIKey: c.MaskedAPIKey()}
}

// CredentialHandler отвечает за API ключи бирж
//
// Endpoints:
// - GET /api/v1/credentials - список ключей пользователя с состоянием breaker и бюджета
// - POST /api/v1/credentials - добавить ключ (проверяется запросом к бирже)
// - DELETE /api/v1/credentials/{id} - удалить ключ
type CredentialHandler struct {
	credentialService service.CredentialServiceInterface
}

// NewCredentialHandler создает новый CredentialHandler
func NewCredentialHandler(credentialService service.CredentialServiceInterface) *CredentialHandler {
	return &CredentialHandler{credentialService: credentialService}
}

// ListCredentials возвращает ключи пользователя
// GET /api/v1/credentials
func (h *CredentialHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	creds, err := h.credentialService.List(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	resp := make([]CredentialResponse, 0, len(creds))
	for _, c := range creds {
		item := newCredentialResponse(c)
		protection := h.credentialService.ProtectionState(c.ID)
		item.Protection = &protection
		resp = append(resp, item)
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// RegisterCredential добавляет ключ
// POST /api/v1/credentials
//
// Тело запроса:
//
//	{
//	  "exchange": "binance",
//	  "label": "main",
//	  "api_key": "...",
//	  "secret": "..."
//	}
//
// Ответы:
// - 201 Created: ключ проверен и сохранён
// - 400 Bad Request: некорректный формат
// - 422 Unprocessable Entity: биржа отклонила ключ
// - 502 Bad Gateway: биржа недоступна
func (h *CredentialHandler) RegisterCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req service.RegisterCredentialRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", "VALIDATION", err.Error())
		return
	}

	cred, err := h.credentialService.Register(r.Context(), userID, &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newCredentialResponse(cred))
}

// DeleteCredential удаляет ключ
// DELETE /api/v1/credentials/{id}
func (h *CredentialHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid credential id", "VALIDATION", "")
		return
	}

	if err := h.credentialService.Delete(r.Context(), userID, id); err != nil {
		respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
