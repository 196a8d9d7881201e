package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"cryptofolio/internal/models"
	"cryptofolio/internal/service"
)

// PortfolioHandler - живой портфель и сохранённые позиции
//
// Endpoints:
// - GET /api/v1/portfolio - снимок с биржи (merge ставится в очередь)
// - POST /api/v1/portfolio/sync - снимок и синхронный merge
// - POST /api/v1/portfolio/prices - обновить цены позиций без запроса баланса
// - GET /api/v1/holdings - сохранённые позиции
// - PUT /api/v1/holdings/{symbol}/cost-basis - задать среднюю цену входа
type PortfolioHandler struct {
	portfolioService service.PortfolioServiceInterface
}

// NewPortfolioHandler создает новый PortfolioHandler
func NewPortfolioHandler(portfolioService service.PortfolioServiceInterface) *PortfolioHandler {
	return &PortfolioHandler{portfolioService: portfolioService}
}

// GetPortfolio возвращает живой снимок портфеля
// GET /api/v1/portfolio
//
// Ответы:
// - 200 OK: снимок
// - 412 Precondition Failed: нет активного ключа
// - 422 Unprocessable Entity: биржа отклонила ключ
// - 429 / 503: бюджет исчерпан / breaker открыт
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	snapshot, err := h.portfolioService.GetLivePortfolio(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	if snapshot.Assets == nil {
		snapshot.Assets = []models.AssetValuation{}
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

// SyncPortfolio выполняет снимок и merge в рамках запроса
// POST /api/v1/portfolio/sync
func (h *PortfolioHandler) SyncPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	result, err := h.portfolioService.SyncNow(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// UpdatePrices обновляет цены сохранённых позиций
// POST /api/v1/portfolio/prices
func (h *PortfolioHandler) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	result, err := h.portfolioService.UpdatePricesOnly(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// GetHoldings возвращает сохранённые позиции
// GET /api/v1/holdings
func (h *PortfolioHandler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	holdings, err := h.portfolioService.GetHoldings(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	if holdings == nil {
		holdings = []*models.Holding{}
	}
	respondWithJSON(w, http.StatusOK, holdings)
}

// SetCostBasis задаёт среднюю цену входа позиции
// PUT /api/v1/holdings/{symbol}/cost-basis
//
// Тело запроса:
//
//	{
//	  "avg_buy_price": "40000.5",
//	  "notes": "OTC покупка",
//	  "first_buy_date": "2024-01-15T00:00:00Z"
//	}
func (h *PortfolioHandler) SetCostBasis(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req service.CostBasisRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", "VALIDATION", err.Error())
		return
	}

	holding, err := h.portfolioService.SetCostBasis(r.Context(), userID, mux.Vars(r)["symbol"], &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, holding)
}
