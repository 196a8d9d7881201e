package handlers

import (
	"errors"
	"io"
	"net/http"

	"cryptofolio/internal/models"
	"cryptofolio/internal/service"
)

// TradeHandler - загрузка сделок и статистика
//
// Endpoints:
// - POST /api/v1/trades/sync - загрузить сделки с биржи
// - GET /api/v1/trades/stats?period=day|week|month|year|all - статистика
type TradeHandler struct {
	tradeSyncService service.TradeSyncServiceInterface
	statsService     service.StatsServiceInterface
}

// NewTradeHandler создает новый TradeHandler
func NewTradeHandler(tradeSync service.TradeSyncServiceInterface, stats service.StatsServiceInterface) *TradeHandler {
	return &TradeHandler{tradeSyncService: tradeSync, statsService: stats}
}

// SyncTrades загружает сделки по символам
// POST /api/v1/trades/sync
//
// Тело запроса (необязательно, пустое тело = символы по умолчанию):
//
//	{
//	  "symbols": ["BTCUSDT", "ETHUSDT"],
//	  "since": "2024-01-01T00:00:00Z",
//	  "limit": 500
//	}
//
// Частичный отказ по символу не является ошибкой запроса: детали в symbols[].error.
func (h *TradeHandler) SyncTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req service.TradeSyncRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request body", "VALIDATION", err.Error())
		return
	}

	result, err := h.tradeSyncService.SyncTrades(r.Context(), userID, &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	if result.Symbols == nil {
		result.Symbols = []models.SymbolSyncResult{}
	}
	respondWithJSON(w, http.StatusOK, result)
}

// GetTradeStats возвращает статистику сделок за период
// GET /api/v1/trades/stats?period=week
//
// Неизвестный период трактуется как all.
func (h *TradeHandler) GetTradeStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	stats, err := h.statsService.GetTradeStats(r.Context(), userID, r.URL.Query().Get("period"))
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}
