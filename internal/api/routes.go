package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptofolio/internal/api/handlers"
	"cryptofolio/internal/api/middleware"
	"cryptofolio/internal/service"
	"cryptofolio/internal/websocket"
	"cryptofolio/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	PortfolioService  service.PortfolioServiceInterface
	TradeSyncService  service.TradeSyncServiceInterface
	StatsService      service.StatsServiceInterface
	CredentialService service.CredentialServiceInterface

	Hub            *websocket.Hub
	AllowedOrigins []string
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (требует X-User-ID)
//
//	├── /portfolio/
//	│   ├── GET / - живой снимок портфеля
//	│   ├── POST /sync - снимок и синхронный merge
//	│   └── POST /prices - обновить цены позиций
//	├── /holdings/
//	│   ├── GET / - сохранённые позиции
//	│   └── PUT /{symbol}/cost-basis - средняя цена входа
//	├── /trades/
//	│   ├── POST /sync - загрузить сделки
//	│   └── GET /stats?period= - статистика
//	└── /credentials/
//	    ├── GET / - список ключей
//	    ├── POST / - добавить ключ
//	    └── DELETE /{id} - удалить ключ
//
// /ws/stream - WebSocket (X-User-ID), /health, /metrics
//
// Middleware применяется в следующем порядке:
// 1. Recovery
// 2. RequestID
// 3. Logging
// 4. CORS
// 5. Identity (только /api/v1 и /ws)
func SetupRoutes(deps *Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Identity)

	if deps.PortfolioService != nil {
		h := handlers.NewPortfolioHandler(deps.PortfolioService)
		api.HandleFunc("/portfolio", h.GetPortfolio).Methods("GET")
		api.HandleFunc("/portfolio/sync", h.SyncPortfolio).Methods("POST")
		api.HandleFunc("/portfolio/prices", h.UpdatePrices).Methods("POST")
		api.HandleFunc("/holdings", h.GetHoldings).Methods("GET")
		api.HandleFunc("/holdings/{symbol}/cost-basis", h.SetCostBasis).Methods("PUT")
	}

	if deps.TradeSyncService != nil && deps.StatsService != nil {
		h := handlers.NewTradeHandler(deps.TradeSyncService, deps.StatsService)
		api.HandleFunc("/trades/sync", h.SyncTrades).Methods("POST")
		api.HandleFunc("/trades/stats", h.GetTradeStats).Methods("GET")
	}

	if deps.CredentialService != nil {
		h := handlers.NewCredentialHandler(deps.CredentialService)
		api.HandleFunc("/credentials", h.ListCredentials).Methods("GET")
		api.HandleFunc("/credentials", h.RegisterCredential).Methods("POST")
		api.HandleFunc("/credentials/{id:[0-9]+}", h.DeleteCredential).Methods("DELETE")
	}

	if deps.Hub != nil {
		checker := websocket.NewOriginChecker(deps.AllowedOrigins)
		ws := router.PathPrefix("/ws").Subrouter()
		ws.Use(middleware.Identity)
		ws.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := middleware.UserIDFromContext(r.Context())
			deps.Hub.ServeWS(checker, userID, w, r)
		}).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
