package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundpool/internal/api/handlers"
	"fundpool/internal/api/middleware"
	"fundpool/internal/service"
	"fundpool/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	PoolService service.PoolServiceInterface
	AuthService service.AuthServiceInterface
	Engine      handlers.EngineInterface
	Hub         *websocket.Hub
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Назначение:
// Центральное место для определения всех API endpoints.
// Регистрирует handlers для каждого маршрута.
// Применяет middleware к группам маршрутов.
// Организует версионирование API (v1).
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /config
//	│   ├── GET / - конфигурация пула
//	│   ├── PATCH / - частичное обновление (админ/лидер)
//	│   ├── POST /init - создание конфигурации (фабрика)
//	│   └── POST /accept-admin - принятие прав администратора
//	├── PATCH /factory-config - смена лидера (фабрика)
//	├── /queue
//	│   ├── POST / - поставить запрос в очередь
//	│   └── GET /{direction} - страница очереди
//	├── /wallets/{wallet}
//	│   ├── GET /queue - запросы кошелька
//	│   └── GET /balance/{token} - баланс долей
//	├── /tokens/{token}
//	│   ├── GET /totals - агрегаты пула
//	│   └── GET /share-price - цена доли
//	├── /markets
//	│   ├── GET / - зеркало реестра
//	│   ├── GET /{id}/positions - зеркало позиций
//	│   ├── GET /{id}/work - невыполненная работа
//	│   └── POST /{id}/reconcile - запрос сверки (админ/лидер)
//	├── GET /registry-sync - статус синхронизации с реестром
//	├── POST /crank - явный проход движка (админ/лидер)
//	├── /reply
//	│   ├── POST / - reply площадки на отложенный вызов
//	│   └── GET / - занятость слота ожидания
//	└── GET /consistency - проверка инвариантов (админ)
//
// /ws/stream - WebSocket для real-time обновлений
// /metrics - Prometheus метрики
// /health - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Identify (разрешение bearer-токена в роль, для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var poolHandler *handlers.PoolHandler
	if deps != nil && deps.PoolService != nil {
		poolHandler = handlers.NewPoolHandler(deps.PoolService)
	}

	var queueHandler *handlers.QueueHandler
	var marketHandler *handlers.MarketHandler
	var crankHandler *handlers.CrankHandler
	if deps != nil && deps.Engine != nil {
		queueHandler = handlers.NewQueueHandler(deps.Engine)
		marketHandler = handlers.NewMarketHandler(deps.Engine)
		crankHandler = handlers.NewCrankHandler(deps.Engine)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Разрешение bearer-токена в роль вызывающего
	if deps != nil && deps.AuthService != nil {
		api.Use(middleware.Identify(deps.AuthService))
	}

	// Pool config routes
	if poolHandler != nil {
		api.HandleFunc("/config", poolHandler.GetConfig).Methods("GET")
		api.HandleFunc("/config", poolHandler.UpdateConfig).Methods("PATCH")
		api.HandleFunc("/config/init", poolHandler.InitPool).Methods("POST")
		api.HandleFunc("/config/accept-admin", poolHandler.AcceptAdmin).Methods("POST")
		api.HandleFunc("/factory-config", poolHandler.UpdateFactoryConfig).Methods("PATCH")
	}

	// Queue and ledger routes
	if queueHandler != nil {
		api.HandleFunc("/queue", queueHandler.Enqueue).Methods("POST")
		api.HandleFunc("/queue/{direction}", queueHandler.GetQueue).Methods("GET")
		api.HandleFunc("/wallets/{wallet}/queue", queueHandler.GetWalletQueue).Methods("GET")
		api.HandleFunc("/wallets/{wallet}/balance/{token}", queueHandler.GetBalance).Methods("GET")
		api.HandleFunc("/tokens/{token}/totals", queueHandler.GetTotals).Methods("GET")
		api.HandleFunc("/tokens/{token}/share-price", queueHandler.GetSharePrice).Methods("GET")
	}

	// Market mirror routes
	if marketHandler != nil {
		api.HandleFunc("/markets", marketHandler.GetMarkets).Methods("GET")
		api.HandleFunc("/markets/{id}/positions", marketHandler.GetMarketPositions).Methods("GET")
		api.HandleFunc("/markets/{id}/work", marketHandler.GetMarketWork).Methods("GET")
		api.HandleFunc("/markets/{id}/reconcile", marketHandler.ScheduleReconcile).Methods("POST")
		api.HandleFunc("/registry-sync", marketHandler.GetRegistrySync).Methods("GET")
	}

	// Crank and reply routes
	if crankHandler != nil {
		api.HandleFunc("/crank", crankHandler.Crank).Methods("POST")
		api.HandleFunc("/reply", crankHandler.Reply).Methods("POST")
		api.HandleFunc("/reply", crankHandler.GetAwaitingReply).Methods("GET")
		api.HandleFunc("/consistency", crankHandler.GetConsistency).Methods("GET")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
