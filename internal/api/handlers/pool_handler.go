package handlers

import (
	"net/http"

	"fundpool/internal/api/middleware"
	"fundpool/internal/models"
	"fundpool/internal/service"
)

// PoolHandler обрабатывает HTTP запросы конфигурации пула.
//
// Endpoints:
// - GET /api/v1/config - текущая конфигурация пула
// - POST /api/v1/config/init - создание конфигурации (только фабрика)
// - PATCH /api/v1/config - частичное обновление (админ/лидер)
// - POST /api/v1/config/accept-admin - принятие прав администратора
// - PATCH /api/v1/factory-config - смена лидера (только фабрика)
//
// Роль вызывающего устанавливается middleware.Identify по bearer-токену,
// кошелек - заголовком X-Wallet
type PoolHandler struct {
	poolService service.PoolServiceInterface
}

// NewPoolHandler создает новый PoolHandler с внедрением зависимостей.
func NewPoolHandler(poolService service.PoolServiceInterface) *PoolHandler {
	return &PoolHandler{
		poolService: poolService,
	}
}

// GetConfig возвращает текущую конфигурацию пула.
//
// GET /api/v1/config
func (h *PoolHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.poolService.GetConfig()
	if err != nil {
		writeError(w, err, "failed to get pool config")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// InitPool создает единственную запись конфигурации пула.
//
// POST /api/v1/config/init
//
// Request body: models.PoolConfig (admin, factory, leader, name,
// description, commission_rate)
func (h *PoolHandler) InitPool(w http.ResponseWriter, r *http.Request) {
	var cfg models.PoolConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	role := middleware.RoleFromContext(r.Context())
	if err := h.poolService.InitPool(role, &cfg); err != nil {
		writeError(w, err, "failed to init pool")
		return
	}

	stored, err := h.poolService.GetConfig()
	if err != nil {
		writeError(w, err, "failed to read created config")
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

// UpdateConfig применяет частичное обновление конфигурации.
//
// PATCH /api/v1/config
//
// Request body (все поля опциональны):
//
//	{"name": "...", "description": "...", "commission_rate": "0.1",
//	 "pending_admin": "wallet..."}
func (h *PoolHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var upd models.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	role := middleware.RoleFromContext(r.Context())
	cfg, err := h.poolService.UpdateConfig(role, &upd)
	if err != nil {
		writeError(w, err, "failed to update pool config")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// AcceptAdmin завершает двухфазную передачу прав администратора.
//
// POST /api/v1/config/accept-admin
//
// Кошелек вызывающего берется из заголовка X-Wallet и должен совпадать
// с назначенным pending_admin
func (h *PoolHandler) AcceptAdmin(w http.ResponseWriter, r *http.Request) {
	wallet := middleware.WalletFromContext(r.Context())
	if wallet == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "X-Wallet header is required"})
		return
	}

	cfg, err := h.poolService.AcceptAdmin(wallet)
	if err != nil {
		writeError(w, err, "failed to accept admin handover")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// UpdateFactoryConfig меняет лидера пула.
//
// PATCH /api/v1/factory-config
//
// Request body: {"leader": "wallet..."}
func (h *PoolHandler) UpdateFactoryConfig(w http.ResponseWriter, r *http.Request) {
	var upd models.FactoryConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	role := middleware.RoleFromContext(r.Context())
	cfg, err := h.poolService.UpdateLeader(role, &upd)
	if err != nil {
		writeError(w, err, "failed to update leader")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}
