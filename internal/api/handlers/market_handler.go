package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"fundpool/internal/api/middleware"
	"fundpool/internal/models"
	"fundpool/internal/service"
	"fundpool/pkg/utils"
)

// MarketHandler обрабатывает HTTP запросы зеркала реестра и позиций.
//
// Endpoints:
// - GET /api/v1/markets - известные площадки
// - GET /api/v1/markets/{id}/positions - зеркало позиций площадки
// - GET /api/v1/markets/{id}/work - невыполненная работа по площадке
// - POST /api/v1/markets/{id}/reconcile - запросить сверку (админ/лидер)
// - GET /api/v1/registry-sync - статус синхронизации с реестром
type MarketHandler struct {
	engine EngineInterface
}

// NewMarketHandler создает новый MarketHandler с внедрением зависимостей.
func NewMarketHandler(engine EngineInterface) *MarketHandler {
	return &MarketHandler{
		engine: engine,
	}
}

// GetMarkets возвращает все площадки из зеркала реестра.
//
// GET /api/v1/markets
func (h *MarketHandler) GetMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.engine.Markets()
	if err != nil {
		writeError(w, err, "failed to list markets")
		return
	}

	if markets == nil {
		markets = []*models.MarketInfo{}
	}

	writeJSON(w, http.StatusOK, markets)
}

// GetMarketPositions возвращает зеркало позиций площадки:
// открытые позиции и отложенные подтверждения.
//
// GET /api/v1/markets/{id}/positions
func (h *MarketHandler) GetMarketPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.engine.MarketPositions(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "failed to get market positions")
		return
	}

	writeJSON(w, http.StatusOK, positions)
}

// GetMarketWork возвращает невыполненную единицу работы по площадке.
//
// GET /api/v1/markets/{id}/work
//
// Отсутствие запланированной работы - штатное состояние: 200 с null
func (h *MarketHandler) GetMarketWork(w http.ResponseWriter, r *http.Request) {
	work, err := h.engine.MarketWork(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "failed to get market work")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Data: work})
}

// ScheduleReconcile ставит площадке работу по сверке позиций.
//
// POST /api/v1/markets/{id}/reconcile
//
// Доступно админу и лидеру. Если работа по площадке уже запланирована,
// новая не добавляется (scheduled=false)
func (h *MarketHandler) ScheduleReconcile(w http.ResponseWriter, r *http.Request) {
	role := middleware.RoleFromContext(r.Context())
	if role != service.RoleAdmin && role != service.RoleLeader {
		writeError(w, service.ErrForbidden, "reconcile requires admin or leader role")
		return
	}

	id := mux.Vars(r)["id"]
	if err := utils.ValidateMarketID(id); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid market id", Details: err.Error()})
		return
	}

	scheduled, err := h.engine.ScheduleReconcile(id)
	if err != nil {
		writeError(w, err, "failed to schedule reconcile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"scheduled": scheduled})
}

// GetRegistrySync возвращает статус синхронизации зеркала реестра.
//
// GET /api/v1/registry-sync
func (h *MarketHandler) GetRegistrySync(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.RegistrySync()
	if err != nil {
		writeError(w, err, "failed to get registry sync status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
