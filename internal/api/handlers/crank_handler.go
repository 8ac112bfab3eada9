package handlers

import (
	"net/http"
	"strings"

	"fundpool/internal/api/middleware"
	"fundpool/internal/models"
	"fundpool/internal/service"
)

// CrankHandler обрабатывает HTTP запросы продвижения движка.
//
// Endpoints:
// - POST /api/v1/crank - явный проход crank'а (админ/лидер)
// - POST /api/v1/reply - reply площадки на отложенный вызов
// - GET /api/v1/reply - занятость слота ожидания reply
// - GET /api/v1/consistency?tokens=usdc,usdt - проверка инвариантов (админ)
//
// Crank доступен и по HTTP, и фоновым тикером: оба пути сериализуются
// внутри движка, одновременных проходов не бывает
type CrankHandler struct {
	engine EngineInterface
}

// NewCrankHandler создает новый CrankHandler с внедрением зависимостей.
func NewCrankHandler(engine EngineInterface) *CrankHandler {
	return &CrankHandler{
		engine: engine,
	}
}

// Crank выполняет один проход движка: синхронизация реестра, единица
// работы по площадке, по одному settlement из каждой очереди.
//
// POST /api/v1/crank
//
// Response 200 OK: сводка прохода (engine.CrankSummary)
func (h *CrankHandler) Crank(w http.ResponseWriter, r *http.Request) {
	role := middleware.RoleFromContext(r.Context())
	if role != service.RoleAdmin && role != service.RoleLeader {
		writeError(w, service.ErrForbidden, "crank requires admin or leader role")
		return
	}

	summary := h.engine.Crank(r.Context())
	writeJSON(w, http.StatusOK, summary)
}

// Reply принимает ответ площадки на отложенный исполняющий вызов.
//
// POST /api/v1/reply
//
// Request body: models.VenueReply
//
// Нарушения последовательности (reply без занятого слота, reply не на
// ожидаемый элемент) - фатальные ошибки протокола, возвращается 409
func (h *CrankHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var reply models.VenueReply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	if err := h.engine.OnReply(&reply); err != nil {
		writeError(w, err, "failed to apply venue reply")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Message: "reply applied"})
}

// GetAwaitingReply возвращает состояние слота ожидания reply.
//
// GET /api/v1/reply
//
// Свободный слот - штатное состояние: 200 с null
func (h *CrankHandler) GetAwaitingReply(w http.ResponseWriter, r *http.Request) {
	marker, err := h.engine.AwaitingReply()
	if err != nil {
		writeError(w, err, "failed to get reply marker")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Data: marker})
}

// GetConsistency прогоняет перекрестную проверку инвариантов хранилища.
//
// GET /api/v1/consistency?tokens=usdc,usdt
//
// Диагностический endpoint для оператора, доступен только админу.
// Нарушения возвращаются списком в теле ответа, статус остается 200
func (h *CrankHandler) GetConsistency(w http.ResponseWriter, r *http.Request) {
	role := middleware.RoleFromContext(r.Context())
	if role != service.RoleAdmin {
		writeError(w, service.ErrForbidden, "consistency check requires admin role")
		return
	}

	var tokens []string
	if raw := r.URL.Query().Get("tokens"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
	}

	report, err := h.engine.CheckConsistency(tokens)
	if err != nil {
		writeError(w, err, "consistency check failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
