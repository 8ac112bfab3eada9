package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"fundpool/internal/api/middleware"
	"fundpool/internal/models"
	"fundpool/pkg/utils"
)

// QueueHandler обрабатывает HTTP запросы очередей и баланса долей.
//
// Endpoints:
// - POST /api/v1/queue - поставить запрос в очередь
// - GET /api/v1/queue/{direction}?start_after=&limit= - страница очереди
// - GET /api/v1/wallets/{wallet}/queue?start_after=&limit= - запросы кошелька
// - GET /api/v1/wallets/{wallet}/balance/{token} - баланс долей
// - GET /api/v1/tokens/{token}/totals - агрегаты пула
// - GET /api/v1/tokens/{token}/share-price - кэшированная цена доли
//
// Постановка в очередь не исполняет запрос: сумма и стоимость доли
// фиксируются при settlement crank'ом, в порядке следования очереди
type QueueHandler struct {
	engine EngineInterface
}

// NewQueueHandler создает новый QueueHandler с внедрением зависимостей.
func NewQueueHandler(engine EngineInterface) *QueueHandler {
	return &QueueHandler{
		engine: engine,
	}
}

// Enqueue ставит запрос в очередь на отложенное исполнение.
//
// POST /api/v1/queue
//
// Кошелек вызывающего берется из заголовка X-Wallet. Действия лидера
// (открытие/закрытие позиций, ликвидность, реинвест) принимаются только
// от кошелька-лидера из конфигурации пула.
//
// Request body: models.QueueItem
// Response 201 Created: models.QueueItemRecord со статусом pending
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	wallet := middleware.WalletFromContext(r.Context())
	if wallet == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "X-Wallet header is required"})
		return
	}
	if err := utils.ValidateWallet(wallet); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid wallet", Details: err.Error()})
		return
	}

	var item models.QueueItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	item.Token = utils.NormalizeToken(item.Token)

	rec, err := h.engine.Enqueue(wallet, &item)
	if err != nil {
		writeError(w, err, "failed to enqueue request")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// GetQueue возвращает страницу очереди и позиции указателей.
//
// GET /api/v1/queue/{direction}?start_after=0&limit=50
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	direction := mux.Vars(r)["direction"]
	if direction != models.DirIncrease && direction != models.DirDecrease {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "direction must be increase or decrease"})
		return
	}

	startAfter, _ := strconv.ParseInt(r.URL.Query().Get("start_after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	status, err := h.engine.QueueStatus(direction, startAfter, limit)
	if err != nil {
		writeError(w, err, "failed to get queue status")
		return
	}

	// Пустая страница сериализуется как [], а не null
	if status.Items == nil {
		status.Items = []*models.QueueItemRecord{}
	}

	writeJSON(w, http.StatusOK, status)
}

// GetWalletQueue возвращает страницу запросов кошелька по обеим очередям.
//
// GET /api/v1/wallets/{wallet}/queue?start_after=0&limit=50
func (h *QueueHandler) GetWalletQueue(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]
	startAfter, _ := strconv.ParseInt(r.URL.Query().Get("start_after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	status, err := h.engine.WalletQueue(wallet, startAfter, limit)
	if err != nil {
		writeError(w, err, "failed to get wallet queue")
		return
	}

	if status.Items == nil {
		status.Items = []*models.QueueItemRecord{}
	}

	writeJSON(w, http.StatusOK, status)
}

// GetBalance возвращает доли кошелька и их текущую стоимость.
//
// GET /api/v1/wallets/{wallet}/balance/{token}
//
// Кошелек без долей получает нулевой баланс, не ошибку
func (h *QueueHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	balance, err := h.engine.Balance(vars["wallet"], vars["token"])
	if err != nil {
		writeError(w, err, "failed to get balance")
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

// GetTotals возвращает агрегаты пула по токену расчётов.
//
// GET /api/v1/tokens/{token}/totals
func (h *QueueHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.engine.Totals(mux.Vars(r)["token"])
	if err != nil {
		writeError(w, err, "failed to get totals")
		return
	}

	writeJSON(w, http.StatusOK, totals)
}

// GetSharePrice возвращает кэшированную стоимость одной доли.
//
// GET /api/v1/tokens/{token}/share-price
func (h *QueueHandler) GetSharePrice(w http.ResponseWriter, r *http.Request) {
	value, err := h.engine.CurrentSharePrice(mux.Vars(r)["token"])
	if err != nil {
		writeError(w, err, "failed to get share price")
		return
	}

	writeJSON(w, http.StatusOK, value)
}
