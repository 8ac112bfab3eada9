package handlers

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"fundpool/internal/engine"
	"fundpool/internal/models"
	"fundpool/internal/repository"
	"fundpool/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

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

// writeJSON сериализует тело ответа с указанным статусом
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError отвечает ошибкой со статусом, выведенным из sentinel-ошибки
func writeError(w http.ResponseWriter, err error, msg string) {
	writeJSON(w, statusForError(err), ErrorResponse{
		Error:   msg,
		Details: err.Error(),
	})
}

// statusForError сопоставляет ошибки слоев сервиса и хранилища HTTP статусам
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownToken):
		return http.StatusUnauthorized

	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, engine.ErrNotLeader),
		errors.Is(err, repository.ErrNotPendingAdmin):
		return http.StatusForbidden

	case errors.Is(err, repository.ErrPoolNotFound),
		errors.Is(err, repository.ErrMarketNotFound),
		errors.Is(err, repository.ErrPositionNotFound),
		errors.Is(err, repository.ErrItemNotFound),
		errors.Is(err, repository.ErrBalanceNotFound),
		errors.Is(err, repository.ErrWorkNotFound):
		return http.StatusNotFound

	case errors.Is(err, repository.ErrPoolAlreadyInit),
		errors.Is(err, repository.ErrNoPendingAdmin),
		errors.Is(err, repository.ErrReplyOutstanding),
		errors.Is(err, repository.ErrNoPendingReply),
		errors.Is(err, engine.ErrReplyMismatch),
		errors.Is(err, engine.ErrTooManyPositions):
		return http.StatusConflict

	case errors.Is(err, models.ErrEmptyName),
		errors.Is(err, models.ErrBadCommission),
		errors.Is(err, models.ErrUnknownItemKind),
		errors.Is(err, models.ErrEmptyWallet),
		errors.Is(err, models.ErrEmptyToken),
		errors.Is(err, models.ErrEmptyMarket),
		errors.Is(err, models.ErrEmptyPosition),
		errors.Is(err, models.ErrNegativeAmount),
		errors.Is(err, models.ErrZeroAmount):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
