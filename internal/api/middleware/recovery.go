package middleware

import (
	"net/http"
	"runtime/debug"

	"fundpool/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic в HTTP handlers и предотвращает падение всего
// сервера: логирует ошибку со stack trace и возвращает клиенту 500.
// Детали паники клиенту не раскрываются
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.L().Error("panic in http handler",
					utils.Any("panic", err),
					utils.String("path", r.URL.Path),
					utils.String("stack", string(debug.Stack())),
				)

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
