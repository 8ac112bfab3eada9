package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"fundpool/internal/service"
)

// Ключи контекста запроса
type contextKey string

const (
	ctxKeyRole   contextKey = "role"
	ctxKeyWallet contextKey = "wallet"
)

// Identify - middleware аутентификации запросов
//
// Назначение:
// Разрешает bearer-токен из заголовка Authorization в роль вызывающего
// (leader/admin/factory) по bcrypt-хешам из конфигурации и кладет роль
// в context запроса. Кошелек вызывающего берется из заголовка X-Wallet.
//
// Поведение:
//   - Без токена запрос проходит с ролью public (чтение доступно всем)
//   - Токен, не совпавший ни с одним хешем, дает 401 Unauthorized
//   - Авторизация по ролям выполняется в сервисах, не здесь: middleware
//     только устанавливает личность вызывающего
func Identify(auth service.AuthServiceInterface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)

			role, err := auth.ResolveRole(token)
			if err != nil {
				if errors.Is(err, service.ErrUnknownToken) {
					writeAuthError(w, http.StatusUnauthorized, "unknown bearer token")
					return
				}
				writeAuthError(w, http.StatusInternalServerError, "authorization failed")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyRole, role)
			if wallet := r.Header.Get("X-Wallet"); wallet != "" {
				ctx = context.WithValue(ctx, ctxKeyWallet, wallet)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization: Bearer <token>
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RoleFromContext возвращает роль вызывающего, установленную Identify
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(ctxKeyRole).(string); ok {
		return role
	}
	return service.RolePublic
}

// WalletFromContext возвращает кошелек вызывающего из заголовка X-Wallet
func WalletFromContext(ctx context.Context) string {
	if wallet, ok := ctx.Value(ctxKeyWallet).(string); ok {
		return wallet
	}
	return ""
}

// WithRole кладет роль в context (для тестов handlers)
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ctxKeyRole, role)
}

// WithWallet кладет кошелек в context (для тестов handlers)
func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, ctxKeyWallet, wallet)
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
