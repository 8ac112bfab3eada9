package service

import (
	"errors"

	"fundpool/internal/config"
	"fundpool/pkg/crypto"
)

// Роли вызывающих, различаемые по bearer-токену
const (
	RolePublic  = "public"  // без токена: только чтение
	RoleLeader  = "leader"  // направляет торговые действия пула
	RoleAdmin   = "admin"   // управляет конфигурацией пула
	RoleFactory = "factory" // реестр-фабрика: смена лидера
)

// Ошибки авторизации
var (
	ErrUnknownToken = errors.New("token does not match any configured role")
	ErrForbidden    = errors.New("caller role is not allowed to perform this action")
)

// AuthService сопоставляет bearer-токены привилегированным ролям.
//
// Отвечает за:
// - Разрешение токена в роль по bcrypt-хешам из конфигурации
// - Проверку, что роль вызывающего входит в список разрешенных
//
// Сами токены нигде не хранятся - только их хеши
type AuthService struct {
	security config.SecurityConfig
}

// NewAuthService создает новый экземпляр AuthService.
func NewAuthService(security config.SecurityConfig) *AuthService {
	return &AuthService{
		security: security,
	}
}

// ResolveRole возвращает роль, соответствующую токену.
//
// Пустой токен дает RolePublic. Токен, не совпавший ни с одним
// из настроенных хешей, считается неизвестным
func (s *AuthService) ResolveRole(token string) (string, error) {
	if token == "" {
		return RolePublic, nil
	}

	// Порядок проверки не влияет на результат: токены ролей различны
	if crypto.CheckTokenMatch(token, s.security.LeaderTokenHash) {
		return RoleLeader, nil
	}
	if crypto.CheckTokenMatch(token, s.security.AdminTokenHash) {
		return RoleAdmin, nil
	}
	if s.security.FactoryTokenHash != "" && crypto.CheckTokenMatch(token, s.security.FactoryTokenHash) {
		return RoleFactory, nil
	}

	return "", ErrUnknownToken
}

// RequireRole проверяет, что роль токена входит в список разрешенных.
func (s *AuthService) RequireRole(token string, allowed ...string) (string, error) {
	role, err := s.ResolveRole(token)
	if err != nil {
		return "", err
	}

	for _, a := range allowed {
		if role == a {
			return role, nil
		}
	}

	return role, ErrForbidden
}
