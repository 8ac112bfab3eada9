package service

import (
	"fundpool/internal/models"
	"fundpool/internal/repository"
)

// PoolRepositoryInterface определяет интерфейс репозитория конфигурации пула
type PoolRepositoryInterface interface {
	Init(cfg *models.PoolConfig) error
	Get() (*models.PoolConfig, error)
	UpdateConfig(upd *models.ConfigUpdate) error
	SetPendingAdmin(wallet string) error
	AcceptAdmin(wallet string) error
	UpdateLeader(leader string) error
}

// Проверяем, что реальный репозиторий реализует интерфейс
var _ PoolRepositoryInterface = (*repository.PoolRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// PoolServiceInterface определяет интерфейс сервиса конфигурации пула
type PoolServiceInterface interface {
	GetConfig() (*models.PoolConfig, error)
	InitPool(role string, cfg *models.PoolConfig) error
	UpdateConfig(role string, upd *models.ConfigUpdate) (*models.PoolConfig, error)
	AcceptAdmin(wallet string) (*models.PoolConfig, error)
	UpdateLeader(role string, upd *models.FactoryConfigUpdate) (*models.PoolConfig, error)
}

// AuthServiceInterface определяет интерфейс сервиса авторизации
type AuthServiceInterface interface {
	ResolveRole(token string) (string, error)
	RequireRole(token string, allowed ...string) (string, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ PoolServiceInterface = (*PoolService)(nil)
var _ AuthServiceInterface = (*AuthService)(nil)
