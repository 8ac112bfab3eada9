package service

import (
	"github.com/shopspring/decimal"

	"fundpool/internal/models"
)

// PoolService предоставляет бизнес-логику для управления конфигурацией пула.
//
// Отвечает за:
// - Получение и частичное обновление конфигурации (имя, описание, комиссия)
// - Двухфазную передачу прав администратора (назначение + принятие)
// - Смену лидера пула по запросу фабрики-реестра
//
// Авторизация по ролям выполняется здесь, а не в middleware: у каждой
// операции свой список разрешенных ролей
type PoolService struct {
	poolRepo PoolRepositoryInterface
}

// NewPoolService создает новый экземпляр PoolService.
func NewPoolService(poolRepo PoolRepositoryInterface) *PoolService {
	return &PoolService{
		poolRepo: poolRepo,
	}
}

// GetConfig возвращает текущую конфигурацию пула.
// Доступно без авторизации
func (s *PoolService) GetConfig() (*models.PoolConfig, error) {
	return s.poolRepo.Get()
}

// InitPool создает единственную запись конфигурации пула.
//
// Доступно только фабрике. Повторная инициализация отклоняется
// репозиторием (ErrPoolAlreadyInit)
func (s *PoolService) InitPool(role string, cfg *models.PoolConfig) error {
	if role != RoleFactory {
		return ErrForbidden
	}

	if cfg.Admin == "" || cfg.Leader == "" || cfg.Factory == "" {
		return models.ErrEmptyWallet
	}
	if cfg.Name == "" {
		return models.ErrEmptyName
	}
	if cfg.CommissionRate.IsNegative() || cfg.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return models.ErrBadCommission
	}

	return s.poolRepo.Init(cfg)
}

// UpdateConfig применяет частичное обновление конфигурации.
//
// Доступно админу и лидеру; назначить pending_admin может только админ.
// nil-поля запроса не трогаются. Назначение pending_admin идет отдельным
// шагом двухфазной передачи: текущий админ сохраняет права, пока новый
// не примет их через AcceptAdmin
func (s *PoolService) UpdateConfig(role string, upd *models.ConfigUpdate) (*models.PoolConfig, error) {
	if role != RoleAdmin && role != RoleLeader {
		return nil, ErrForbidden
	}

	if err := upd.Validate(); err != nil {
		return nil, err
	}

	if upd.PendingAdmin != nil {
		if role != RoleAdmin {
			return nil, ErrForbidden
		}
		if *upd.PendingAdmin == "" {
			return nil, models.ErrEmptyWallet
		}
		if err := s.poolRepo.SetPendingAdmin(*upd.PendingAdmin); err != nil {
			return nil, err
		}
	}

	if upd.Name != nil || upd.Description != nil || upd.CommissionRate != nil {
		if err := s.poolRepo.UpdateConfig(upd); err != nil {
			return nil, err
		}
	}

	return s.poolRepo.Get()
}

// AcceptAdmin завершает передачу прав администратора.
//
// Вызывается кошельком, назначенным в pending_admin; роль-токен не
// требуется - репозиторий сверяет кошелек с ожидающим назначением
func (s *PoolService) AcceptAdmin(wallet string) (*models.PoolConfig, error) {
	if wallet == "" {
		return nil, models.ErrEmptyWallet
	}

	if err := s.poolRepo.AcceptAdmin(wallet); err != nil {
		return nil, err
	}

	return s.poolRepo.Get()
}

// UpdateLeader меняет лидера пула.
//
// Доступно только фабрике: лидер назначается реестром, а не админом
func (s *PoolService) UpdateLeader(role string, upd *models.FactoryConfigUpdate) (*models.PoolConfig, error) {
	if role != RoleFactory {
		return nil, ErrForbidden
	}

	if upd.Leader != nil {
		if *upd.Leader == "" {
			return nil, models.ErrEmptyWallet
		}
		if err := s.poolRepo.UpdateLeader(*upd.Leader); err != nil {
			return nil, err
		}
	}

	return s.poolRepo.Get()
}
