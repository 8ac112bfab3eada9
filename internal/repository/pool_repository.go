package repository

import (
	"database/sql"
	"errors"
	"time"

	"fundpool/internal/models"
)

// Ошибки репозитория конфигурации пула
var (
	ErrPoolNotFound    = errors.New("pool config not found")
	ErrNoPendingAdmin  = errors.New("no pending admin handover")
	ErrNotPendingAdmin = errors.New("wallet is not the pending admin")
	ErrPoolAlreadyInit = errors.New("pool config already initialized")
)

// PoolRepository - работа с таблицей pool_config (единственная строка)
type PoolRepository struct {
	db *sql.DB
}

// NewPoolRepository создает новый экземпляр репозитория
func NewPoolRepository(db *sql.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// Init создает запись конфигурации пула
// Вызывается один раз при развертывании; повторный вызов - ошибка
func (r *PoolRepository) Init(cfg *models.PoolConfig) error {
	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM pool_config WHERE id = 1)`).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrPoolAlreadyInit
	}

	query := `
		INSERT INTO pool_config (id, admin, pending_admin, factory, leader, name, description, commission_rate, created_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)`

	now := time.Now()
	cfg.ID = 1
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	_, err = r.db.Exec(
		query,
		cfg.Admin,
		cfg.PendingAdmin,
		cfg.Factory,
		cfg.Leader,
		cfg.Name,
		cfg.Description,
		cfg.CommissionRate,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)

	return err
}

// Get возвращает конфигурацию пула
func (r *PoolRepository) Get() (*models.PoolConfig, error) {
	query := `
		SELECT id, admin, pending_admin, factory, leader, name, description, commission_rate, created_at, updated_at
		FROM pool_config
		WHERE id = 1`

	cfg := &models.PoolConfig{}
	err := r.db.QueryRow(query).Scan(
		&cfg.ID,
		&cfg.Admin,
		&cfg.PendingAdmin,
		&cfg.Factory,
		&cfg.Leader,
		&cfg.Name,
		&cfg.Description,
		&cfg.CommissionRate,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}

	return cfg, nil
}

// UpdateConfig применяет частичное обновление конфигурации (только заданные поля)
func (r *PoolRepository) UpdateConfig(upd *models.ConfigUpdate) error {
	query := `
		UPDATE pool_config
		SET name = COALESCE($1, name),
		    description = COALESCE($2, description),
		    commission_rate = COALESCE($3, commission_rate),
		    updated_at = $4
		WHERE id = 1`

	result, err := r.db.Exec(query, upd.Name, upd.Description, upd.CommissionRate, time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPoolNotFound
	}

	return nil
}

// SetPendingAdmin начинает двухфазную передачу прав администратора
// Пока новый админ не принял права, текущий админ остается в силе
func (r *PoolRepository) SetPendingAdmin(wallet string) error {
	query := `
		UPDATE pool_config
		SET pending_admin = $1, updated_at = $2
		WHERE id = 1`

	result, err := r.db.Exec(query, wallet, time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPoolNotFound
	}

	return nil
}

// AcceptAdmin завершает передачу прав: pending_admin становится админом
// Принять может только кошелек, назначенный в pending_admin
func (r *PoolRepository) AcceptAdmin(wallet string) error {
	cfg, err := r.Get()
	if err != nil {
		return err
	}

	if cfg.PendingAdmin == nil {
		return ErrNoPendingAdmin
	}
	if *cfg.PendingAdmin != wallet {
		return ErrNotPendingAdmin
	}

	query := `
		UPDATE pool_config
		SET admin = $1, pending_admin = NULL, updated_at = $2
		WHERE id = 1`

	_, err = r.db.Exec(query, wallet, time.Now())
	return err
}

// UpdateLeader меняет лидера пула (доступно только фабрике)
func (r *PoolRepository) UpdateLeader(leader string) error {
	query := `
		UPDATE pool_config
		SET leader = $1, updated_at = $2
		WHERE id = 1`

	result, err := r.db.Exec(query, leader, time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPoolNotFound
	}

	return nil
}
