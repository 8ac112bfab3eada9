package repository

import (
	"database/sql"
	"errors"
	"time"

	"fundpool/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - работа с таблицами positions и pending_positions
//
// positions - зеркало сверенных открытых позиций пула;
// pending_positions - изменения на площадке, еще не примененные к леджеру
type PositionRepository struct {
	db *sql.DB
	q  querier
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db, q: db}
}

// WithTx возвращает копию репозитория, выполняющую запросы в транзакции
func (r *PositionRepository) WithTx(tx *sql.Tx) *PositionRepository {
	return &PositionRepository{db: r.db, q: tx}
}

// Upsert записывает сверенное состояние позиции
func (r *PositionRepository) Upsert(pos *models.PositionInfo) error {
	query := `
		INSERT INTO positions (id, market_id, side, active_collateral, pnl_collateral, pnl_usd, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id, market_id)
		DO UPDATE SET side = $3, active_collateral = $4, pnl_collateral = $5, pnl_usd = $6, updated_at = $7`

	pos.UpdatedAt = time.Now()

	_, err := r.q.Exec(
		query,
		pos.ID,
		pos.MarketID,
		pos.Side,
		pos.ActiveCollateral,
		pos.PnlCollateral,
		pos.PnlUsd,
		pos.UpdatedAt,
	)

	return err
}

// Get возвращает позицию по идентификатору
func (r *PositionRepository) Get(marketID, positionID string) (*models.PositionInfo, error) {
	query := `
		SELECT id, market_id, side, active_collateral, pnl_collateral, pnl_usd, updated_at
		FROM positions
		WHERE market_id = $1 AND id = $2`

	pos := &models.PositionInfo{}
	err := r.q.QueryRow(query, marketID, positionID).Scan(
		&pos.ID,
		&pos.MarketID,
		&pos.Side,
		&pos.ActiveCollateral,
		&pos.PnlCollateral,
		&pos.PnlUsd,
		&pos.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}

	return pos, nil
}

// ListByMarket возвращает открытые позиции площадки
func (r *PositionRepository) ListByMarket(marketID string) ([]*models.PositionInfo, error) {
	query := `
		SELECT id, market_id, side, active_collateral, pnl_collateral, pnl_usd, updated_at
		FROM positions
		WHERE market_id = $1
		ORDER BY id ASC`

	rows, err := r.q.Query(query, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanPositions(rows)
}

// List возвращает все открытые позиции пула
func (r *PositionRepository) List() ([]*models.PositionInfo, error) {
	query := `
		SELECT id, market_id, side, active_collateral, pnl_collateral, pnl_usd, updated_at
		FROM positions
		ORDER BY market_id ASC, id ASC`

	rows, err := r.q.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanPositions(rows)
}

// Delete удаляет закрытую позицию из зеркала
func (r *PositionRepository) Delete(marketID, positionID string) error {
	result, err := r.q.Exec(`DELETE FROM positions WHERE market_id = $1 AND id = $2`, marketID, positionID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

// DeleteByMarket удаляет все позиции площадки (площадка исчезла из реестра)
func (r *PositionRepository) DeleteByMarket(marketID string) error {
	_, err := r.q.Exec(`DELETE FROM positions WHERE market_id = $1`, marketID)
	return err
}

// CountByMarket возвращает количество открытых позиций на площадке
func (r *PositionRepository) CountByMarket(marketID string) (int, error) {
	var count int
	err := r.q.QueryRow(`SELECT COUNT(*) FROM positions WHERE market_id = $1`, marketID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ============================================================
// Отложенные подтверждения позиций
// ============================================================

// AddPending регистрирует изменение позиции, ожидающее применения
func (r *PositionRepository) AddPending(p *models.PendingPosition) error {
	query := `
		INSERT INTO pending_positions (market_id, position_id, kind, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id, position_id, kind) DO NOTHING`

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	_, err := r.q.Exec(query, p.MarketID, p.PositionID, p.Kind, p.CreatedAt)
	return err
}

// ListPendingByMarket возвращает неприменённые изменения площадки в порядке поступления
func (r *PositionRepository) ListPendingByMarket(marketID string) ([]*models.PendingPosition, error) {
	query := `
		SELECT market_id, position_id, kind, created_at
		FROM pending_positions
		WHERE market_id = $1
		ORDER BY created_at ASC`

	rows, err := r.q.Query(query, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*models.PendingPosition
	for rows.Next() {
		p := &models.PendingPosition{}
		err := rows.Scan(&p.MarketID, &p.PositionID, &p.Kind, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return pending, nil
}

// DeletePending удаляет примененное изменение
func (r *PositionRepository) DeletePending(marketID, positionID, kind string) error {
	query := `DELETE FROM pending_positions WHERE market_id = $1 AND position_id = $2 AND kind = $3`

	result, err := r.q.Exec(query, marketID, positionID, kind)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

// CountPendingByMarket возвращает количество неприменённых изменений площадки
func (r *PositionRepository) CountPendingByMarket(marketID string) (int, error) {
	var count int
	err := r.q.QueryRow(`SELECT COUNT(*) FROM pending_positions WHERE market_id = $1`, marketID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PositionRepository) scanPositions(rows *sql.Rows) ([]*models.PositionInfo, error) {
	var positions []*models.PositionInfo

	for rows.Next() {
		pos := &models.PositionInfo{}
		err := rows.Scan(
			&pos.ID,
			&pos.MarketID,
			&pos.Side,
			&pos.ActiveCollateral,
			&pos.PnlCollateral,
			&pos.PnlUsd,
			&pos.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}
