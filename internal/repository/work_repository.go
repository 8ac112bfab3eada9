package repository

import (
	"database/sql"
	"errors"
	"time"

	"fundpool/internal/models"
)

// Ошибки репозитория работ
var (
	ErrWorkNotFound = errors.New("market work not found")
)

// WorkRepository - работа с таблицей market_work
//
// Хранит не больше одной единицы работы на площадку; повторное
// планирование той же площадки не перетирает уже назначенную работу
type WorkRepository struct {
	db *sql.DB
	q  querier
}

// NewWorkRepository создает новый экземпляр репозитория
func NewWorkRepository(db *sql.DB) *WorkRepository {
	return &WorkRepository{db: db, q: db}
}

// WithTx возвращает копию репозитория, выполняющую запросы в транзакции
func (r *WorkRepository) WithTx(tx *sql.Tx) *WorkRepository {
	return &WorkRepository{db: r.db, q: tx}
}

// Schedule назначает работу площадке, если работа еще не назначена
// Возвращает true, если работа была записана
func (r *WorkRepository) Schedule(w *models.MarketWorkInfo) (bool, error) {
	query := `
		INSERT INTO market_work (market_id, kind, position_id, requested_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id) DO NOTHING`

	if w.RequestedAt.IsZero() {
		w.RequestedAt = time.Now()
	}

	result, err := r.q.Exec(query, w.MarketID, w.Kind, w.PositionID, w.RequestedAt)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// Replace безусловно перезаписывает работу площадки
// Используется при смене фазы сверки (reconcile -> settle -> refresh)
func (r *WorkRepository) Replace(w *models.MarketWorkInfo) error {
	query := `
		INSERT INTO market_work (market_id, kind, position_id, requested_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id)
		DO UPDATE SET kind = $2, position_id = $3, requested_at = $4`

	if w.RequestedAt.IsZero() {
		w.RequestedAt = time.Now()
	}

	_, err := r.q.Exec(query, w.MarketID, w.Kind, w.PositionID, w.RequestedAt)
	return err
}

// Get возвращает назначенную работу площадки
func (r *WorkRepository) Get(marketID string) (*models.MarketWorkInfo, error) {
	query := `
		SELECT market_id, kind, position_id, requested_at
		FROM market_work
		WHERE market_id = $1`

	w := &models.MarketWorkInfo{}
	err := r.q.QueryRow(query, marketID).Scan(&w.MarketID, &w.Kind, &w.PositionID, &w.RequestedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkNotFound
		}
		return nil, err
	}

	return w, nil
}

// Next возвращает самую старую назначенную работу (одна единица на crank)
func (r *WorkRepository) Next() (*models.MarketWorkInfo, error) {
	query := `
		SELECT market_id, kind, position_id, requested_at
		FROM market_work
		ORDER BY requested_at ASC
		LIMIT 1`

	w := &models.MarketWorkInfo{}
	err := r.q.QueryRow(query).Scan(&w.MarketID, &w.Kind, &w.PositionID, &w.RequestedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkNotFound
		}
		return nil, err
	}

	return w, nil
}

// List возвращает все назначенные работы
func (r *WorkRepository) List() ([]*models.MarketWorkInfo, error) {
	query := `
		SELECT market_id, kind, position_id, requested_at
		FROM market_work
		ORDER BY requested_at ASC`

	rows, err := r.q.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var work []*models.MarketWorkInfo
	for rows.Next() {
		w := &models.MarketWorkInfo{}
		err := rows.Scan(&w.MarketID, &w.Kind, &w.PositionID, &w.RequestedAt)
		if err != nil {
			return nil, err
		}
		work = append(work, w)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return work, nil
}

// Delete снимает работу с площадки (единица выполнена)
func (r *WorkRepository) Delete(marketID string) error {
	result, err := r.q.Exec(`DELETE FROM market_work WHERE market_id = $1`, marketID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrWorkNotFound
	}

	return nil
}

// Count возвращает количество площадок с назначенной работой
func (r *WorkRepository) Count() (int, error) {
	var count int
	err := r.q.QueryRow(`SELECT COUNT(*) FROM market_work`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
