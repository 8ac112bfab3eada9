package repository

import (
	"database/sql"
	"errors"
	"time"

	"fundpool/internal/models"
)

// Ошибки репозитория площадок
var (
	ErrMarketNotFound = errors.New("market not found")
)

// MarketRepository - работа с таблицами markets и registry_sync
//
// markets - локальная копия реестра торговых площадок;
// registry_sync - единственная строка с состоянием последнего опроса реестра
type MarketRepository struct {
	db *sql.DB
	q  querier
}

// NewMarketRepository создает новый экземпляр репозитория
func NewMarketRepository(db *sql.DB) *MarketRepository {
	return &MarketRepository{db: db, q: db}
}

// WithTx возвращает копию репозитория, выполняющую запросы в транзакции
func (r *MarketRepository) WithTx(tx *sql.Tx) *MarketRepository {
	return &MarketRepository{db: r.db, q: tx}
}

// Upsert добавляет площадку либо обновляет ее параметры
func (r *MarketRepository) Upsert(market *models.MarketInfo) error {
	query := `
		INSERT INTO markets (id, address, token, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET address = $2, token = $3`

	if market.CreatedAt.IsZero() {
		market.CreatedAt = time.Now()
	}

	_, err := r.q.Exec(query, market.ID, market.Address, market.Token, market.CreatedAt)
	return err
}

// GetByID возвращает площадку по идентификатору
func (r *MarketRepository) GetByID(id string) (*models.MarketInfo, error) {
	query := `
		SELECT id, address, token, created_at
		FROM markets
		WHERE id = $1`

	market := &models.MarketInfo{}
	err := r.q.QueryRow(query, id).Scan(
		&market.ID,
		&market.Address,
		&market.Token,
		&market.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMarketNotFound
		}
		return nil, err
	}

	return market, nil
}

// List возвращает все известные площадки
func (r *MarketRepository) List() ([]*models.MarketInfo, error) {
	query := `
		SELECT id, address, token, created_at
		FROM markets
		ORDER BY id ASC`

	rows, err := r.q.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []*models.MarketInfo
	for rows.Next() {
		market := &models.MarketInfo{}
		err := rows.Scan(&market.ID, &market.Address, &market.Token, &market.CreatedAt)
		if err != nil {
			return nil, err
		}
		markets = append(markets, market)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return markets, nil
}

// Delete удаляет площадку, исчезнувшую из реестра
func (r *MarketRepository) Delete(id string) error {
	result, err := r.q.Exec(`DELETE FROM markets WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrMarketNotFound
	}

	return nil
}

// ============================================================
// Состояние синхронизации реестра
// ============================================================

// GetSyncStatus возвращает состояние последнего опроса реестра
// Отсутствующая строка означает, что опрос еще не выполнялся
func (r *MarketRepository) GetSyncStatus() (*models.RegistrySyncStatus, error) {
	query := `
		SELECT last_check, status, last_error
		FROM registry_sync
		WHERE id = 1`

	st := &models.RegistrySyncStatus{}
	err := r.q.QueryRow(query).Scan(&st.LastCheck, &st.Status, &st.LastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.RegistrySyncStatus{Status: models.RegistrySyncIdle}, nil
		}
		return nil, err
	}

	return st, nil
}

// SetSyncStatus записывает состояние опроса реестра
func (r *MarketRepository) SetSyncStatus(st *models.RegistrySyncStatus) error {
	query := `
		INSERT INTO registry_sync (id, last_check, status, last_error)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id)
		DO UPDATE SET last_check = $1, status = $2, last_error = $3`

	_, err := r.q.Exec(query, st.LastCheck, st.Status, st.LastError)
	return err
}
