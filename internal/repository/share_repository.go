package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
)

// Ошибки репозитория долей
var (
	ErrBalanceNotFound        = errors.New("wallet share balance not found")
	ErrInsufficientShares     = errors.New("insufficient shares")
	ErrInsufficientCollateral = errors.New("insufficient pool collateral")
)

// ShareRepository - работа с таблицами wallet_shares, pool_totals и share_value
//
// Инварианты хранилища:
// - нулевые балансы удаляются, а не хранятся
// - collateral и shares в pool_totals никогда не уходят в минус
type ShareRepository struct {
	db *sql.DB
	q  querier
}

// NewShareRepository создает новый экземпляр репозитория
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db, q: db}
}

// WithTx возвращает копию репозитория, выполняющую запросы в транзакции
func (r *ShareRepository) WithTx(tx *sql.Tx) *ShareRepository {
	return &ShareRepository{db: r.db, q: tx}
}

// GetBalance возвращает баланс долей кошелька по токену
func (r *ShareRepository) GetBalance(wallet, token string) (*models.WalletShareBalance, error) {
	query := `
		SELECT wallet, token, shares, updated_at
		FROM wallet_shares
		WHERE wallet = $1 AND token = $2`

	bal := &models.WalletShareBalance{}
	err := r.q.QueryRow(query, wallet, token).Scan(
		&bal.Wallet,
		&bal.Token,
		&bal.Shares,
		&bal.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}

	return bal, nil
}

// AddShares начисляет доли кошельку (mint при депозите)
func (r *ShareRepository) AddShares(wallet, token string, amount decimal.Decimal) error {
	query := `
		INSERT INTO wallet_shares (wallet, token, shares, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet, token)
		DO UPDATE SET shares = wallet_shares.shares + $3, updated_at = $4`

	_, err := r.q.Exec(query, wallet, token, amount, time.Now())
	return err
}

// SubShares списывает доли кошелька (burn при выводе)
// Возвращает ErrInsufficientShares при недостатке; нулевой остаток удаляется
func (r *ShareRepository) SubShares(wallet, token string, amount decimal.Decimal) error {
	query := `
		UPDATE wallet_shares
		SET shares = shares - $3, updated_at = $4
		WHERE wallet = $1 AND token = $2 AND shares >= $3`

	result, err := r.q.Exec(query, wallet, token, amount, time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrInsufficientShares
	}

	// Нулевые балансы не храним
	_, err = r.q.Exec(`DELETE FROM wallet_shares WHERE wallet = $1 AND token = $2 AND shares = 0`, wallet, token)
	return err
}

// ListHolders возвращает держателей долей токена по убыванию баланса
// limit <= 0 снимает ограничение страницы (полный обход для проверок)
func (r *ShareRepository) ListHolders(token string, limit int) ([]*models.WalletShareBalance, error) {
	if limit <= 0 {
		limit = 1 << 30
	}

	query := `
		SELECT wallet, token, shares, updated_at
		FROM wallet_shares
		WHERE token = $1
		ORDER BY shares DESC
		LIMIT $2`

	rows, err := r.q.Query(query, token, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holders []*models.WalletShareBalance
	for rows.Next() {
		bal := &models.WalletShareBalance{}
		err := rows.Scan(&bal.Wallet, &bal.Token, &bal.Shares, &bal.UpdatedAt)
		if err != nil {
			return nil, err
		}
		holders = append(holders, bal)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return holders, nil
}

// ============================================================
// Агрегаты пула
// ============================================================

// GetTotals возвращает агрегаты пула по токену
// Отсутствующая строка означает нулевые агрегаты
func (r *ShareRepository) GetTotals(token string) (*models.Totals, error) {
	query := `
		SELECT token, collateral, shares, updated_at
		FROM pool_totals
		WHERE token = $1`

	totals := &models.Totals{}
	err := r.q.QueryRow(query, token).Scan(
		&totals.Token,
		&totals.Collateral,
		&totals.Shares,
		&totals.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.Totals{
				Token:      token,
				Collateral: decimal.Zero,
				Shares:     decimal.Zero,
			}, nil
		}
		return nil, err
	}

	return totals, nil
}

// ApplyTotals атомарно меняет агрегаты пула на указанные дельты
// Отклоняет изменение, уводящее collateral или shares в минус
func (r *ShareRepository) ApplyTotals(token string, dCollateral, dShares decimal.Decimal) error {
	query := `
		INSERT INTO pool_totals (token, collateral, shares, accrued_yield, updated_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (token)
		DO UPDATE SET
			collateral = pool_totals.collateral + $2,
			shares = pool_totals.shares + $3,
			updated_at = $4
		WHERE pool_totals.collateral + $2 >= 0 AND pool_totals.shares + $3 >= 0`

	if dCollateral.IsNegative() || dShares.IsNegative() {
		// Вставка новой строки с отрицательными значениями невозможна
		if exists, err := r.totalsExist(token); err != nil {
			return err
		} else if !exists {
			return ErrInsufficientCollateral
		}
	}

	result, err := r.q.Exec(query, token, dCollateral, dShares, time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrInsufficientCollateral
	}

	return nil
}

func (r *ShareRepository) totalsExist(token string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(`SELECT EXISTS(SELECT 1 FROM pool_totals WHERE token = $1)`, token).Scan(&exists)
	return exists, err
}

// AddYield накапливает доход площадок до реинвеста
func (r *ShareRepository) AddYield(token string, amount decimal.Decimal) error {
	query := `
		INSERT INTO pool_totals (token, collateral, shares, accrued_yield, updated_at)
		VALUES ($1, 0, 0, $2, $3)
		ON CONFLICT (token)
		DO UPDATE SET accrued_yield = pool_totals.accrued_yield + $2, updated_at = $3`

	_, err := r.q.Exec(query, token, amount, time.Now())
	return err
}

// TakeYield атомарно забирает накопленный доход и обнуляет счетчик
func (r *ShareRepository) TakeYield(token string) (decimal.Decimal, error) {
	query := `
		WITH old AS (
			SELECT accrued_yield FROM pool_totals WHERE token = $1
		)
		UPDATE pool_totals
		SET accrued_yield = 0, updated_at = $2
		WHERE token = $1
		RETURNING (SELECT accrued_yield FROM old)`

	var amount decimal.Decimal
	err := r.q.QueryRow(query, token, time.Now()).Scan(&amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}

	return amount, nil
}

// ============================================================
// Кэш стоимости доли
// ============================================================

// GetShareValue возвращает кэшированную стоимость одной доли
// Пока пул пуст (кэш не записан) стоимость равна 1.0
func (r *ShareRepository) GetShareValue(token string) (*models.LpTokenValue, error) {
	query := `
		SELECT token, value, computed_at
		FROM share_value
		WHERE token = $1`

	v := &models.LpTokenValue{}
	err := r.q.QueryRow(query, token).Scan(&v.Token, &v.Value, &v.ComputedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.LpTokenValue{
				Token: token,
				Value: decimal.NewFromInt(1),
			}, nil
		}
		return nil, err
	}

	return v, nil
}

// SetShareValue обновляет кэш стоимости доли
func (r *ShareRepository) SetShareValue(token string, value decimal.Decimal) error {
	query := `
		INSERT INTO share_value (token, value, computed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token)
		DO UPDATE SET value = $2, computed_at = $3`

	_, err := r.q.Exec(query, token, value, time.Now())
	return err
}
