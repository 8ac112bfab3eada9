package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletShareBalance - доля кошелька в пуле по токену расчётов
// Нулевые балансы удаляются из хранилища, а не хранятся
type WalletShareBalance struct {
	Wallet    string          `json:"wallet" db:"wallet"`
	Token     string          `json:"token" db:"token"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Totals - агрегаты пула по токену расчётов
// Collateral - незадействованный коллатерал, Shares - выпущенные доли
// Оба значения никогда не уходят в минус
type Totals struct {
	Token      string          `json:"token" db:"token"`
	Collateral decimal.Decimal `json:"collateral" db:"collateral"`
	Shares     decimal.Decimal `json:"shares" db:"shares"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// LpTokenValue - кэшированная стоимость одной доли
// Обновляется, когда планировщик работ фиксирует изменение состояния площадки
type LpTokenValue struct {
	Token      string          `json:"token" db:"token"`
	Value      decimal.Decimal `json:"value" db:"value"`
	ComputedAt time.Time       `json:"computed_at" db:"computed_at"`
}

// Balance - ответ на запрос баланса кошелька: доли плюс их текущая стоимость
type Balance struct {
	Wallet     string          `json:"wallet"`
	Token      string          `json:"token"`
	Shares     decimal.Decimal `json:"shares"`
	Collateral decimal.Decimal `json:"collateral"` // shares * share_price
}
