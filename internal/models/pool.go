package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolConfig представляет конфигурацию пула (единственная запись, id=1)
//
// Лидер - единственный аккаунт, которому разрешено направлять торговые
// действия пула. Админ управляет конфигурацией; передача прав админа
// проходит в два шага (pending_admin + accept).
type PoolConfig struct {
	ID             int             `json:"id" db:"id"`
	Admin          string          `json:"admin" db:"admin"`
	PendingAdmin   *string         `json:"pending_admin,omitempty" db:"pending_admin"`
	Factory        string          `json:"factory" db:"factory"` // адрес реестра-фабрики
	Leader         string          `json:"leader" db:"leader"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description" db:"description"`
	CommissionRate decimal.Decimal `json:"commission_rate" db:"commission_rate"` // доля лидера от прибыли, 0..1
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// ConfigUpdate - частичное обновление конфигурации (PATCH семантика)
// nil-поля не трогаются
type ConfigUpdate struct {
	Name           *string          `json:"name,omitempty"`
	Description    *string          `json:"description,omitempty"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
	PendingAdmin   *string          `json:"pending_admin,omitempty"`
}

// FactoryConfigUpdate - обновление, доступное только фабрике-реестру
type FactoryConfigUpdate struct {
	Leader *string `json:"leader,omitempty"`
}

// Validate проверяет диапазоны значений обновления
func (u *ConfigUpdate) Validate() error {
	if u.Name != nil && *u.Name == "" {
		return ErrEmptyName
	}
	if u.CommissionRate != nil {
		if u.CommissionRate.IsNegative() || u.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
			return ErrBadCommission
		}
	}
	return nil
}
