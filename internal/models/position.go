package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionInfo - сверенная открытая позиция пула на площадке
// ActiveCollateral всегда строго положителен: позиция с нулевым
// коллатералом считается закрытой и удаляется из зеркала
type PositionInfo struct {
	ID               string          `json:"id" db:"id"`
	MarketID         string          `json:"market_id" db:"market_id"`
	Side             string          `json:"side" db:"side"`
	ActiveCollateral decimal.Decimal `json:"active_collateral" db:"active_collateral"`
	PnlCollateral    decimal.Decimal `json:"pnl_collateral" db:"pnl_collateral"` // unrealized, знаковый
	PnlUsd           decimal.Decimal `json:"pnl_usd" db:"pnl_usd"`               // unrealized, знаковый
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Виды отложенных подтверждений позиций
const (
	PendingOpen   = "open"
	PendingUpdate = "update"
	PendingClose  = "close"
)

// PendingPosition - позиция, чьё состояние на площадке изменилось,
// но локально ещё не применено (ждёт settle-шага crank'а)
type PendingPosition struct {
	MarketID   string    `json:"market_id" db:"market_id"`
	PositionID string    `json:"position_id" db:"position_id"`
	Kind       string    `json:"kind" db:"kind"` // open/update/close
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// MarketPositions - зеркало позиций одной площадки
type MarketPositions struct {
	MarketID string             `json:"market_id"`
	Open     []*PositionInfo    `json:"open"`
	Pending  []*PendingPosition `json:"pending"`
}
