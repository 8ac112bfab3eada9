package models

import "time"

// Виды отложенной работы по площадке
//
// Планировщик хранит не больше одной единицы работы на площадку;
// crank выполняет одну единицу за вызов, чтобы бэклог по многим
// площадкам дренировался инкрементально
const (
	WorkReconcilePositions = "reconcile_positions"
	WorkSettlePending      = "settle_pending"
	WorkRefreshShareValue  = "refresh_share_value"
	WorkCloseExtraPosition = "close_extra_position"
)

// MarketWorkInfo - невыполненная работа по сверке для одной площадки
type MarketWorkInfo struct {
	MarketID    string    `json:"market_id" db:"market_id"`
	Kind        string    `json:"kind" db:"kind"`
	PositionID  string    `json:"position_id,omitempty" db:"position_id"` // для close_extra_position
	RequestedAt time.Time `json:"requested_at" db:"requested_at"`
}
