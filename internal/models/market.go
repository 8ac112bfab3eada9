package models

import "time"

// MarketInfo - запись зеркала реестра площадок
// Вставляется при синхронизации с реестром; площадки не удаляются,
// поэтому запись неизменяема после вставки
type MarketInfo struct {
	ID        string    `json:"id" db:"id"`
	Address   string    `json:"address" db:"address"` // базовый URL площадки
	Token     string    `json:"token" db:"token"`     // токен расчётов
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Статусы синхронизации с реестром
const (
	RegistrySyncIdle       = "idle"
	RegistrySyncInProgress = "in_progress"
)

// RegistrySyncStatus - состояние последней синхронизации зеркала реестра
type RegistrySyncStatus struct {
	LastCheck time.Time `json:"last_check" db:"last_check"`
	Status    string    `json:"status" db:"status"`
	LastError string    `json:"last_error,omitempty" db:"last_error"`
}
