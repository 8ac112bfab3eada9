// Package engine реализует ядро пула: двойную упорядоченную очередь,
// crank-цикл, зеркала реестра и позиций, леджер долей и планировщик работ.
package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
	"fundpool/internal/venue"
)

// PoolStore - доступ к конфигурации пула
type PoolStore interface {
	Get() (*models.PoolConfig, error)
}

// QueueStore - доступ к очередям, указателям и слоту ожидания reply
type QueueStore interface {
	Enqueue(rec *models.QueueItemRecord) error
	GetByID(direction string, id int64) (*models.QueueItemRecord, error)
	NextPending(direction string) (*models.QueueItemRecord, error)
	ListAfter(direction string, afterID int64, limit int) ([]*models.QueueItemRecord, error)
	ListByWallet(wallet string, startAfter int64, limit int) ([]*models.QueueItemRecord, error)
	Pointers(direction string) (lastInserted, lastProcessed int64, err error)
	MarkFinished(direction string, id int64) error
	MarkFailed(direction string, id int64, reason string) error
	AdvanceProcessed(direction string, id int64) error
	ReplyMarker() (*models.ReplyMarker, error)
	SetReplyMarker(direction string, itemID int64) error
	ClearReplyMarker() error
}

// ShareStore - доступ к долям, тоталам и кэшу стоимости доли
type ShareStore interface {
	GetBalance(wallet, token string) (*models.WalletShareBalance, error)
	AddShares(wallet, token string, amount decimal.Decimal) error
	SubShares(wallet, token string, amount decimal.Decimal) error
	ListHolders(token string, limit int) ([]*models.WalletShareBalance, error)
	GetTotals(token string) (*models.Totals, error)
	ApplyTotals(token string, dCollateral, dShares decimal.Decimal) error
	AddYield(token string, amount decimal.Decimal) error
	TakeYield(token string) (decimal.Decimal, error)
	GetShareValue(token string) (*models.LpTokenValue, error)
	SetShareValue(token string, value decimal.Decimal) error
}

// MarketStore - доступ к зеркалу реестра площадок
type MarketStore interface {
	Upsert(market *models.MarketInfo) error
	GetByID(id string) (*models.MarketInfo, error)
	List() ([]*models.MarketInfo, error)
	GetSyncStatus() (*models.RegistrySyncStatus, error)
	SetSyncStatus(st *models.RegistrySyncStatus) error
}

// PositionStore - доступ к зеркалу позиций и списку отложенных изменений
type PositionStore interface {
	Upsert(pos *models.PositionInfo) error
	Get(marketID, positionID string) (*models.PositionInfo, error)
	ListByMarket(marketID string) ([]*models.PositionInfo, error)
	List() ([]*models.PositionInfo, error)
	Delete(marketID, positionID string) error
	CountByMarket(marketID string) (int, error)
	AddPending(p *models.PendingPosition) error
	ListPendingByMarket(marketID string) ([]*models.PendingPosition, error)
	DeletePending(marketID, positionID, kind string) error
}

// WorkStore - доступ к планировщику работ по площадкам
type WorkStore interface {
	Schedule(w *models.MarketWorkInfo) (bool, error)
	Replace(w *models.MarketWorkInfo) error
	Get(marketID string) (*models.MarketWorkInfo, error)
	Next() (*models.MarketWorkInfo, error)
	List() ([]*models.MarketWorkInfo, error)
	Delete(marketID string) error
}

// Stores - единая точка доступа к хранилищам
//
// Atomic выполняет fn в границах одной host-транзакции: все изменения
// settlement'а применяются целиком либо не применяются вовсе
type Stores interface {
	Pool() PoolStore
	Queue() QueueStore
	Shares() ShareStore
	Markets() MarketStore
	Positions() PositionStore
	Work() WorkStore
	Atomic(fn func(tx Stores) error) error
}

// VenueProvider выдает клиента площадки по записи зеркала реестра
type VenueProvider interface {
	VenueFor(market *models.MarketInfo) (venue.Venue, error)
}

// RegistrySource - источник истины о множестве площадок
type RegistrySource interface {
	ListMarkets(ctx context.Context) ([]*models.MarketInfo, error)
}

// Hub - серверный push событий движка подписчикам
type Hub interface {
	BroadcastQueueUpdate(item *models.QueueItemRecord)
	BroadcastNavUpdate(token string, value decimal.Decimal)
	BroadcastWorkUpdate(marketID, kind string, done bool)
	BroadcastCrankUpdate(summary *CrankSummary)
}
