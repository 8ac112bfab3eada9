package handlers

import (
	"context"

	"fundpool/internal/engine"
	"fundpool/internal/models"
)

// EngineInterface определяет операции движка пула, нужные handlers
type EngineInterface interface {
	Crank(ctx context.Context) *engine.CrankSummary
	Enqueue(wallet string, item *models.QueueItem) (*models.QueueItemRecord, error)
	QueueStatus(direction string, startAfter int64, limit int) (*models.QueueStatus, error)
	WalletQueue(wallet string, startAfter int64, limit int) (*models.QueueStatus, error)
	OnReply(reply *models.VenueReply) error
	AwaitingReply() (*models.ReplyMarker, error)
	Balance(wallet, token string) (*models.Balance, error)
	Totals(token string) (*models.Totals, error)
	CurrentSharePrice(token string) (*models.LpTokenValue, error)
	Markets() ([]*models.MarketInfo, error)
	RegistrySync() (*models.RegistrySyncStatus, error)
	MarketPositions(marketID string) (*models.MarketPositions, error)
	MarketWork(marketID string) (*models.MarketWorkInfo, error)
	ScheduleReconcile(marketID string) (bool, error)
	CheckConsistency(tokens []string) (*engine.ConsistencyReport, error)
}

// Проверяем, что движок реализует интерфейс
var _ EngineInterface = (*engine.Engine)(nil)
