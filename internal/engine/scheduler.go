package engine

import (
	"context"
	"errors"
	"time"

	"fundpool/internal/models"
	"fundpool/internal/repository"
	"fundpool/pkg/utils"
)

// runMarketWork выполняет одну единицу работы планировщика
//
// Берется самая старая назначенная работа (round-robin дренаж бэклога по
// площадкам: выполненная работа либо удаляется, либо заменяется следующей
// фазой с новым requested_at и уходит в конец)
func (e *Engine) runMarketWork(ctx context.Context) (*models.MarketWorkInfo, error) {
	work, err := e.stores.Work().Next()
	if err != nil {
		if errors.Is(err, repository.ErrWorkNotFound) {
			return nil, nil
		}
		return nil, err
	}

	market, err := e.stores.Markets().GetByID(work.MarketID)
	if err != nil {
		if errors.Is(err, repository.ErrMarketNotFound) {
			// площадка исчезла из зеркала; работа не выполнима
			if delErr := e.stores.Work().Delete(work.MarketID); delErr != nil {
				return work, delErr
			}
			WorkUnitsTotal.WithLabelValues(work.Kind, "orphaned").Inc()
			return work, nil
		}
		return work, err
	}

	start := time.Now()
	switch work.Kind {
	case models.WorkReconcilePositions:
		err = e.reconcilePositions(ctx, market)
	case models.WorkSettlePending:
		err = e.settlePending(market)
	case models.WorkRefreshShareValue:
		_, err = e.refreshShareValue(market.Token)
		if err == nil {
			err = e.stores.Work().Delete(market.ID)
		}
	case models.WorkCloseExtraPosition:
		err = e.closeExtraPosition(ctx, market, work.PositionID)
	default:
		err = ErrUnknownWork
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	WorkUnitsTotal.WithLabelValues(work.Kind, result).Inc()

	e.logger.Debug("market work executed",
		utils.Market(work.MarketID),
		utils.WorkKind(work.Kind),
		utils.Latency(float64(time.Since(start).Milliseconds())),
		utils.Bool("ok", err == nil))

	if e.hub != nil {
		e.hub.BroadcastWorkUpdate(work.MarketID, work.Kind, err == nil)
	}

	return work, err
}

// MarketWork возвращает назначенную работу площадки (nil - работы нет)
func (e *Engine) MarketWork(marketID string) (*models.MarketWorkInfo, error) {
	work, err := e.stores.Work().Get(marketID)
	if err != nil {
		if errors.Is(err, repository.ErrWorkNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return work, nil
}

// ScheduleReconcile назначает сверку площадки, если работа еще не назначена
func (e *Engine) ScheduleReconcile(marketID string) (bool, error) {
	if _, err := e.stores.Markets().GetByID(marketID); err != nil {
		return false, err
	}
	return e.stores.Work().Schedule(&models.MarketWorkInfo{
		MarketID:    marketID,
		Kind:        models.WorkReconcilePositions,
		RequestedAt: time.Now(),
	})
}
