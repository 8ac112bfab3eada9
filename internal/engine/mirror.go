package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
	"fundpool/internal/repository"
	"fundpool/internal/venue"
	"fundpool/pkg/utils"
)

// Зеркало позиций.
//
// Жизненный цикл сверки одной площадки:
//   reconcile_positions -> settle_pending -> refresh_share_value
//
// reconcile читает истину площадки и сводит зеркало: новые позиции
// вставляются и помечаются pending open, исчезнувшие помечаются pending
// close (строка зеркала сохраняется до settle), существующие обновляются
// mark-to-market. settle применяет по одному отложенному подтверждению за
// вызов, проводя высвобожденный коллатерал закрытых позиций в тоталы.
// refresh фиксирует новый NAV в кэше стоимости доли.

// reconcilePositions сводит зеркало позиций площадки с ее состоянием
func (e *Engine) reconcilePositions(ctx context.Context, market *models.MarketInfo) error {
	client, err := e.venues.VenueFor(market)
	if err != nil {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.VenueQueryTimeout)
	defer cancel()

	start := time.Now()
	remote, err := client.QueryPositions(queryCtx)
	VenueCallLatency.WithLabelValues(market.ID, "query_positions").
		Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return err
	}

	// Накопленный доход снимается тем же опросом
	start = time.Now()
	yield, yieldErr := client.QueryYield(queryCtx)
	VenueCallLatency.WithLabelValues(market.ID, "query_yield").
		Observe(float64(time.Since(start).Milliseconds()))

	err = e.stores.Atomic(func(tx Stores) error {
		local, err := tx.Positions().ListByMarket(market.ID)
		if err != nil {
			return err
		}

		localByID := make(map[string]*models.PositionInfo, len(local))
		for _, p := range local {
			localByID[p.ID] = p
		}

		seen := make(map[string]bool, len(remote))
		for _, p := range remote {
			// нулевой коллатерал = позиция закрыта площадкой
			if !p.ActiveCollateral.IsPositive() {
				continue
			}
			seen[p.ID] = true

			if _, known := localByID[p.ID]; !known {
				if err := tx.Positions().AddPending(&models.PendingPosition{
					MarketID:   market.ID,
					PositionID: p.ID,
					Kind:       models.PendingOpen,
					CreatedAt:  time.Now(),
				}); err != nil {
					return err
				}
			}
			if err := tx.Positions().Upsert(p); err != nil {
				return err
			}
		}

		for _, p := range local {
			if seen[p.ID] {
				continue
			}
			// позиция исчезла с площадки: подтверждение закрытия применит settle
			if err := tx.Positions().AddPending(&models.PendingPosition{
				MarketID:   market.ID,
				PositionID: p.ID,
				Kind:       models.PendingClose,
				CreatedAt:  time.Now(),
			}); err != nil {
				return err
			}
		}

		if yieldErr == nil && yield.IsPositive() {
			if err := tx.Shares().AddYield(market.Token, yield); err != nil {
				return err
			}
		}

		return tx.Work().Replace(&models.MarketWorkInfo{
			MarketID:    market.ID,
			Kind:        models.WorkSettlePending,
			RequestedAt: time.Now(),
		})
	})
	if err != nil {
		return err
	}

	return e.checkPositionCount(market)
}

// settlePending применяет одно отложенное подтверждение позиции
//
// Закрытие проводит высвобожденный коллатерал (активный + PnL) в тоталы
// и удаляет строку зеркала. Открытие и обновление финансово уже учтены
// (резерв при диспатче, mark-to-market при reconcile), подтверждение
// только снимает отметку. Когда подтверждений не осталось, работа
// площадки переходит к refresh_share_value
func (e *Engine) settlePending(market *models.MarketInfo) error {
	return e.stores.Atomic(func(tx Stores) error {
		pending, err := tx.Positions().ListPendingByMarket(market.ID)
		if err != nil {
			return err
		}

		if len(pending) == 0 {
			return tx.Work().Replace(&models.MarketWorkInfo{
				MarketID:    market.ID,
				Kind:        models.WorkRefreshShareValue,
				RequestedAt: time.Now(),
			})
		}

		p := pending[0]
		switch p.Kind {
		case models.PendingClose:
			pos, err := tx.Positions().Get(p.MarketID, p.PositionID)
			if err != nil {
				if !errors.Is(err, repository.ErrPositionNotFound) {
					return err
				}
				// зеркало уже без позиции; высвобождать нечего
			} else {
				released := pos.ActiveCollateral.Add(pos.PnlCollateral)
				if released.IsPositive() {
					if err := tx.Shares().ApplyTotals(market.Token, released, decimal.Zero); err != nil {
						return err
					}
				}
				if err := tx.Positions().Delete(p.MarketID, p.PositionID); err != nil {
					return err
				}
			}
		case models.PendingOpen, models.PendingUpdate:
			// данные позиции уже в зеркале после reconcile
		default:
			return ErrUnknownWork
		}

		if err := tx.Positions().DeletePending(p.MarketID, p.PositionID, p.Kind); err != nil {
			return err
		}

		e.logger.Info("pending position change settled",
			utils.Market(p.MarketID),
			utils.PositionID(p.PositionID),
			utils.String("change", p.Kind))

		// остались подтверждения - работа остается settle_pending
		if len(pending) > 1 {
			return nil
		}
		return tx.Work().Replace(&models.MarketWorkInfo{
			MarketID:    market.ID,
			Kind:        models.WorkRefreshShareValue,
			RequestedAt: time.Now(),
		})
	})
}

// checkPositionCount планирует принудительное закрытие при переполнении
//
// Однозначный выбор: закрывается позиция с наименьшим активным
// коллатералом; произвольный выбор из нескольких кандидатов запрещен
func (e *Engine) checkPositionCount(market *models.MarketInfo) error {
	count, err := e.stores.Positions().CountByMarket(market.ID)
	if err != nil {
		return err
	}
	if count <= e.cfg.MaxPositionsPerMarket {
		return nil
	}

	positions, err := e.stores.Positions().ListByMarket(market.ID)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	smallest := positions[0]
	for _, p := range positions[1:] {
		if p.ActiveCollateral.LessThan(smallest.ActiveCollateral) {
			smallest = p
		}
	}

	e.logger.Warn("position limit exceeded, scheduling forced close",
		utils.Market(market.ID),
		utils.Int("count", count),
		utils.Int("limit", e.cfg.MaxPositionsPerMarket),
		utils.PositionID(smallest.ID))

	return e.stores.Work().Replace(&models.MarketWorkInfo{
		MarketID:    market.ID,
		Kind:        models.WorkCloseExtraPosition,
		PositionID:  smallest.ID,
		RequestedAt: time.Now(),
	})
}

// closeExtraPosition отправляет принудительное закрытие лишней позиции
//
// Вызов корректирующий и не проходит через очередь: слот ожидания reply
// не занимается, результат закрытия подберет следующая сверка
func (e *Engine) closeExtraPosition(ctx context.Context, market *models.MarketInfo, positionID string) error {
	client, err := e.venues.VenueFor(market)
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.VenueExecuteTimeout)
	defer cancel()

	start := time.Now()
	_, err = client.Execute(execCtx, &venue.ExecuteRequest{
		Kind:       models.ItemClosePosition,
		PositionID: positionID,
		Token:      market.Token,
	})
	VenueCallLatency.WithLabelValues(market.ID, "execute").
		Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return err
	}

	return e.stores.Work().Replace(&models.MarketWorkInfo{
		MarketID:    market.ID,
		Kind:        models.WorkReconcilePositions,
		RequestedAt: time.Now(),
	})
}

// MarketPositions возвращает зеркало позиций площадки со списком
// отложенных подтверждений
func (e *Engine) MarketPositions(marketID string) (*models.MarketPositions, error) {
	open, err := e.stores.Positions().ListByMarket(marketID)
	if err != nil {
		return nil, err
	}
	pending, err := e.stores.Positions().ListPendingByMarket(marketID)
	if err != nil {
		return nil, err
	}
	return &models.MarketPositions{
		MarketID: marketID,
		Open:     open,
		Pending:  pending,
	}, nil
}
