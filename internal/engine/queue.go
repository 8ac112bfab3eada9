package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
	"fundpool/internal/repository"
	"fundpool/internal/venue"
	"fundpool/pkg/utils"
)

// settleNext разрешает первый неразрешенный элемент очереди direction
//
// Строгий порядок: обрабатывается только элемент с id = last_processed + 1.
// Возвращает id разрешенного элемента (0 - ничего не разрешено) и признак
// отправки отложенного вызова.
//
// Правила слота ожидания:
//   - если слот занят элементом ЭТОЙ очереди, очередь стоит целиком
//     (следующий элемент и есть ожидающий);
//   - если слот занят элементом другой очереди, синхронные элементы этой
//     очереди продолжают разрешаться, но новый отложенный вызов не отправляется
func (e *Engine) settleNext(ctx context.Context, direction string) (int64, bool, error) {
	marker, err := e.stores.Queue().ReplyMarker()
	if err != nil {
		return 0, false, err
	}
	if marker != nil && marker.Direction == direction {
		return 0, false, nil
	}

	item, err := e.stores.Queue().NextPending(direction)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return 0, false, nil // очередь дренирована
		}
		return 0, false, err
	}

	if item.Item.RequiresDispatch() {
		if marker != nil {
			return 0, false, nil // слот занят другой очередью
		}
		dispatched, err := e.dispatch(ctx, item)
		return 0, dispatched, err
	}

	if err := e.settleSync(item); err != nil {
		return 0, false, err
	}
	return item.ID, false, nil
}

// settleSync разрешает синхронный элемент (deposit/withdraw/reinvest_yield)
//
// Ошибки предметной области помечают элемент failed и продвигают указатель;
// инфраструктурные ошибки оставляют элемент pending для повтора
func (e *Engine) settleSync(item *models.QueueItemRecord) error {
	var settleErr error
	switch item.Item.Kind {
	case models.ItemDeposit:
		settleErr = e.settleDeposit(item)
	case models.ItemWithdraw:
		settleErr = e.settleWithdraw(item)
	case models.ItemReinvestYield:
		settleErr = e.settleReinvestYield(item)
	default:
		settleErr = fmt.Errorf("%w: %s", models.ErrUnknownItemKind, item.Item.Kind)
	}

	if settleErr == nil {
		e.logSettled(item, models.StatusFinished, "")
		return nil
	}

	if isBusinessError(settleErr) {
		return e.failItem(item, settleErr.Error())
	}
	return settleErr
}

// settleDeposit чеканит доли по NAV на момент settlement
// Пустой пул (shares == 0) чеканит 1:1
func (e *Engine) settleDeposit(item *models.QueueItemRecord) error {
	return e.stores.Atomic(func(tx Stores) error {
		price, err := e.sharePriceTx(tx, item.Item.Token)
		if err != nil {
			return err
		}

		minted, err := models.SafeDiv(item.Item.Amount, price)
		if err != nil {
			return err
		}

		if err := tx.Shares().ApplyTotals(item.Item.Token, item.Item.Amount, minted); err != nil {
			return err
		}
		if err := tx.Shares().AddShares(item.Wallet, item.Item.Token, minted); err != nil {
			return err
		}

		return e.finishItemTx(tx, item)
	})
}

// settleWithdraw гасит доли по NAV на момент settlement
//
// Amount - количество долей. Выплата ограничена незадействованным
// коллатералом: если средства связаны в позициях, элемент failed,
// вкладчик ставит запрос заново
func (e *Engine) settleWithdraw(item *models.QueueItemRecord) error {
	return e.stores.Atomic(func(tx Stores) error {
		price, err := e.sharePriceTx(tx, item.Item.Token)
		if err != nil {
			return err
		}

		payout := item.Item.Amount.Mul(price)

		// выплата только из незадействованного коллатерала
		totals, err := tx.Shares().GetTotals(item.Item.Token)
		if err != nil {
			return err
		}
		if _, err := models.CheckedSub(totals.Collateral, payout); err != nil {
			return err
		}

		if err := tx.Shares().SubShares(item.Wallet, item.Item.Token, item.Item.Amount); err != nil {
			return err
		}
		if err := tx.Shares().ApplyTotals(item.Item.Token, payout.Neg(), item.Item.Amount.Neg()); err != nil {
			return err
		}

		return e.finishItemTx(tx, item)
	})
}

// settleReinvestYield переносит накопленный доход в коллатерал пула
//
// Комиссия лидера: доля CommissionRate от дохода компенсируется лидеру
// чеканкой долей по цене до зачисления дохода; остаток дохода повышает
// NAV всех держателей
func (e *Engine) settleReinvestYield(item *models.QueueItemRecord) error {
	pool, err := e.stores.Pool().Get()
	if err != nil {
		return err
	}

	return e.stores.Atomic(func(tx Stores) error {
		yield, err := tx.Shares().TakeYield(item.Item.Token)
		if err != nil {
			return err
		}

		if yield.IsZero() {
			return e.finishItemTx(tx, item)
		}

		price, err := e.sharePriceTx(tx, item.Item.Token)
		if err != nil {
			return err
		}

		commission := yield.Mul(pool.CommissionRate)
		minted, err := models.SafeDiv(commission, price)
		if err != nil {
			return err
		}

		if err := tx.Shares().ApplyTotals(item.Item.Token, yield, minted); err != nil {
			return err
		}
		if minted.IsPositive() {
			if err := tx.Shares().AddShares(pool.Leader, item.Item.Token, minted); err != nil {
				return err
			}
		}

		return e.finishItemTx(tx, item)
	})
}

// dispatch отправляет отложенный исполняющий вызов площадки
//
// Decrease-элементы резервируют коллатерал ДО отправки: к моменту reply
// средства уже выведены из незадействованного пула. Вызов отправляется
// ровно один раз; ошибка немедленной отправки снимает резерв и помечает
// элемент failed, ответ на успешно отправленный вызов придет в OnReply
func (e *Engine) dispatch(ctx context.Context, item *models.QueueItemRecord) (bool, error) {
	market, err := e.stores.Markets().GetByID(item.Item.MarketID)
	if err != nil {
		if isBusinessError(err) {
			return false, e.failItem(item, err.Error())
		}
		return false, err
	}

	if item.Item.Kind == models.ItemOpenPosition {
		count, err := e.stores.Positions().CountByMarket(market.ID)
		if err != nil {
			return false, err
		}
		if count >= e.cfg.MaxPositionsPerMarket {
			return false, e.failItem(item, ErrTooManyPositions.Error())
		}
	}

	reserve := dispatchReserve(&item.Item)

	err = e.stores.Atomic(func(tx Stores) error {
		if reserve.IsPositive() {
			if err := tx.Shares().ApplyTotals(item.Item.Token, reserve.Neg(), decimal.Zero); err != nil {
				return err
			}
		}
		return tx.Queue().SetReplyMarker(item.Direction, item.ID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrReplyOutstanding) {
			// слот заняли между проверкой и резервом; повтор следующим crank'ом
			return false, nil
		}
		if isBusinessError(err) {
			return false, e.failItem(item, err.Error())
		}
		return false, err
	}

	client, err := e.venues.VenueFor(market)
	if err != nil {
		return false, e.abortDispatch(item, reserve, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.VenueExecuteTimeout)
	defer cancel()

	start := time.Now()
	ack, err := client.Execute(execCtx, &venue.ExecuteRequest{
		Kind:       item.Item.Kind,
		ItemID:     item.ID,
		PositionID: item.Item.PositionID,
		Side:       item.Item.Side,
		Amount:     item.Item.Amount,
		Leverage:   item.Item.Leverage,
		Token:      item.Item.Token,
	})
	VenueCallLatency.WithLabelValues(market.ID, "execute").
		Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		// вызов не принят площадкой; резерв снимается, элемент failed
		return false, e.abortDispatch(item, reserve, err)
	}

	DispatchesTotal.WithLabelValues(item.Item.Kind).Inc()
	e.logger.Info("deferred call dispatched",
		utils.QueueID(item.ID),
		utils.Direction(item.Direction),
		utils.ItemKind(item.Item.Kind),
		utils.Market(market.ID),
		utils.String("ack_id", ack))

	return true, nil
}

// abortDispatch откатывает неудавшуюся отправку: освобождает слот,
// возвращает резерв и помечает элемент failed
func (e *Engine) abortDispatch(item *models.QueueItemRecord, reserve decimal.Decimal, cause error) error {
	err := e.stores.Atomic(func(tx Stores) error {
		if err := tx.Queue().ClearReplyMarker(); err != nil {
			return err
		}
		if reserve.IsPositive() {
			if err := tx.Shares().ApplyTotals(item.Item.Token, reserve, decimal.Zero); err != nil {
				return err
			}
		}
		if err := tx.Queue().MarkFailed(item.Direction, item.ID, cause.Error()); err != nil {
			return err
		}
		return tx.Queue().AdvanceProcessed(item.Direction, item.ID)
	})
	if err != nil {
		return fmt.Errorf("abort dispatch of item %d: %w", item.ID, err)
	}

	SettlementsTotal.WithLabelValues(item.Direction, models.StatusFailed).Inc()
	e.logSettled(item, models.StatusFailed, cause.Error())
	e.broadcastItem(item)
	return nil
}

// failItem помечает элемент failed и продвигает указатель
// Неудачный элемент - разрешенный элемент: очередь не останавливается
func (e *Engine) failItem(item *models.QueueItemRecord, reason string) error {
	err := e.stores.Atomic(func(tx Stores) error {
		if err := tx.Queue().MarkFailed(item.Direction, item.ID, reason); err != nil {
			return err
		}
		return tx.Queue().AdvanceProcessed(item.Direction, item.ID)
	})
	if err != nil {
		return err
	}

	SettlementsTotal.WithLabelValues(item.Direction, models.StatusFailed).Inc()
	e.logSettled(item, models.StatusFailed, reason)
	e.broadcastItem(item)
	return nil
}

// finishItemTx помечает элемент finished и продвигает указатель в рамках
// той же транзакции, что и изменения леджера
func (e *Engine) finishItemTx(tx Stores, item *models.QueueItemRecord) error {
	if err := tx.Queue().MarkFinished(item.Direction, item.ID); err != nil {
		return err
	}
	if err := tx.Queue().AdvanceProcessed(item.Direction, item.ID); err != nil {
		return err
	}
	SettlementsTotal.WithLabelValues(item.Direction, models.StatusFinished).Inc()
	e.broadcastItem(item)
	return nil
}

func (e *Engine) logSettled(item *models.QueueItemRecord, status, reason string) {
	fields := []utils.Field{
		utils.QueueID(item.ID),
		utils.Direction(item.Direction),
		utils.ItemKind(item.Item.Kind),
		utils.Wallet(item.Wallet),
		utils.State(status),
	}
	if reason != "" {
		fields = append(fields, utils.String("reason", reason))
	}
	e.logger.Info("queue item settled", fields...)
}

func (e *Engine) broadcastItem(item *models.QueueItemRecord) {
	if e.hub == nil {
		return
	}
	rec, err := e.stores.Queue().GetByID(item.Direction, item.ID)
	if err != nil {
		rec = item
	}
	e.hub.BroadcastQueueUpdate(rec)
}

// dispatchReserve возвращает коллатерал, резервируемый до отправки вызова
// Increase-элементы (close, withdraw_liquidity) ничего не резервируют:
// их исполнение возвращает средства в пул
func dispatchReserve(item *models.QueueItem) decimal.Decimal {
	switch item.Kind {
	case models.ItemOpenPosition, models.ItemUpdatePosition, models.ItemProvideLiquidity:
		return item.Amount
	}
	return decimal.Zero
}
