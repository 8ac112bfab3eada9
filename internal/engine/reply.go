package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
	"fundpool/internal/repository"
)

// OnReply обрабатывает результат отложенного исполняющего вызова
//
// Reply без занятого слота и reply не к ожидаемому элементу - фатальные
// ошибки последовательности: они означают двойную доставку или потерю
// состояния и не должны глотаться.
//
// Успешный reply завершает элемент и оставляет изменение позиции в списке
// отложенных подтверждений; фактические суммы применит сверка с площадкой
// (reconcile -> settle_pending). Неуспешный reply возвращает резерв
// decrease-элемента и помечает элемент failed; указатель продвигается
// в обоих случаях
func (e *Engine) OnReply(reply *models.VenueReply) error {
	e.crankMu.Lock()
	defer e.crankMu.Unlock()

	marker, err := e.stores.Queue().ReplyMarker()
	if err != nil {
		return err
	}
	if marker == nil {
		RepliesTotal.WithLabelValues("sequence_error").Inc()
		return repository.ErrNoPendingReply
	}
	if marker.ItemID != reply.ItemID {
		RepliesTotal.WithLabelValues("sequence_error").Inc()
		return fmt.Errorf("%w: awaiting item %d, got reply for item %d",
			ErrReplyMismatch, marker.ItemID, reply.ItemID)
	}

	item, err := e.stores.Queue().GetByID(marker.Direction, marker.ItemID)
	if err != nil {
		return err
	}

	if reply.Success {
		err = e.settleReplySuccess(item, reply)
	} else {
		err = e.settleReplyFailure(item, reply)
	}
	if err != nil {
		return err
	}

	result := "failure"
	status := models.StatusFailed
	if reply.Success {
		result = "success"
		status = models.StatusFinished
	}
	RepliesTotal.WithLabelValues(result).Inc()
	SettlementsTotal.WithLabelValues(item.Direction, status).Inc()
	e.logSettled(item, status, reply.Reason)
	e.broadcastItem(item)

	return nil
}

// settleReplySuccess завершает элемент и планирует сверку площадки
func (e *Engine) settleReplySuccess(item *models.QueueItemRecord, reply *models.VenueReply) error {
	return e.stores.Atomic(func(tx Stores) error {
		if err := tx.Queue().ClearReplyMarker(); err != nil {
			return err
		}

		// withdraw_liquidity возвращает запрошенную сумму в пул сразу:
		// площадка подтвердила вывод
		if item.Item.Kind == models.ItemWithdrawLiquidity {
			if err := tx.Shares().ApplyTotals(item.Item.Token, item.Item.Amount, decimal.Zero); err != nil {
				return err
			}
		}

		if kind, positionID := pendingChange(item, reply); kind != "" {
			if err := tx.Positions().AddPending(&models.PendingPosition{
				MarketID:   item.Item.MarketID,
				PositionID: positionID,
				Kind:       kind,
				CreatedAt:  time.Now(),
			}); err != nil {
				return err
			}
		}

		// Изменение на площадке подтверждено: сверяем зеркало и пересчитываем NAV
		if _, err := tx.Work().Schedule(&models.MarketWorkInfo{
			MarketID:    item.Item.MarketID,
			Kind:        models.WorkReconcilePositions,
			RequestedAt: time.Now(),
		}); err != nil {
			return err
		}

		if err := tx.Queue().MarkFinished(item.Direction, item.ID); err != nil {
			return err
		}
		return tx.Queue().AdvanceProcessed(item.Direction, item.ID)
	})
}

// settleReplyFailure возвращает резерв и помечает элемент failed
func (e *Engine) settleReplyFailure(item *models.QueueItemRecord, reply *models.VenueReply) error {
	reason := reply.Reason
	if reason == "" {
		reason = "venue rejected the call"
	}

	return e.stores.Atomic(func(tx Stores) error {
		if err := tx.Queue().ClearReplyMarker(); err != nil {
			return err
		}

		if reserve := dispatchReserve(&item.Item); reserve.IsPositive() {
			if err := tx.Shares().ApplyTotals(item.Item.Token, reserve, decimal.Zero); err != nil {
				return err
			}
		}

		if err := tx.Queue().MarkFailed(item.Direction, item.ID, reason); err != nil {
			return err
		}
		return tx.Queue().AdvanceProcessed(item.Direction, item.ID)
	})
}

// pendingChange определяет вид отложенного подтверждения позиции
// Ликвидность позиций не создает; для открытия id позиции известен
// только из reply
func pendingChange(item *models.QueueItemRecord, reply *models.VenueReply) (kind, positionID string) {
	switch item.Item.Kind {
	case models.ItemOpenPosition:
		return models.PendingOpen, reply.PositionID
	case models.ItemUpdatePosition:
		return models.PendingUpdate, item.Item.PositionID
	case models.ItemClosePosition:
		return models.PendingClose, item.Item.PositionID
	}
	return "", ""
}

// AwaitingReply возвращает текущее состояние слота ожидания
func (e *Engine) AwaitingReply() (*models.ReplyMarker, error) {
	return e.stores.Queue().ReplyMarker()
}
