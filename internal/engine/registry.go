package engine

import (
	"context"
	"time"

	"fundpool/internal/models"
	"fundpool/pkg/utils"
)

// Зеркало реестра площадок.
//
// Реестр опрашивается не чаще RegistryRefreshInterval; зеркало append-only:
// площадки добавляются и никогда не удаляются. Новая площадка сразу
// получает работу сверки. Неудачный опрос не фатален - статус с ошибкой
// сохраняется и синхронизация повторится следующим подходящим crank'ом.

// refreshRegistryIfDue синхронизирует зеркало реестра, если пришло время
func (e *Engine) refreshRegistryIfDue(ctx context.Context, now time.Time) (bool, error) {
	st, err := e.stores.Markets().GetSyncStatus()
	if err != nil {
		return false, err
	}
	if now.Sub(st.LastCheck) < e.cfg.RegistryRefreshInterval {
		return false, nil
	}

	if err := e.stores.Markets().SetSyncStatus(&models.RegistrySyncStatus{
		LastCheck: now,
		Status:    models.RegistrySyncInProgress,
	}); err != nil {
		return false, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.VenueQueryTimeout)
	defer cancel()

	remote, err := e.registry.ListMarkets(queryCtx)
	if err != nil {
		RegistrySyncsTotal.WithLabelValues("error").Inc()
		e.logger.Warn("registry sync failed", utils.Err(err))
		if stErr := e.stores.Markets().SetSyncStatus(&models.RegistrySyncStatus{
			LastCheck: now,
			Status:    models.RegistrySyncIdle,
			LastError: err.Error(),
		}); stErr != nil {
			return false, stErr
		}
		return false, err
	}

	added := 0
	for _, m := range remote {
		existing, err := e.stores.Markets().GetByID(m.ID)
		if err == nil && existing != nil {
			continue
		}

		if err := e.stores.Markets().Upsert(m); err != nil {
			return false, err
		}
		added++

		// новая площадка: сверить позиции до первого использования
		if _, err := e.stores.Work().Schedule(&models.MarketWorkInfo{
			MarketID:    m.ID,
			Kind:        models.WorkReconcilePositions,
			RequestedAt: now,
		}); err != nil {
			return false, err
		}
	}

	if err := e.stores.Markets().SetSyncStatus(&models.RegistrySyncStatus{
		LastCheck: now,
		Status:    models.RegistrySyncIdle,
	}); err != nil {
		return false, err
	}

	RegistrySyncsTotal.WithLabelValues("ok").Inc()
	if added > 0 {
		e.logger.Info("registry mirror synchronized",
			utils.Int("known", len(remote)),
			utils.Int("added", added))
	}

	return true, nil
}

// Markets возвращает зеркало реестра площадок
func (e *Engine) Markets() ([]*models.MarketInfo, error) {
	return e.stores.Markets().List()
}

// RegistrySync возвращает состояние последней синхронизации
func (e *Engine) RegistrySync() (*models.RegistrySyncStatus, error) {
	return e.stores.Markets().GetSyncStatus()
}
