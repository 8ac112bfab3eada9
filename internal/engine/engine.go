package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"fundpool/internal/config"
	"fundpool/internal/models"
	"fundpool/internal/repository"
	"fundpool/pkg/utils"
)

// Ошибки последовательности и авторизации движка
var (
	ErrNotLeader        = errors.New("wallet is not the pool leader")
	ErrReplyMismatch    = errors.New("reply does not match the awaited item")
	ErrTooManyPositions = errors.New("too many open positions on market")
	ErrUnknownWork      = errors.New("unknown market work kind")
)

// Engine - ядро пула
//
// Архитектура:
//   - ОДИН crank за раз: весь прогресс движка (settlement очередей, сверка
//     позиций, синхронизация реестра) проходит через Crank под мьютексом
//   - Каждый вызов crank делает ограниченный объем работы и заканчивается;
//     бэклог дренируется инкрементально следующими вызовами
//   - Внешние вызовы площадок выполняются вне транзакций БД
//
// Поток данных:
// API/тикер → Crank → [реестр | работа площадки | settle increase | settle decrease]
// reply площадки → OnReply → settlement отложенного элемента
type Engine struct {
	cfg config.CrankConfig

	stores   Stores
	registry RegistrySource
	venues   VenueProvider

	// WebSocket hub для отправки событий клиентам
	hub Hub

	logger *utils.Logger

	// crankMu сериализует Crank и OnReply: конкурентный settlement
	// нарушил бы строгий порядок очередей
	crankMu sync.Mutex
}

// CrankSummary - что сделал один вызов crank
type CrankSummary struct {
	StartedAt         time.Time `json:"started_at"`
	DurationMs        int64     `json:"duration_ms"`
	RegistryRefreshed bool      `json:"registry_refreshed"`
	WorkMarket        string    `json:"work_market,omitempty"`
	WorkKind          string    `json:"work_kind,omitempty"`
	SettledIncrease   int64     `json:"settled_increase,omitempty"` // id разрешенного элемента
	SettledDecrease   int64     `json:"settled_decrease,omitempty"`
	Dispatched        bool      `json:"dispatched"`
	Errors            []string  `json:"errors,omitempty"`
}

// Idle возвращает true, если crank не нашел никакой работы
func (s *CrankSummary) Idle() bool {
	return !s.RegistryRefreshed && s.WorkKind == "" &&
		s.SettledIncrease == 0 && s.SettledDecrease == 0 && !s.Dispatched &&
		len(s.Errors) == 0
}

// NewEngine создает движок пула
func NewEngine(cfg config.CrankConfig, stores Stores, registry RegistrySource, venues VenueProvider, hub Hub, logger *utils.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		stores:   stores,
		registry: registry,
		venues:   venues,
		hub:      hub,
		logger:   logger.WithComponent("engine"),
	}
}

// Run запускает фоновый crank-цикл
// Каждый тик выполняет один crank; явный POST /crank проходит тем же путем
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.CrankInterval)
	defer ticker.Stop()

	e.logger.Info("crank loop started",
		utils.String("interval", e.cfg.CrankInterval.String()))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("crank loop stopped")
			return ctx.Err()
		case <-ticker.C:
			summary := e.Crank(ctx)
			if len(summary.Errors) > 0 {
				e.logger.Warn("crank finished with errors",
					utils.Int("errors", len(summary.Errors)),
					utils.String("first", summary.Errors[0]))
			}
		}
	}
}

// Crank выполняет один ограниченный шаг работы движка
//
// Фиксированный приоритет:
//  1. синхронизация зеркала реестра (если пришло время)
//  2. одна единица работы по площадке
//  3. settlement одного элемента очереди increase
//  4. settlement одного элемента очереди decrease
//
// На дренированном состоянии crank - идемпотентный no-op.
// Ошибки внешних вызовов не фатальны: они логируются, элемент остается
// на месте и будет повторен следующим crank'ом
func (e *Engine) Crank(ctx context.Context) *CrankSummary {
	e.crankMu.Lock()
	defer e.crankMu.Unlock()

	start := time.Now()
	summary := &CrankSummary{StartedAt: start}

	refreshed, err := e.refreshRegistryIfDue(ctx, start)
	if err != nil {
		summary.Errors = append(summary.Errors, "registry: "+err.Error())
	}
	summary.RegistryRefreshed = refreshed

	work, err := e.runMarketWork(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, "work: "+err.Error())
	}
	if work != nil {
		summary.WorkMarket = work.MarketID
		summary.WorkKind = work.Kind
	}

	for _, direction := range []string{models.DirIncrease, models.DirDecrease} {
		settled, dispatched, err := e.settleNext(ctx, direction)
		if err != nil {
			summary.Errors = append(summary.Errors, direction+": "+err.Error())
		}
		if dispatched {
			summary.Dispatched = true
		}
		switch direction {
		case models.DirIncrease:
			summary.SettledIncrease = settled
		case models.DirDecrease:
			summary.SettledDecrease = settled
		}
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	CrankDuration.Observe(float64(summary.DurationMs))
	e.observeBacklog()

	if e.hub != nil && !summary.Idle() {
		e.hub.BroadcastCrankUpdate(summary)
	}

	return summary
}

// observeBacklog обновляет gauge глубины очередей и слота reply
func (e *Engine) observeBacklog() {
	for _, direction := range []string{models.DirIncrease, models.DirDecrease} {
		inserted, processed, err := e.stores.Queue().Pointers(direction)
		if err != nil {
			continue
		}
		QueueBacklog.WithLabelValues(direction).Set(float64(inserted - processed))
	}

	marker, err := e.stores.Queue().ReplyMarker()
	if err == nil {
		if marker != nil {
			ReplyAwaiting.Set(1)
		} else {
			ReplyAwaiting.Set(0)
		}
	}
}

// Enqueue валидирует запрос и ставит его в очередь по классификации
//
// Действия лидера принимаются только от кошелька-лидера из конфигурации
// пула. Сумма и стоимость доли фиксируются не здесь, а при settlement:
// очередь защищает вкладчиков от исполнения по устаревшему NAV
func (e *Engine) Enqueue(wallet string, item *models.QueueItem) (*models.QueueItemRecord, error) {
	if wallet == "" {
		return nil, models.ErrEmptyWallet
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	direction, err := models.Classify(item.Kind)
	if err != nil {
		return nil, err
	}

	if models.LeaderOnly(item.Kind) {
		pool, err := e.stores.Pool().Get()
		if err != nil {
			return nil, err
		}
		if pool.Leader != wallet {
			return nil, ErrNotLeader
		}
	}

	rec := &models.QueueItemRecord{
		Direction: direction,
		Wallet:    wallet,
		Item:      *item,
	}
	if err := e.stores.Queue().Enqueue(rec); err != nil {
		return nil, err
	}

	e.logger.Info("request enqueued",
		utils.QueueID(rec.ID),
		utils.Direction(direction),
		utils.ItemKind(item.Kind),
		utils.Wallet(wallet))

	if e.hub != nil {
		e.hub.BroadcastQueueUpdate(rec)
	}

	return rec, nil
}

// QueueStatus возвращает страницу очереди и позиции указателей
func (e *Engine) QueueStatus(direction string, startAfter int64, limit int) (*models.QueueStatus, error) {
	if limit <= 0 || limit > e.cfg.QueuePageLimit {
		limit = e.cfg.QueuePageLimit
	}

	items, err := e.stores.Queue().ListAfter(direction, startAfter, limit)
	if err != nil {
		return nil, err
	}

	processedTill := make(map[string]int64, 2)
	for _, d := range []string{models.DirIncrease, models.DirDecrease} {
		_, processed, err := e.stores.Queue().Pointers(d)
		if err != nil {
			return nil, err
		}
		processedTill[d] = processed
	}

	return &models.QueueStatus{Items: items, ProcessedTill: processedTill}, nil
}

// WalletQueue возвращает страницу запросов кошелька по обеим очередям
// вместе с позициями указателей обработки
func (e *Engine) WalletQueue(wallet string, startAfter int64, limit int) (*models.QueueStatus, error) {
	if wallet == "" {
		return nil, models.ErrEmptyWallet
	}
	if limit <= 0 || limit > e.cfg.QueuePageLimit {
		limit = e.cfg.QueuePageLimit
	}

	items, err := e.stores.Queue().ListByWallet(wallet, startAfter, limit)
	if err != nil {
		return nil, err
	}

	processedTill := make(map[string]int64, 2)
	for _, d := range []string{models.DirIncrease, models.DirDecrease} {
		_, processed, err := e.stores.Queue().Pointers(d)
		if err != nil {
			return nil, err
		}
		processedTill[d] = processed
	}

	return &models.QueueStatus{Items: items, ProcessedTill: processedTill}, nil
}

// isBusinessError отделяет ошибки предметной области (элемент должен быть
// помечен failed и указатель продвинут) от инфраструктурных (элемент
// остается pending и будет повторен)
func isBusinessError(err error) bool {
	return errors.Is(err, repository.ErrInsufficientShares) ||
		errors.Is(err, repository.ErrInsufficientCollateral) ||
		errors.Is(err, repository.ErrBalanceNotFound) ||
		errors.Is(err, repository.ErrMarketNotFound) ||
		errors.Is(err, repository.ErrPositionNotFound) ||
		errors.Is(err, ErrTooManyPositions) ||
		errors.Is(err, models.ErrInsufficient) ||
		errors.Is(err, models.ErrDivisionByZero)
}
