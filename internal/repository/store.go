package repository

import (
	"database/sql"
	"fmt"
)

// Store объединяет все репозитории над одним подключением к БД
//
// Atomic выдает копию Store, привязанную к одной транзакции: settlement
// элемента очереди трогает несколько таблиц (очередь, доли, тоталы,
// позиции), и либо применяется целиком, либо откатывается
type Store struct {
	db *sql.DB

	pool      *PoolRepository
	queue     *QueueRepository
	shares    *ShareRepository
	markets   *MarketRepository
	positions *PositionRepository
	work      *WorkRepository
}

// NewStore создает Store поверх подключения к БД
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:        db,
		pool:      NewPoolRepository(db),
		queue:     NewQueueRepository(db),
		shares:    NewShareRepository(db),
		markets:   NewMarketRepository(db),
		positions: NewPositionRepository(db),
		work:      NewWorkRepository(db),
	}
}

// Pool возвращает репозиторий конфигурации пула
func (s *Store) Pool() *PoolRepository { return s.pool }

// Queue возвращает репозиторий очередей
func (s *Store) Queue() *QueueRepository { return s.queue }

// Shares возвращает репозиторий долей
func (s *Store) Shares() *ShareRepository { return s.shares }

// Markets возвращает репозиторий зеркала реестра
func (s *Store) Markets() *MarketRepository { return s.markets }

// Positions возвращает репозиторий зеркала позиций
func (s *Store) Positions() *PositionRepository { return s.positions }

// Work возвращает репозиторий планировщика работ
func (s *Store) Work() *WorkRepository { return s.work }

// Atomic выполняет fn внутри одной транзакции
// Ошибка fn откатывает все изменения и возвращается вызывающему как есть
func (s *Store) Atomic(fn func(tx *Store) error) error {
	dbTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &Store{
		db:        s.db,
		pool:      s.pool, // конфигурация пула внутри settlement только читается
		queue:     s.queue.WithTx(dbTx),
		shares:    s.shares.WithTx(dbTx),
		markets:   s.markets.WithTx(dbTx),
		positions: s.positions.WithTx(dbTx),
		work:      s.work.WithTx(dbTx),
	}

	if err := fn(txStore); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	return dbTx.Commit()
}
