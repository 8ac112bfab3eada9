package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"fundpool/internal/models"
)

// Ошибки репозитория очередей
var (
	ErrItemNotFound     = errors.New("queue item not found")
	ErrBadStatus        = errors.New("invalid queue item status transition")
	ErrOutOfOrder       = errors.New("queue pointer advance out of order")
	ErrReplyOutstanding = errors.New("a dispatched call is already awaiting reply")
	ErrNoPendingReply   = errors.New("no dispatched call is awaiting reply")
)

// querier - общий интерфейс *sql.DB и *sql.Tx
// Позволяет выполнять методы репозитория внутри транзакции settlement'а
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// QueueRepository - работа с таблицами queue_items, queue_pointers и reply_marker
//
// Очереди append-only: id выдаются из queue_pointers.last_inserted строго
// монотонно в пределах направления, записи никогда не удаляются, статус
// меняется ровно один раз (pending -> finished/failed)
type QueueRepository struct {
	db *sql.DB
	q  querier
}

// NewQueueRepository создает новый экземпляр репозитория
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db, q: db}
}

// WithTx возвращает копию репозитория, выполняющую запросы в транзакции
func (r *QueueRepository) WithTx(tx *sql.Tx) *QueueRepository {
	return &QueueRepository{db: r.db, q: tx}
}

// Begin открывает транзакцию settlement'а
func (r *QueueRepository) Begin() (*sql.Tx, error) {
	return r.db.Begin()
}

// Enqueue добавляет запрос в хвост очереди направления
// Выдает следующий id из счетчика направления и заполняет ID/CreatedAt записи
func (r *QueueRepository) Enqueue(rec *models.QueueItemRecord) error {
	var nextID int64
	err := r.q.QueryRow(`
		UPDATE queue_pointers
		SET last_inserted = last_inserted + 1
		WHERE direction = $1
		RETURNING last_inserted`,
		rec.Direction,
	).Scan(&nextID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(rec.Item)
	if err != nil {
		return err
	}

	rec.ID = nextID
	rec.Status = models.StatusPending
	rec.CreatedAt = time.Now()

	_, err = r.q.Exec(`
		INSERT INTO queue_items (direction, id, wallet, item, status, fail_reason, created_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Direction,
		rec.ID,
		rec.Wallet,
		payload,
		rec.Status,
		rec.FailReason,
		rec.CreatedAt,
		rec.SettledAt,
	)

	return err
}

// GetByID возвращает элемент очереди
func (r *QueueRepository) GetByID(direction string, id int64) (*models.QueueItemRecord, error) {
	query := `
		SELECT direction, id, wallet, item, status, fail_reason, created_at, settled_at
		FROM queue_items
		WHERE direction = $1 AND id = $2`

	return r.scanItem(r.q.QueryRow(query, direction, id))
}

// NextPending возвращает первый неразрешенный элемент очереди
// (элемент с id = last_processed + 1), либо ErrItemNotFound если очередь дренирована
func (r *QueueRepository) NextPending(direction string) (*models.QueueItemRecord, error) {
	query := `
		SELECT i.direction, i.id, i.wallet, i.item, i.status, i.fail_reason, i.created_at, i.settled_at
		FROM queue_items i
		JOIN queue_pointers p ON p.direction = i.direction
		WHERE i.direction = $1 AND i.id = p.last_processed + 1`

	return r.scanItem(r.q.QueryRow(query, direction))
}

// ListAfter возвращает страницу элементов с id > afterID (для статусных запросов)
func (r *QueueRepository) ListAfter(direction string, afterID int64, limit int) ([]*models.QueueItemRecord, error) {
	query := `
		SELECT direction, id, wallet, item, status, fail_reason, created_at, settled_at
		FROM queue_items
		WHERE direction = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`

	rows, err := r.q.Query(query, direction, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanItems(rows)
}

// ListByWallet возвращает страницу элементов кошелька по обеим очередям
// в порядке возрастания id (курсор startAfter, как у ListAfter)
func (r *QueueRepository) ListByWallet(wallet string, startAfter int64, limit int) ([]*models.QueueItemRecord, error) {
	query := `
		SELECT direction, id, wallet, item, status, fail_reason, created_at, settled_at
		FROM queue_items
		WHERE wallet = $1 AND id > $2
		ORDER BY id, direction
		LIMIT $3`

	rows, err := r.q.Query(query, wallet, startAfter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanItems(rows)
}

// Pointers возвращает счетчики направления (последний выданный и последний разрешенный id)
func (r *QueueRepository) Pointers(direction string) (lastInserted, lastProcessed int64, err error) {
	query := `
		SELECT last_inserted, last_processed
		FROM queue_pointers
		WHERE direction = $1`

	err = r.q.QueryRow(query, direction).Scan(&lastInserted, &lastProcessed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, ErrItemNotFound
		}
		return 0, 0, err
	}

	return lastInserted, lastProcessed, nil
}

// MarkFinished переводит pending элемент в finished
func (r *QueueRepository) MarkFinished(direction string, id int64) error {
	return r.settle(direction, id, models.StatusFinished, "")
}

// MarkFailed переводит pending элемент в failed с причиной
// Элемент при этом считается разрешенным: очередь двигается дальше
func (r *QueueRepository) MarkFailed(direction string, id int64, reason string) error {
	return r.settle(direction, id, models.StatusFailed, reason)
}

// settle меняет статус с защитой от повторного разрешения
func (r *QueueRepository) settle(direction string, id int64, status, reason string) error {
	query := `
		UPDATE queue_items
		SET status = $1, fail_reason = $2, settled_at = $3
		WHERE direction = $4 AND id = $5 AND status = $6`

	result, err := r.q.Exec(query, status, reason, time.Now(), direction, id, models.StatusPending)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Либо элемента нет, либо он уже в терминальном статусе
		if _, getErr := r.GetByID(direction, id); getErr != nil {
			return getErr
		}
		return ErrBadStatus
	}

	return nil
}

// AdvanceProcessed сдвигает указатель last_processed на id
// Разрешение строго по порядку: сдвиг допустим только на last_processed + 1
func (r *QueueRepository) AdvanceProcessed(direction string, id int64) error {
	query := `
		UPDATE queue_pointers
		SET last_processed = $2
		WHERE direction = $1 AND last_processed = $2 - 1`

	result, err := r.q.Exec(query, direction, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrOutOfOrder
	}

	return nil
}

// ============================================================
// Reply marker - единственный слот "ожидаем reply"
// ============================================================

// ReplyMarker возвращает занятый слот ожидания reply, либо nil
func (r *QueueRepository) ReplyMarker() (*models.ReplyMarker, error) {
	query := `
		SELECT direction, item_id, dispatched_at
		FROM reply_marker
		WHERE id = 1`

	m := &models.ReplyMarker{}
	err := r.q.QueryRow(query).Scan(&m.Direction, &m.ItemID, &m.DispatchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return m, nil
}

// SetReplyMarker занимает слот перед отправкой отложенного вызова
// Возвращает ErrReplyOutstanding, если слот уже занят
func (r *QueueRepository) SetReplyMarker(direction string, itemID int64) error {
	query := `
		INSERT INTO reply_marker (id, direction, item_id, dispatched_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	result, err := r.q.Exec(query, direction, itemID, time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrReplyOutstanding
	}

	return nil
}

// ClearReplyMarker освобождает слот при обработке reply
// Возвращает ErrNoPendingReply, если слот не был занят
func (r *QueueRepository) ClearReplyMarker() error {
	result, err := r.q.Exec(`DELETE FROM reply_marker WHERE id = 1`)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNoPendingReply
	}

	return nil
}

// ============================================================
// Scan helpers
// ============================================================

func (r *QueueRepository) scanItem(row *sql.Row) (*models.QueueItemRecord, error) {
	rec := &models.QueueItemRecord{}
	var payload []byte

	err := row.Scan(
		&rec.Direction,
		&rec.ID,
		&rec.Wallet,
		&payload,
		&rec.Status,
		&rec.FailReason,
		&rec.CreatedAt,
		&rec.SettledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(payload, &rec.Item); err != nil {
		return nil, err
	}

	return rec, nil
}

func (r *QueueRepository) scanItems(rows *sql.Rows) ([]*models.QueueItemRecord, error) {
	var items []*models.QueueItemRecord

	for rows.Next() {
		rec := &models.QueueItemRecord{}
		var payload []byte

		err := rows.Scan(
			&rec.Direction,
			&rec.ID,
			&rec.Wallet,
			&payload,
			&rec.Status,
			&rec.FailReason,
			&rec.CreatedAt,
			&rec.SettledAt,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(payload, &rec.Item); err != nil {
			return nil, err
		}

		items = append(items, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
