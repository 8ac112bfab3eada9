package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Ошибки валидации запросов
var (
	ErrEmptyName       = errors.New("name cannot be empty")
	ErrBadCommission   = errors.New("commission rate must be between 0 and 1")
	ErrUnknownItemKind = errors.New("unknown queue item kind")
	ErrEmptyWallet     = errors.New("wallet cannot be empty")
	ErrEmptyToken      = errors.New("token cannot be empty")
	ErrEmptyMarket     = errors.New("market id is required for this action")
	ErrEmptyPosition   = errors.New("position id is required for this action")
)

// Направления очередей
//
// Классификация по направлению движения незадействованного коллатерала пула:
// increase - исполнение добавляет или высвобождает коллатерал,
// decrease - исполнение выводит или связывает коллатерал на площадке.
const (
	DirIncrease = "increase"
	DirDecrease = "decrease"
)

// Статусы элементов очереди
const (
	StatusPending  = "pending"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Виды запросов (закрытый набор)
const (
	ItemDeposit           = "deposit"
	ItemWithdraw          = "withdraw"
	ItemOpenPosition      = "open_position"
	ItemClosePosition     = "close_position"
	ItemUpdatePosition    = "update_position"
	ItemProvideLiquidity  = "provide_liquidity"
	ItemWithdrawLiquidity = "withdraw_liquidity"
	ItemReinvestYield     = "reinvest_yield"
)

// Стороны позиции
const (
	PositionLong  = "long"
	PositionShort = "short"
)

// QueueItem - полезная нагрузка отложенного запроса
//
// Amount интерпретируется по Kind: коллатерал для deposit/open/provide,
// доли для withdraw. Поля маркета/позиции заполняются только для действий
// лидера.
type QueueItem struct {
	Kind       string          `json:"kind" db:"kind"`
	Token      string          `json:"token" db:"token"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	MarketID   string          `json:"market_id,omitempty" db:"market_id"`
	PositionID string          `json:"position_id,omitempty" db:"position_id"`
	Side       string          `json:"side,omitempty" db:"side"`         // long/short для open_position
	Leverage   decimal.Decimal `json:"leverage,omitempty" db:"leverage"` // для open_position
}

// QueueItemRecord - запись очереди (append-only, статус меняется ровно один раз)
type QueueItemRecord struct {
	ID         int64      `json:"id" db:"id"`
	Direction  string     `json:"direction" db:"direction"`
	Wallet     string     `json:"wallet" db:"wallet"`
	Item       QueueItem  `json:"item"`
	Status     string     `json:"status" db:"status"`
	FailReason string     `json:"fail_reason,omitempty" db:"fail_reason"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	SettledAt  *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// ReplyMarker - единственный слот "ожидаем reply"
//
// Пока слот занят, новые отложенные вызовы не отправляются; reply без
// занятого слота и повторная отправка при занятом слоте - фатальные ошибки
// последовательности.
type ReplyMarker struct {
	Direction    string    `json:"direction" db:"direction"`
	ItemID       int64     `json:"item_id" db:"item_id"`
	DispatchedAt time.Time `json:"dispatched_at" db:"dispatched_at"`
}

// QueueStatus - ответ на запрос статуса очереди кошелька
type QueueStatus struct {
	Items         []*QueueItemRecord `json:"items"`
	ProcessedTill map[string]int64   `json:"processed_till"` // direction -> last processed id
}

// ValidStatusTransitions определяет допустимые переходы статуса
// Терминальные статусы неизменяемы
var ValidStatusTransitions = map[string][]string{
	StatusPending:  {StatusFinished, StatusFailed},
	StatusFinished: {},
	StatusFailed:   {},
}

// CanTransition проверяет допустимость перехода статуса
func CanTransition(from, to string) bool {
	allowed, ok := ValidStatusTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для финального статуса
func IsTerminal(status string) bool {
	return status == StatusFinished || status == StatusFailed
}

// Classify относит вид запроса к очереди increase либо decrease
func Classify(kind string) (string, error) {
	switch kind {
	case ItemDeposit, ItemClosePosition, ItemWithdrawLiquidity, ItemReinvestYield:
		return DirIncrease, nil
	case ItemWithdraw, ItemOpenPosition, ItemUpdatePosition, ItemProvideLiquidity:
		return DirDecrease, nil
	default:
		return "", ErrUnknownItemKind
	}
}

// LeaderOnly возвращает true для действий, доступных только лидеру
func LeaderOnly(kind string) bool {
	switch kind {
	case ItemOpenPosition, ItemClosePosition, ItemUpdatePosition,
		ItemProvideLiquidity, ItemWithdrawLiquidity, ItemReinvestYield:
		return true
	}
	return false
}

// Validate проверяет полноту полезной нагрузки запроса
func (q *QueueItem) Validate() error {
	if q.Token == "" {
		return ErrEmptyToken
	}
	switch q.Kind {
	case ItemDeposit, ItemWithdraw:
		if q.Amount.IsNegative() {
			return ErrNegativeAmount
		}
		if q.Amount.IsZero() {
			return ErrZeroAmount
		}
	case ItemProvideLiquidity, ItemWithdrawLiquidity:
		if q.Amount.IsNegative() {
			return ErrNegativeAmount
		}
		if q.Amount.IsZero() {
			return ErrZeroAmount
		}
		if q.MarketID == "" {
			return ErrEmptyMarket
		}
	case ItemOpenPosition:
		if q.Amount.IsNegative() {
			return ErrNegativeAmount
		}
		if q.Amount.IsZero() {
			return ErrZeroAmount
		}
		if q.MarketID == "" {
			return ErrEmptyMarket
		}
		if q.Side != PositionLong && q.Side != PositionShort {
			return ErrUnknownItemKind
		}
	case ItemClosePosition:
		if q.MarketID == "" {
			return ErrEmptyMarket
		}
		if q.PositionID == "" {
			return ErrEmptyPosition
		}
	case ItemUpdatePosition:
		if q.MarketID == "" {
			return ErrEmptyMarket
		}
		if q.PositionID == "" {
			return ErrEmptyPosition
		}
		if q.Amount.IsZero() {
			return ErrZeroAmount
		}
	case ItemReinvestYield:
		// сумма определяется при исполнении из накопленного дохода
	default:
		return ErrUnknownItemKind
	}
	return nil
}

// RequiresDispatch возвращает true, если исполнение требует отложенного
// вызова торговой площадки (результат приходит отдельным reply)
func (q *QueueItem) RequiresDispatch() bool {
	switch q.Kind {
	case ItemOpenPosition, ItemClosePosition, ItemUpdatePosition,
		ItemProvideLiquidity, ItemWithdrawLiquidity:
		return true
	}
	return false
}
