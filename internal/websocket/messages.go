package websocket

import (
	"time"

	"github.com/shopspring/decimal"

	"fundpool/internal/engine"
	"fundpool/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeQueueUpdate - изменение статуса элемента очереди
	// Отправляется при постановке, завершении и отказе запроса
	MessageTypeQueueUpdate MessageType = "queueUpdate"

	// MessageTypeNavUpdate - пересчитанная цена доли токена
	// Отправляется после фазы refresh_share_value
	MessageTypeNavUpdate MessageType = "navUpdate"

	// MessageTypeWorkUpdate - выполненная единица работы по маркету
	MessageTypeWorkUpdate MessageType = "workUpdate"

	// MessageTypeCrankUpdate - сводка прошедшего crank-прохода
	// Отправляется только для проходов, в которых что-то произошло
	MessageTypeCrankUpdate MessageType = "crankUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// QueueUpdateMessage - сообщение об изменении элемента очереди
//
// Содержит полную запись элемента: кошелек фильтрует интересующие его
// записи на своей стороне
type QueueUpdateMessage struct {
	BaseMessage
	Data *models.QueueItemRecord `json:"data"`
}

// NavUpdateMessage - сообщение о новой цене доли
type NavUpdateMessage struct {
	BaseMessage
	Token      string          `json:"token"`
	ShareValue decimal.Decimal `json:"share_value"`
}

// WorkUpdateMessage - сообщение о выполненной единице работы
type WorkUpdateMessage struct {
	BaseMessage
	MarketID string `json:"market_id"`
	Kind     string `json:"kind"`
	Done     bool   `json:"done"`
}

// CrankUpdateMessage - сообщение со сводкой crank-прохода
type CrankUpdateMessage struct {
	BaseMessage
	Data *engine.CrankSummary `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewQueueUpdateMessage создает сообщение об изменении элемента очереди
func NewQueueUpdateMessage(item *models.QueueItemRecord) *QueueUpdateMessage {
	return &QueueUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeQueueUpdate,
			Timestamp: time.Now(),
		},
		Data: item,
	}
}

// NewNavUpdateMessage создает сообщение о новой цене доли
func NewNavUpdateMessage(token string, value decimal.Decimal) *NavUpdateMessage {
	return &NavUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNavUpdate,
			Timestamp: time.Now(),
		},
		Token:      token,
		ShareValue: value,
	}
}

// NewWorkUpdateMessage создает сообщение о выполненной единице работы
func NewWorkUpdateMessage(marketID, kind string, done bool) *WorkUpdateMessage {
	return &WorkUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeWorkUpdate,
			Timestamp: time.Now(),
		},
		MarketID: marketID,
		Kind:     kind,
		Done:     done,
	}
}

// NewCrankUpdateMessage создает сообщение со сводкой crank-прохода
func NewCrankUpdateMessage(summary *engine.CrankSummary) *CrankUpdateMessage {
	return &CrankUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeCrankUpdate,
			Timestamp: time.Now(),
		},
		Data: summary,
	}
}
