package websocket

import (
	"bytes"
	"encoding/json"
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"fundpool/internal/engine"
	"fundpool/internal/models"
)

// Пул JSON буферов: Broadcast вызывается на каждое изменение очереди,
// без пула это постоянные аллокации
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast сообщений всем подключенным клиентам.
// Кошельки наблюдают статусы своих запросов и цену доли без polling.
//
// Функции:
// - Регистрация новых WebSocket клиентов
// - Отмена регистрации отключенных клиентов
// - Broadcast сообщений всем активным клиентам
// - Очистка медленных соединений
// - Потокобезопасная работа с клиентами (sync.RWMutex)
//
// Типы сообщений:
// - queueUpdate: изменение статуса элемента очереди
// - navUpdate: пересчитанная цена доли токена
// - workUpdate: выполненная единица работы по маркету
// - crankUpdate: сводка прошедшего crank-прохода
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Передать движку как engine.Hub
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex
}

// Hub реализует интерфейс вещания движка
var _ engine.Hub = (*Hub)(nil)

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Обрабатывает регистрацию, отмену регистрации и broadcast
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("Client connected. Total clients: %d", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("Client disconnected. Total clients: %d", len(h.clients))

		case message := <-h.broadcast:
			// Копируем список клиентов под коротким RLock и отправляем
			// без блокировки, чтобы не задерживать register/unregister
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает обрабатывать сообщения
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
				log.Printf("Removed %d slow clients. Total clients: %d", len(toRemove), len(h.clients))
			}
		}
	}
}

// Broadcast отправляет сообщение всем подключенным клиентам
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		log.Printf("Error marshaling broadcast message: %v", err)
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Копируем данные, буфер возвращается в пул
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)

	jsonBufferPool.Put(buf)

	h.broadcast <- msgCopy
}

// BroadcastQueueUpdate отправляет изменение статуса элемента очереди
func (h *Hub) BroadcastQueueUpdate(item *models.QueueItemRecord) {
	h.Broadcast(NewQueueUpdateMessage(item))
}

// BroadcastNavUpdate отправляет пересчитанную цену доли токена
func (h *Hub) BroadcastNavUpdate(token string, value decimal.Decimal) {
	h.Broadcast(NewNavUpdateMessage(token, value))
}

// BroadcastWorkUpdate отправляет результат единицы работы по маркету
func (h *Hub) BroadcastWorkUpdate(marketID, kind string, done bool) {
	h.Broadcast(NewWorkUpdateMessage(marketID, kind, done))
}

// BroadcastCrankUpdate отправляет сводку прошедшего crank-прохода
func (h *Hub) BroadcastCrankUpdate(summary *engine.CrankSummary) {
	h.Broadcast(NewCrankUpdateMessage(summary))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
