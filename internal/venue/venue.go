package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
)

// Venue определяет унифицированный интерфейс торговой площадки perp-фьючерсов
//
// Статусные запросы (Query*) синхронны и могут повторяться; Execute -
// отложенный исполняющий вызов: площадка принимает запрос и позже
// присылает reply отдельной транзакцией
type Venue interface {
	// MarketID возвращает идентификатор площадки
	MarketID() string

	// QueryPositions возвращает позиции пула по данным площадки
	QueryPositions(ctx context.Context) ([]*models.PositionInfo, error)

	// QueryYield возвращает доход, накопленный на площадке с прошлого опроса
	QueryYield(ctx context.Context) (decimal.Decimal, error)

	// Execute отправляет отложенный исполняющий вызов
	// Возвращает подтверждение приема (ack id); результат придет отдельным reply
	Execute(ctx context.Context, req *ExecuteRequest) (string, error)

	// Close закрывает соединения с площадкой
	Close() error
}

// Registry определяет интерфейс реестра торговых площадок
type Registry interface {
	// ListMarkets возвращает актуальный список площадок
	ListMarkets(ctx context.Context) ([]*models.MarketInfo, error)
}

// ExecuteRequest - полезная нагрузка исполняющего вызова
type ExecuteRequest struct {
	Kind       string          `json:"kind"` // open/close/update позиции, provide/withdraw ликвидности
	ItemID     int64           `json:"item_id"`
	PositionID string          `json:"position_id,omitempty"`
	Side       string          `json:"side,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Leverage   decimal.Decimal `json:"leverage,omitempty"`
	Token      string          `json:"token"`
}

// VenueError представляет ошибку площадки
type VenueError struct {
	Market   string
	Code     string
	Message  string
	Original error
}

func (e *VenueError) Error() string {
	return e.Market + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *VenueError) Unwrap() error {
	return e.Original
}

// Retryable сообщает retry-логике, имеет ли смысл повторять запрос
// Повторяемы только инфраструктурные отказы, не отказы по существу
func (e *VenueError) Retryable() bool {
	switch e.Code {
	case CodeUnavailable, CodeTimeout, CodeRateLimited:
		return true
	}
	return false
}

// Коды ошибок площадки
const (
	CodeUnavailable = "unavailable"  // 5xx, сеть
	CodeTimeout     = "timeout"      // таймаут запроса
	CodeRateLimited = "rate_limited" // 429
	CodeRejected    = "rejected"     // отказ по существу запроса
	CodeBadResponse = "bad_response" // неразборчивый ответ
)
