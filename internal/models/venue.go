package models

// VenueReply - результат отложенного исполняющего вызова площадки
//
// Приходит отдельной транзакцией после диспатча; ItemID связывает reply
// с элементом очереди, занимавшим слот ожидания
type VenueReply struct {
	MarketID   string `json:"market_id"`
	ItemID     int64  `json:"item_id"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`      // причина отказа площадки
	PositionID string `json:"position_id,omitempty"` // id созданной/затронутой позиции
}
