package websocket

import (
	"time"

	"cryptofolio/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypePortfolioUpdate - оценённый снимок портфеля после merge
	MessageTypePortfolioUpdate MessageType = "portfolioUpdate"

	// MessageTypeSyncResult - итог merge (обновлено/создано/обнулено)
	MessageTypeSyncResult MessageType = "syncResult"

	// MessageTypeTradeSync - итог загрузки сделок
	MessageTypeTradeSync MessageType = "tradeSync"
)

// BaseMessage - общие поля всех сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// PortfolioUpdateMessage - снимок портфеля
type PortfolioUpdateMessage struct {
	BaseMessage
	Data *models.PortfolioSnapshot `json:"data"`
}

// SyncResultMessage - результат merge
type SyncResultMessage struct {
	BaseMessage
	Data *models.SyncResult `json:"data"`
}

// TradeSyncMessage - результат загрузки сделок
type TradeSyncMessage struct {
	BaseMessage
	Data *models.TradeSyncResult `json:"data"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().UTC()}
}

// NewPortfolioUpdateMessage создаёт сообщение portfolioUpdate
func NewPortfolioUpdateMessage(snapshot *models.PortfolioSnapshot) *PortfolioUpdateMessage {
	return &PortfolioUpdateMessage{BaseMessage: newBase(MessageTypePortfolioUpdate), Data: snapshot}
}

// NewSyncResultMessage создаёт сообщение syncResult
func NewSyncResultMessage(result *models.SyncResult) *SyncResultMessage {
	return &SyncResultMessage{BaseMessage: newBase(MessageTypeSyncResult), Data: result}
}

// NewTradeSyncMessage создаёт сообщение tradeSync
func NewTradeSyncMessage(result *models.TradeSyncResult) *TradeSyncMessage {
	return &TradeSyncMessage{BaseMessage: newBase(MessageTypeTradeSync), Data: result}
}
