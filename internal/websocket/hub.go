package websocket

import (
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"cryptofolio/internal/metrics"
	"cryptofolio/internal/models"
	"cryptofolio/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize - ёмкость очереди broadcast; при переполнении сообщение теряется
const broadcastBufferSize = 256

// envelope - сообщение с адресатом; userID == 0 - всем клиентам
type envelope struct {
	userID int64
	data   []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Push обновлений портфеля без polling. Сообщения адресуются пользователю:
// клиент получает только обновления своего портфеля.
//
// Типы сообщений:
// - portfolioUpdate: снимок портфеля после merge
// - syncResult: итог merge
// - tradeSync: итог загрузки сделок
//
// Использование:
// 1. Создать hub: hub := NewHub(logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastPortfolio(snapshot)
// 4. При завершении: hub.Stop()
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	dropped atomic.Int64
	logger  *utils.Logger
	mu      sync.RWMutex
}

// NewHub создает новый Hub
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("ws_hub"),
	}
}

// Run запускает главный цикл Hub до вызова Stop
//
// Список клиентов копируется под коротким RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под write lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", utils.UserID(client.userID), utils.Count("clients", total))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg envelope) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.userID == 0 || client.userID == msg.userID {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- msg.data:
		default:
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		metrics.RecordBufferOverflow("ws_client")
		h.remove(client)
	}
	if len(slow) > 0 {
		h.logger.Warn("removed slow clients", utils.Count("removed", len(slow)))
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Stop останавливает Run и закрывает все соединения. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// BroadcastRaw ставит готовое сообщение в очередь без ожидания.
// Переполненная очередь теряет сообщение: hub не блокирует сервисы.
func (h *Hub) BroadcastRaw(userID int64, data []byte) {
	select {
	case h.broadcast <- envelope{userID: userID, data: data}:
	default:
		h.dropped.Add(1)
		metrics.RecordBufferOverflow("ws_broadcast")
	}
}

// Broadcast сериализует сообщение и отправляет клиентам пользователя
func (h *Hub) Broadcast(userID int64, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}
	h.BroadcastRaw(userID, data)
}

// BroadcastPortfolio отправляет снимок портфеля владельцу
func (h *Hub) BroadcastPortfolio(snapshot *models.PortfolioSnapshot) {
	h.Broadcast(snapshot.UserID, NewPortfolioUpdateMessage(snapshot))
}

// BroadcastSyncResult отправляет итог merge владельцу
func (h *Hub) BroadcastSyncResult(result *models.SyncResult) {
	h.Broadcast(result.UserID, NewSyncResultMessage(result))
}

// BroadcastTradeSync отправляет итог загрузки сделок владельцу
func (h *Hub) BroadcastTradeSync(result *models.TradeSyncResult) {
	h.Broadcast(result.UserID, NewTradeSyncMessage(result))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает количество потерянных при переполнении сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
