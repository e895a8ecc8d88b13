package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage/redis"
)

// ErrHubBusy 广播队列已满
var ErrHubBusy = errors.New("websocket hub busy")

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail MessageType = "new_mail"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type  MessageType          `json:"type"`
	Email *domain.EmailSummary `json:"email,omitempty"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID        string
	Recipient string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
}

// broadcastMessage 待投递给某个收件人的消息
type broadcastMessage struct {
	recipient string
	data      []byte
}

// Hub 管理所有WebSocket连接，按收件地址分组
type Hub struct {
	domain         string
	allowedOrigins []string
	pingInterval   time.Duration

	recipients map[string]map[string]*Client // recipient -> clientID -> Client
	count      int
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage
	done       chan struct{}
	mu         sync.RWMutex

	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - mailDomain: 收件域名，订阅地址为 username@mailDomain
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有来源
//   - logger: 日志记录器
func NewHub(mailDomain string, allowedOrigins []string, logger *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		domain:         strings.ToLower(mailDomain),
		allowedOrigins: allowedOrigins,
		pingInterval:   30 * time.Second,
		recipients:     make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan broadcastMessage, 256),
		done:           make(chan struct{}),
		log:            logger,
	}
}

// SetMetrics 设置监控指标
func (h *Hub) SetMetrics(metrics *monitoring.Metrics) {
	h.metrics = metrics
}

// SetPingInterval 设置心跳间隔
func (h *Hub) SetPingInterval(d time.Duration) {
	if d > 0 {
		h.pingInterval = d
	}
}

// Run 启动Hub，ctx 取消后关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("Websocket hub stopped")
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.recipients[client.Recipient] == nil {
				h.recipients[client.Recipient] = make(map[string]*Client)
			}
			h.recipients[client.Recipient][client.ID] = client
			h.count++
			count := h.count
			h.mu.Unlock()

			h.metrics.UpdateWebsocketClients(count)
			h.log.Debug("Websocket client registered",
				zap.String("client_id", client.ID),
				zap.String("recipient", client.Recipient),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.recipients[client.Recipient]; ok {
				if _, ok := clients[client.ID]; ok {
					delete(clients, client.ID)
					if len(clients) == 0 {
						delete(h.recipients, client.Recipient)
					}
					close(client.send)
					h.count--
				}
			}
			count := h.count
			h.mu.Unlock()

			h.metrics.UpdateWebsocketClients(count)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// PublishNewMail 通知订阅了该收件人的客户端，队列满时返回 ErrHubBusy
func (h *Hub) PublishNewMail(ctx context.Context, email *domain.Email) error {
	summary := email.Summary()
	return h.enqueue(email.Recipient, &summary)
}

// ConsumeRedis 把 Redis 上的新邮件通知转发给本实例的客户端，直到 ctx 取消
func (h *Hub) ConsumeRedis(ctx context.Context, sub *goredis.PubSub) error {
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := redis.DecodeNewMail(msg)
			if err != nil {
				h.log.Warn("Invalid new mail notification",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			summary := event.Email
			if err := h.enqueue(event.Recipient, &summary); err != nil {
				h.log.Warn("Dropped new mail notification",
					zap.String("recipient", event.Recipient),
					zap.Error(err),
				)
			}
		}
	}
}

func (h *Hub) enqueue(recipient string, summary *domain.EmailSummary) error {
	data, err := json.Marshal(&Message{
		Type:  MessageTypeNewMail,
		Email: summary,
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- broadcastMessage{recipient: recipient, data: data}:
		return nil
	default:
		return ErrHubBusy
	}
}

// deliver 向订阅特定收件人的客户端投递消息
func (h *Hub) deliver(msg broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.recipients[msg.recipient] {
		select {
		case client.send <- msg.data:
		default:
			h.log.Warn("Client channel blocked, skipping", zap.String("client_id", client.ID))
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.recipients {
		for _, client := range clients {
			close(client.send)
		}
	}
	h.recipients = make(map[string]map[string]*Client)
	h.count = 0
	h.metrics.UpdateWebsocketClients(0)
}

// Handler 处理 /api/ws/:username 的升级请求
//
// 用户名按查询路径的严格规则检查，被拒绝时返回 403 而不升级连接。
func (h *Hub) Handler() gin.HandlerFunc {
	upgrader := upgraderFactory(h.allowedOrigins)

	return func(c *gin.Context) {
		decision := domain.AdmitStrict(c.Param("username"))
		if !decision.Admitted {
			c.JSON(http.StatusForbidden, gin.H{"error": decision.Reason.Message()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn("Failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()),
			)
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			Recipient: domain.NewMailboxAddress(decision.Username, h.domain).String(),
			conn:      conn,
			send:      make(chan []byte, 16),
			hub:       h,
		}

		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 只处理控制帧，客户端发来的数据被丢弃
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	wait := 2 * c.hub.pingInterval
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("Websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump 发送消息与心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
