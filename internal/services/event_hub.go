package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// 实时事件类型
const (
	EventTicketCreated = "ticket.created"
	EventTicketUpdated = "ticket.updated"
	EventTicketComment = "ticket.comment"
)

// Event 推送给员工端的实时事件
type Event struct {
	Type      string      `json:"type"`
	CompanyID uint        `json:"company_id"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventClient 一个员工端 websocket 连接
type EventClient struct {
	ID        string
	CompanyID uint
	UserID    uint
	Conn      *websocket.Conn
	Send      chan Event
	Hub       *EventHub
}

// EventHub 按公司广播工单事件
type EventHub struct {
	clients    map[string]*EventClient
	broadcast  chan Event
	register   chan *EventClient
	unregister chan *EventClient
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 鉴权由上游中间件完成
	},
}

// NewEventHub 创建事件中心
func NewEventHub(logger *logrus.Logger) *EventHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventHub{
		clients:    make(map[string]*EventClient),
		broadcast:  make(chan Event, 256),
		register:   make(chan *EventClient),
		unregister: make(chan *EventClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 处理注册、注销与广播，直到 ctx 结束
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			h.mutex.Unlock()
			h.logger.Infof("Client %s connected (company %d)", client.ID, client.CompanyID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				h.logger.Infof("Client %s disconnected", client.ID)
			}
			h.mutex.Unlock()

		case event := <-h.broadcast:
			h.mutex.Lock()
			for id, client := range h.clients {
				if client.CompanyID != event.CompanyID {
					continue
				}
				select {
				case client.Send <- event:
				default:
					// 慢连接直接断开
					close(client.Send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Publish 投递事件；队列满时丢弃，不阻塞业务请求
func (h *EventHub) Publish(companyID uint, eventType string, data interface{}) {
	if h == nil {
		return
	}
	event := Event{Type: eventType, CompanyID: companyID, Data: data, Timestamp: time.Now()}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warnf("Event queue full, dropping %s for company %d", eventType, companyID)
	}
}

// GetClientCount 当前连接数
func (h *EventHub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Serve 升级为 websocket 并注册到事件中心
func (h *EventHub) Serve(w http.ResponseWriter, r *http.Request, companyID, userID uint) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	client := &EventClient{
		ID:        fmt.Sprintf("staff_%d_%d", userID, time.Now().UnixNano()),
		CompanyID: companyID,
		UserID:    userID,
		Conn:      conn,
		Send:      make(chan Event, 64),
		Hub:       h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return fmt.Errorf("event hub stopped")
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// readPump 员工端只接收事件，读循环仅用于感知断开与心跳
func (c *EventClient) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Errorf("WebSocket error: %v", err)
			}
			return
		}
	}
}

func (c *EventClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(event); err != nil {
				c.Hub.logger.Errorf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
