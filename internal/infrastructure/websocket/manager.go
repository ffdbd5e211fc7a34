package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/metrics"
	"marketchat/pkg/feed"
	"marketchat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// ChatFeeds is the part of the chat service the hub streams to clients.
type ChatFeeds interface {
	WatchRooms(ctx context.Context, userID string) *feed.Feed[[]*entity.ChatRoom]
	WatchMessages(ctx context.Context, roomID, viewerID string) (*feed.Feed[[]*entity.ChatMessage], error)
	WatchTyping(ctx context.Context, roomID, observerID string) (*feed.Feed[bool], error)
	SetTyping(ctx context.Context, roomID, userID string, isTyping bool) error
}

type NotificationFeeds interface {
	Watch(ctx context.Context, userID string) *feed.Feed[[]*entity.Notification]
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection. A user may hold several.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	subs   map[string]*subscription
}

type subscription struct {
	kind   string
	cancel func()
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*subscription),
	}
}

// Manager tracks live connections and their feed subscriptions.
type Manager struct {
	clients    map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex

	chat          ChatFeeds
	notifications NotificationFeeds
}

func NewManager(chat ChatFeeds, notifications NotificationFeeds) *Manager {
	return &Manager{
		clients:       make(map[string]map[*Client]struct{}),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		done:          make(chan struct{}),
		chat:          chat,
		notifications: notifications,
	}
}

// Start runs the registration loop until ctx is done, then closes every
// remaining client.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)

		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if m.clients[client.UserID] == nil {
					m.clients[client.UserID] = make(map[*Client]struct{})
				}
				m.clients[client.UserID][client] = struct{}{}
				m.mutex.Unlock()
				metrics.WebsocketConnections.Inc()
				logger.Debug("Websocket client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.remove(client)

			case <-ctx.Done():
				m.mutex.RLock()
				var all []*Client
				for _, conns := range m.clients {
					for client := range conns {
						all = append(all, client)
					}
				}
				m.mutex.RUnlock()
				for _, client := range all {
					m.remove(client)
				}
				return
			}
		}
	}()
}

func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	conns, ok := m.clients[client.UserID]
	if ok {
		if _, ok = conns[client]; ok {
			delete(conns, client)
			if len(conns) == 0 {
				delete(m.clients, client.UserID)
			}
		}
	}
	m.mutex.Unlock()

	if ok {
		metrics.WebsocketConnections.Dec()
		logger.Debug("Websocket client unregistered: %s", client.UserID)
	}
	client.close()
}

// Serve upgrades the request and runs the connection for userID.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(userID, conn)
	select {
	case m.Register <- client:
	case <-m.done:
		conn.Close()
		return nil
	}

	go client.WritePump()
	go client.ReadPump(m)
	return nil
}

func (m *Manager) ConnectionCount(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

// ReadPump dispatches inbound frames until the connection fails.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		select {
		case m.Unregister <- c:
		case <-m.done:
			c.close()
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("Websocket read error for %s: %v", c.UserID, err)
			}
			return
		}

		m.HandleClientMessage(c, message)
	}
}

// WritePump drains Send and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("Websocket write error for %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the frame when the client is closed or too slow to keep up.
// Feeds always carry full state, so the next frame supersedes a dropped one.
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		logger.Warn("Websocket send buffer full for %s, dropping frame", c.UserID)
		return false
	}
}

// addSubscription registers a running feed under key, replacing and
// cancelling any previous subscription with the same key.
func (c *Client) addSubscription(key, kind string, cancel func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return false
	}
	previous := c.subs[key]
	c.subs[key] = &subscription{kind: kind, cancel: cancel}
	c.mu.Unlock()

	metrics.ActiveSubscriptions.WithLabelValues(kind).Inc()
	if previous != nil {
		previous.cancel()
		metrics.ActiveSubscriptions.WithLabelValues(previous.kind).Dec()
	}
	return true
}

func (c *Client) removeSubscription(key string) bool {
	c.mu.Lock()
	sub, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	if !ok {
		return false
	}
	sub.cancel()
	metrics.ActiveSubscriptions.WithLabelValues(sub.kind).Dec()
	return true
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.Send)
	c.mu.Unlock()

	c.cancel()
	for _, sub := range subs {
		sub.cancel()
		metrics.ActiveSubscriptions.WithLabelValues(sub.kind).Dec()
	}
}
