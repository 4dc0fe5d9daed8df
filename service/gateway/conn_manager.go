package gateway

import (
	"strings"
	"sync"
	"time"

	"RTChat/logger"

	"github.com/gorilla/websocket"
)

const (
	sendQueueSize = 256
	writeDeadline = 5 * time.Second
	pingInterval  = 25 * time.Second
	readDeadline  = 75 * time.Second
)

// Conn is one live client connection. Exactly one writer goroutine consumes
// the send queue; everything else enqueues. The teardown table holds the
// undo function for every subscription this connection registered, keyed by
// conversation id (or the receipts key), and is drained on disconnect.
type Conn struct {
	ID     string
	UserID string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	mu        sync.Mutex
	teardowns map[string][]func() error
}

func NewConn(id, userID string, ws *websocket.Conn) *Conn {
	c := &Conn{
		ID:        id,
		UserID:    userID,
		ws:        ws,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		teardowns: make(map[string][]func() error),
	}
	if ws != nil {
		go c.writePump()
	}
	return c
}

// Push enqueues a frame. A full queue means a slow client; the frame is
// dropped rather than stalling the caller.
func (c *Conn) Push(payload []byte) {
	select {
	case c.send <- payload:
	case <-c.done:
	default:
		logger.Warnf("[conn] send queue full, drop frame conn=%s user=%s", c.ID, c.UserID)
	}
}

// Out exposes the send queue for tests.
func (c *Conn) Out() <-chan []byte { return c.send }

func (c *Conn) AddTeardown(key string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardowns[key] = append(c.teardowns[key], fn)
}

// HasTeardown reports whether any subscription is registered under key.
func (c *Conn) HasTeardown(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.teardowns[key]) > 0
}

// RunTeardowns undoes the subscriptions stored under key. Errors from
// already-closed upstream transports are expected during shutdown and are
// suppressed; anything else is logged.
func (c *Conn) RunTeardowns(key string) {
	c.mu.Lock()
	fns := c.teardowns[key]
	delete(c.teardowns, key)
	c.mu.Unlock()
	for _, fn := range fns {
		if err := fn(); err != nil && !isClosedErr(err) {
			logger.Warnf("[conn] teardown key=%s conn=%s: %v", key, c.ID, err)
		}
	}
}

// RunAllTeardowns drains the whole table (disconnect path).
func (c *Conn) RunAllTeardowns() {
	c.mu.Lock()
	all := c.teardowns
	c.teardowns = make(map[string][]func() error)
	c.mu.Unlock()
	for key, fns := range all {
		for _, fn := range fns {
			if err := fn(); err != nil && !isClosedErr(err) {
				logger.Warnf("[conn] teardown key=%s conn=%s: %v", key, c.ID, err)
			}
		}
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *Conn) writePump() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[conn] write err conn=%s: %v", c.ID, err)
				c.Close()
				return
			}
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "closed") || strings.Contains(s, "connection reset")
}

// ConnManager indexes live connections by connection id and by user.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Conn
	byUser map[string]map[string]*Conn
	gwID   string
}

func NewConnManager(gwID string) *ConnManager {
	return &ConnManager{
		byConn: make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
		gwID:   gwID,
	}
}

func (m *ConnManager) GatewayID() string { return m.gwID }

func (m *ConnManager) Add(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byConn[c.ID] = c
	mm := m.byUser[c.UserID]
	if mm == nil {
		mm = make(map[string]*Conn)
		m.byUser[c.UserID] = mm
	}
	mm[c.ID] = c
}

func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if !ok {
		return
	}
	delete(m.byConn, connID)
	if mm := m.byUser[c.UserID]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(m.byUser, c.UserID)
		}
	}
}

func (m *ConnManager) Get(connID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

// UserConns lists every local connection of a user.
func (m *ConnManager) UserConns(userID string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	out := make([]*Conn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// Close closes every connection (shutdown path).
func (m *ConnManager) Close() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.byConn))
	for _, c := range m.byConn {
		conns = append(conns, c)
	}
	m.byConn = make(map[string]*Conn)
	m.byUser = make(map[string]map[string]*Conn)
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
