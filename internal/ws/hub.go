package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"flavorfleet/internal/domain"
	"flavorfleet/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CloseReason says why a live connection ended.
type CloseReason string

const (
	ReasonClient  CloseReason = "client"
	ReasonTimeout CloseReason = "timeout"
	ReasonError   CloseReason = "error"
	ReasonServer  CloseReason = "server"
)

const (
	connectedMessage = "connection established"

	// sendBuffer is how many events may wait for a slow connection before it is dropped.
	sendBuffer = 32
)

var (
	ErrHubClosed    = errors.New("live hub closed")
	errStreamClosed = errors.New("stream closed")
	errSlowConsumer = errors.New("live connection send buffer full")
)

type frame struct {
	event string
	data  []byte
}

// Sender writes one named event to a transport. Implementations must be safe for concurrent use
// and should bound how long a write may block.
type Sender interface {
	Send(event string, data []byte) error
}

// Conn is one open push connection of a user.
type Conn struct {
	ID     string
	UserID uint

	sender Sender
	queue  chan frame
	hub    *Hub
	idle   time.Duration
	timer  *time.Timer
	once   sync.Once
	done   chan struct{}

	mu     sync.Mutex
	reason CloseReason
}

// Done is closed once the connection has been closed for any reason.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Reason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Close runs once; later calls are no-ops. It removes only this connection from the hub.
func (c *Conn) Close(reason CloseReason) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		c.timer.Stop()
		c.hub.unregister(c)
		close(c.done)
		metrics.LiveConnectionClosed(string(reason))
		c.hub.log.Debug("live connection closed",
			zap.String("conn_id", c.ID), zap.Uint("user_id", c.UserID), zap.String("reason", string(reason)))
	})
}

func (c *Conn) send(event string, data []byte) error {
	if err := c.sender.Send(event, data); err != nil {
		return err
	}
	select {
	case <-c.done:
	default:
		c.timer.Reset(c.idle)
	}
	return nil
}

// enqueue hands an event to the write loop without blocking.
func (c *Conn) enqueue(event string, data []byte) error {
	select {
	case <-c.done:
		return errStreamClosed
	default:
	}
	select {
	case c.queue <- frame{event: event, data: data}:
		return nil
	default:
		return errSlowConsumer
	}
}

// writeLoop drains the queue so a stalled client only ever blocks its own goroutine.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.queue:
			if err := c.send(f.event, f.data); err != nil {
				c.hub.log.Warn("live send failed",
					zap.String("conn_id", c.ID), zap.Uint("user_id", c.UserID), zap.Error(err))
				c.Close(ReasonError)
				return
			}
		}
	}
}

// Hub is the per-user registry of live connections.
type Hub struct {
	mu     sync.RWMutex
	byUser map[uint]map[*Conn]struct{}
	closed bool
	idle   time.Duration
	log    *zap.Logger
}

func NewHub(idle time.Duration, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		byUser: make(map[uint]map[*Conn]struct{}),
		idle:   idle,
		log:    log,
	}
}

// Subscribe registers a connection for userID, sends the connected acknowledgement and arms
// the idle timeout.
func (h *Hub) Subscribe(userID uint, s Sender) (*Conn, error) {
	c := &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		sender: s,
		queue:  make(chan frame, sendBuffer),
		hub:    h,
		idle:   h.idle,
		done:   make(chan struct{}),
	}
	c.timer = time.AfterFunc(h.idle, func() { c.Close(ReasonTimeout) })

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.timer.Stop()
		return nil, ErrHubClosed
	}
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*Conn]struct{})
	}
	h.byUser[userID][c] = struct{}{}
	h.mu.Unlock()
	metrics.LiveConnectionOpened()

	if err := c.send(domain.EventConnected, []byte(connectedMessage)); err != nil {
		c.Close(ReasonError)
		return nil, err
	}
	go c.writeLoop()
	h.log.Debug("live connection opened", zap.String("conn_id", c.ID), zap.Uint("user_id", userID))
	return c, nil
}

// Unsubscribe closes a client-ended connection.
func (h *Hub) Unsubscribe(userID uint, c *Conn) {
	if c == nil || c.UserID != userID {
		return
	}
	c.Close(ReasonClient)
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byUser[c.UserID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
}

// Push queues event for every connection of userID and returns how many accepted it. It never
// waits on a client: a connection whose buffer is full is closed after the loop.
func (h *Hub) Push(userID uint, event string, payload interface{}) int {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("encode live event", zap.String("event", event), zap.Error(err))
		return 0
	}
	h.mu.RLock()
	m := h.byUser[userID]
	conns := make([]*Conn, 0, len(m))
	for c := range m {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	var failed []*Conn
	for _, c := range conns {
		if err := c.enqueue(event, data); err != nil {
			h.log.Warn("live push dropped",
				zap.String("conn_id", c.ID), zap.Uint("user_id", userID), zap.Error(err))
			failed = append(failed, c)
			continue
		}
		delivered++
	}
	for _, c := range failed {
		c.Close(ReasonError)
	}
	return delivered
}

// ConnectionCount returns the number of open connections for userID.
func (h *Hub) ConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

func (h *Hub) hasUser(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byUser[userID]
	return ok
}

// Close shuts every connection down and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var conns []*Conn
	for _, m := range h.byUser {
		for c := range m {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Close(ReasonServer)
	}
}
