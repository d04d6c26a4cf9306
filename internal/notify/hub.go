package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/scheduler"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 32
	readLimit    = 4096
)

// Relay carries owner messages across service instances.
type Relay interface {
	Publish(ctx context.Context, ownerID string, msg Message) error
	Subscribe(ownerID string, handler func(Message)) (cancel func(), err error)
}

// Hub keeps the WebSocket connections of each owner. With a Relay, messages
// are published once and delivered to local clients by the subscription, so
// every instance sees them exactly once.
type Hub struct {
	mu       sync.RWMutex
	owners   map[string]map[*client]struct{}
	subs     map[string]*subscription
	relay    Relay
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type client struct {
	ownerID string
	hub     *Hub
	conn    *websocket.Conn
	send    chan Message
	once    sync.Once
}

// NewHub creates a hub. relay may be nil for a single instance deployment.
func NewHub(relay Relay, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		owners: make(map[string]map[*client]struct{}),
		subs:   make(map[string]*subscription),
		relay:  relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "notify.hub"),
	}
}

// NotifyOwner implements application.Notifier.
func (h *Hub) NotifyOwner(ctx context.Context, event scheduler.Event, change application.ChangeSummary) error {
	msg, err := NewMessage(change)
	if err != nil {
		return err
	}
	if h.relay != nil {
		return h.relay.Publish(ctx, event.OwnerID, msg)
	}
	h.Deliver(event.OwnerID, msg)
	return nil
}

// Deliver pushes msg to the local connections of ownerID. Slow clients with
// a full buffer miss the message.
func (h *Hub) Deliver(ownerID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.owners[ownerID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client buffer full, message dropped", "owner_id", ownerID, "event", msg.Event)
		}
	}
}

// Connected returns the number of open connections for ownerID.
func (h *Hub) Connected(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[ownerID])
}

// Serve upgrades the request and streams the owner's notifications until
// the connection closes. Authentication happens before Serve is called.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, ownerID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "owner_id", ownerID, "error", err)
		return
	}
	c := &client{
		ownerID: ownerID,
		hub:     h,
		conn:    conn,
		send:    make(chan Message, sendBuffer),
	}
	h.register(c)
	go c.writePump()
	c.readPump()
}

// Close disconnects every client and cancels relay subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	var clients []*client
	for _, set := range h.owners {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

// subscription is the relay registration for one owner. cancel stays nil
// while Subscribe is still in flight.
type subscription struct {
	cancel func()
}

func (h *Hub) register(c *client) {
	ownerID := c.ownerID
	h.mu.Lock()
	if h.owners[ownerID] == nil {
		h.owners[ownerID] = make(map[*client]struct{})
	}
	h.owners[ownerID][c] = struct{}{}
	var sub *subscription
	if h.relay != nil && h.subs[ownerID] == nil {
		sub = &subscription{}
		h.subs[ownerID] = sub
	}
	h.mu.Unlock()
	h.logger.Debug("client connected", "owner_id", ownerID)

	if sub != nil {
		h.subscribe(ownerID, sub)
	}
}

// subscribe runs the relay round-trip without holding the hub lock and
// installs the result only if the owner is still connected.
func (h *Hub) subscribe(ownerID string, sub *subscription) {
	cancel, err := h.relay.Subscribe(ownerID, func(msg Message) {
		h.Deliver(ownerID, msg)
	})

	h.mu.Lock()
	current := h.subs[ownerID] == sub
	if err != nil && current {
		delete(h.subs, ownerID)
	}
	if err == nil && current {
		sub.cancel = cancel
	}
	h.mu.Unlock()

	switch {
	case err != nil:
		h.logger.Warn("relay subscription failed", "owner_id", ownerID, "error", err)
	case !current:
		cancel()
	}
}

func (h *Hub) unregister(c *client) {
	c.once.Do(func() {
		var cancel func()
		h.mu.Lock()
		if set, ok := h.owners[c.ownerID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.owners, c.ownerID)
				if sub, ok := h.subs[c.ownerID]; ok {
					cancel = sub.cancel
					delete(h.subs, c.ownerID)
				}
			}
		}
		close(c.send)
		h.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		h.logger.Debug("client disconnected", "owner_id", c.ownerID)
	})
}

// readPump only services control frames; owners never send data.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
