package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxInboundMessage = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one websocket connection
type Client struct {
	id       string
	identity string
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte

	mu       sync.Mutex
	closed   bool
	// starting holds events back until the snapshot is queued
	starting bool
	pending  [][]byte
}

// ID returns the connection identity assigned on connect
func (c *Client) ID() string { return c.id }

// enqueue hands msg to the write pump without blocking
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.starting {
		if len(c.pending) >= cap(c.send)-1 {
			return false
		}
		c.pending = append(c.pending, msg)
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// start queues the snapshot ahead of any events held back while it was built
func (c *Client) start(snapshot []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.send <- snapshot
	for _, msg := range c.pending {
		select {
		case c.send <- msg:
		default:
		}
	}
	c.pending = nil
	c.starting = false
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeWS upgrades the request, sends the snapshot visible to subscriberID and
// streams events until the connection drops
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, subscriberID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	c := &Client{
		id:       uuid.NewString(),
		identity: subscriberID,
		conn:     conn,
		hub:      h,
		send:     make(chan []byte, h.cfg.SendBuffer+1),
		starting: true,
	}

	h.Register(c)
	snap, err := h.buildSnapshot(r.Context(), c)
	if err != nil {
		h.log.Warn().Err(err).Str("connection_id", c.id).Msg("failed to build snapshot")
		snap = models.Snapshot{Type: models.EventSnapshot, ConnectionID: c.id, Signals: []*models.Signal{}, At: time.Now().UTC()}
	}
	msg, err := json.Marshal(snap)
	if err != nil {
		h.Unregister(c)
		_ = conn.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	c.start(msg)

	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) buildSnapshot(ctx context.Context, c *Client) (models.Snapshot, error) {
	snap := models.Snapshot{
		Type:         models.EventSnapshot,
		ConnectionID: c.id,
		Signals:      []*models.Signal{},
		At:           time.Now().UTC(),
	}
	if h.snapshot == nil || h.cfg.SnapshotSize == 0 {
		return snap, nil
	}
	sigs, err := h.snapshot.RecentActive(ctx, c.identity, h.cfg.SnapshotSize)
	if err != nil {
		return snap, err
	}
	snap.Signals = sigs
	return snap, nil
}

// readPump drains client frames so pongs are processed, and unregisters on error
func (c *Client) readPump() {
	defer c.hub.Unregister(c)

	pongWait := c.hub.cfg.PingInterval * 2
	c.conn.SetReadLimit(maxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("connection_id", c.id).Msg("websocket read error")
			}
			return
		}
	}
}

// writePump is the only writer on the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.log.Debug().Err(err).Str("connection_id", c.id).Msg("websocket write failed")
				c.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}
