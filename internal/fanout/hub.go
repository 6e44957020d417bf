// Package fanout keeps live websocket connections per subscriber identity
// and pushes signal events to them. Delivery is best effort: nothing is
// persisted or replayed beyond the snapshot sent on connect.
package fanout

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/Cyvadra/signal-relay/internal/metrics"
	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/rs/zerolog"
)

const shardCount = 32

// Config controls connection behavior
type Config struct {
	SnapshotSize int
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultConfig returns the connection defaults
func DefaultConfig() Config {
	return Config{
		SnapshotSize: 50,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   64,
	}
}

// SnapshotSource supplies the active signals a new connection starts from
type SnapshotSource interface {
	RecentActive(ctx context.Context, subscriberID string, limit int) ([]*models.Signal, error)
}

// Target selects the recipients of an event
type Target struct {
	// SubscriberID is the directed recipient; ignored when Broadcast is set.
	SubscriberID string
	Broadcast    bool
	// FallbackBroadcast sends to everyone when SubscriberID has no live connection.
	FallbackBroadcast bool
}

// Delivery reports what happened to one event
type Delivery struct {
	Queued   int  `json:"queued"`
	Dropped  int  `json:"dropped"`
	Fallback bool `json:"fallback"`
	// Missed is set when a directed target had no live connection.
	Missed bool `json:"missed"`
}

type shard struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// Hub is the connection table, sharded by identity
type Hub struct {
	cfg      Config
	snapshot SnapshotSource
	log      zerolog.Logger
	shards   [shardCount]*shard
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithSnapshotSource sets where connect snapshots come from
func WithSnapshotSource(s SnapshotSource) HubOption {
	return func(h *Hub) { h.snapshot = s }
}

// WithHubLogger sets the logger
func WithHubLogger(l zerolog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// NewHub creates an empty hub
func NewHub(cfg Config, opts ...HubOption) *Hub {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	h := &Hub{cfg: cfg, log: zerolog.Nop()}
	for i := range h.shards {
		h.shards[i] = &shard{clients: make(map[string]map[*Client]struct{})}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) shardFor(identity string) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(identity))
	return h.shards[f.Sum32()%shardCount]
}

// Register adds a client under its identity
func (h *Hub) Register(c *Client) {
	s := h.shardFor(c.identity)
	s.mu.Lock()
	set, ok := s.clients[c.identity]
	if !ok {
		set = make(map[*Client]struct{})
		s.clients[c.identity] = set
	}
	set[c] = struct{}{}
	s.mu.Unlock()

	metrics.AddConnections(1)
	h.log.Debug().Str("connection_id", c.id).Str("identity", c.identity).Msg("client registered")
}

// Unregister removes a client; the identity entry goes away with its last connection
func (h *Hub) Unregister(c *Client) {
	s := h.shardFor(c.identity)
	s.mu.Lock()
	set, ok := s.clients[c.identity]
	removed := false
	if ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			removed = true
		}
		if len(set) == 0 {
			delete(s.clients, c.identity)
		}
	}
	s.mu.Unlock()

	if removed {
		c.close()
		metrics.AddConnections(-1)
		h.log.Debug().Str("connection_id", c.id).Str("identity", c.identity).Msg("client unregistered")
	}
}

// Connected reports whether identity has at least one live connection
func (h *Hub) Connected(identity string) bool {
	s := h.shardFor(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[identity]) > 0
}

// Count returns the number of live connections
func (h *Hub) Count() int {
	n := 0
	for _, s := range h.shards {
		s.mu.RLock()
		for _, set := range s.clients {
			n += len(set)
		}
		s.mu.RUnlock()
	}
	return n
}

// Deliver enqueues event for the target's connections. It never blocks on a
// slow connection and a directed target without connections is not an error.
func (h *Hub) Deliver(ctx context.Context, event models.Event, target Target) Delivery {
	var d Delivery
	msg, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event.Type)).Msg("failed to encode event")
		return d
	}

	if !target.Broadcast {
		s := h.shardFor(target.SubscriberID)
		s.mu.RLock()
		set := s.clients[target.SubscriberID]
		for c := range set {
			h.enqueue(c, msg, &d)
		}
		found := len(set) > 0
		s.mu.RUnlock()

		if found || !target.FallbackBroadcast {
			d.Missed = !found
			return d
		}
		d.Fallback = true
	}

	for _, s := range h.shards {
		if ctx.Err() != nil {
			break
		}
		s.mu.RLock()
		for _, set := range s.clients {
			for c := range set {
				h.enqueue(c, msg, &d)
			}
		}
		s.mu.RUnlock()
	}
	return d
}

func (h *Hub) enqueue(c *Client, msg []byte, d *Delivery) {
	if c.enqueue(msg) {
		d.Queued++
		metrics.RecordDelivery("queued")
		return
	}
	d.Dropped++
	metrics.RecordDelivery("dropped")
	h.log.Debug().Str("connection_id", c.id).Msg("send queue full, message dropped")
}

// Close disconnects every client
func (h *Hub) Close() {
	var all []*Client
	for _, s := range h.shards {
		s.mu.RLock()
		for _, set := range s.clients {
			for c := range set {
				all = append(all, c)
			}
		}
		s.mu.RUnlock()
	}
	for _, c := range all {
		h.Unregister(c)
	}
}
