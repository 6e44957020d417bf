package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSnapshot struct {
	signals map[string][]*models.Signal
}

func (s staticSnapshot) RecentActive(_ context.Context, subscriberID string, limit int) ([]*models.Signal, error) {
	out := s.signals[subscriberID]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, r.URL.Query().Get("subscriber"))
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func event(sig *models.Signal) models.Event {
	return models.Event{Type: models.EventSignalCreated, Signal: sig, At: time.Now().UTC()}
}

func TestSnapshotOnConnect(t *testing.T) {
	hub := NewHub(DefaultConfig(), WithSnapshotSource(staticSnapshot{signals: map[string][]*models.Signal{
		"alice": {{ID: "a1", Symbol: "BTCUSDT"}, {ID: "g1", Symbol: "ETHUSDT"}},
	}}))
	url := startServer(t, hub)

	conn := dial(t, url+"?subscriber=alice")
	var snap models.Snapshot
	readJSON(t, conn, &snap)

	assert.Equal(t, models.EventSnapshot, snap.Type)
	assert.NotEmpty(t, snap.ConnectionID)
	require.Len(t, snap.Signals, 2)
	assert.Equal(t, "a1", snap.Signals[0].ID)
	assert.True(t, hub.Connected("alice"))
}

func TestDirectedAndBroadcastDelivery(t *testing.T) {
	hub := NewHub(DefaultConfig())
	url := startServer(t, hub)

	alice := dial(t, url+"?subscriber=alice")
	bob := dial(t, url+"?subscriber=bob")
	var snap models.Snapshot
	readJSON(t, alice, &snap)
	readJSON(t, bob, &snap)

	d := hub.Deliver(context.Background(), event(&models.Signal{ID: "p1", SubscriberID: "alice"}), Target{SubscriberID: "alice"})
	assert.Equal(t, 1, d.Queued)
	assert.False(t, d.Missed)

	var got models.Event
	readJSON(t, alice, &got)
	assert.Equal(t, "p1", got.Signal.ID)

	d = hub.Deliver(context.Background(), event(&models.Signal{ID: "g1"}), Target{Broadcast: true})
	assert.Equal(t, 2, d.Queued)

	readJSON(t, alice, &got)
	assert.Equal(t, "g1", got.Signal.ID)
	// bob never saw alice's private event
	readJSON(t, bob, &got)
	assert.Equal(t, "g1", got.Signal.ID)
}

func TestDirectedToAbsentIdentityIsNoop(t *testing.T) {
	hub := NewHub(DefaultConfig())
	url := startServer(t, hub)
	other := dial(t, url+"?subscriber=bob")
	var snap models.Snapshot
	readJSON(t, other, &snap)

	d := hub.Deliver(context.Background(), event(&models.Signal{ID: "p1", SubscriberID: "carol"}), Target{SubscriberID: "carol"})
	assert.True(t, d.Missed)
	assert.Zero(t, d.Queued)
	assert.False(t, d.Fallback)
}

func TestFallbackBroadcast(t *testing.T) {
	hub := NewHub(DefaultConfig())
	url := startServer(t, hub)
	bob := dial(t, url+"?subscriber=bob")
	var snap models.Snapshot
	readJSON(t, bob, &snap)

	d := hub.Deliver(context.Background(), event(&models.Signal{ID: "p1", SubscriberID: "carol"}),
		Target{SubscriberID: "carol", FallbackBroadcast: true})
	assert.True(t, d.Fallback)
	assert.Equal(t, 1, d.Queued)

	var got models.Event
	readJSON(t, bob, &got)
	assert.Equal(t, "p1", got.Signal.ID)
}

func TestDisconnectRemovesIdentity(t *testing.T) {
	hub := NewHub(DefaultConfig())
	url := startServer(t, hub)
	conn := dial(t, url+"?subscriber=alice")
	var snap models.Snapshot
	readJSON(t, conn, &snap)
	require.True(t, hub.Connected("alice"))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return !hub.Connected("alice") }, 2*time.Second, 10*time.Millisecond)
	d := hub.Deliver(context.Background(), event(&models.Signal{ID: "p1", SubscriberID: "alice"}), Target{SubscriberID: "alice"})
	assert.True(t, d.Missed)
}

func TestSlowClientDropsWithoutBlockingOthers(t *testing.T) {
	hub := NewHub(Config{SendBuffer: 1})
	slow := &Client{id: "slow", identity: "alice", hub: hub, send: make(chan []byte, 1)}
	fast := &Client{id: "fast", identity: "bob", hub: hub, send: make(chan []byte, 8)}
	hub.Register(slow)
	hub.Register(fast)

	var total Delivery
	for i := 0; i < 3; i++ {
		d := hub.Deliver(context.Background(), event(&models.Signal{ID: "g"}), Target{Broadcast: true})
		total.Queued += d.Queued
		total.Dropped += d.Dropped
	}
	assert.Equal(t, 4, total.Queued)
	assert.Equal(t, 2, total.Dropped)
	assert.Len(t, fast.send, 3)

	hub.Unregister(slow)
	assert.False(t, slow.enqueue([]byte("x")))
	assert.Equal(t, 1, hub.Count())
}

// publishingSnapshot delivers an event while the snapshot is being built
type publishingSnapshot struct {
	hub *Hub
	sig *models.Signal
}

func (s *publishingSnapshot) RecentActive(ctx context.Context, subscriberID string, _ int) ([]*models.Signal, error) {
	s.hub.Deliver(ctx, event(s.sig), Target{SubscriberID: subscriberID})
	return []*models.Signal{}, nil
}

func TestEventDuringSnapshotFollowsSnapshot(t *testing.T) {
	src := &publishingSnapshot{sig: &models.Signal{ID: "late", SubscriberID: "alice"}}
	hub := NewHub(DefaultConfig(), WithSnapshotSource(src))
	src.hub = hub
	url := startServer(t, hub)

	conn := dial(t, url+"?subscriber=alice")
	var snap models.Snapshot
	readJSON(t, conn, &snap)
	assert.Equal(t, models.EventSnapshot, snap.Type)
	assert.Empty(t, snap.Signals)

	var got models.Event
	readJSON(t, conn, &got)
	assert.Equal(t, models.EventSignalCreated, got.Type)
	assert.Equal(t, "late", got.Signal.ID)
}

func TestStartingClientHoldsEvents(t *testing.T) {
	hub := NewHub(Config{SendBuffer: 2})
	c := &Client{id: "c", identity: "alice", hub: hub, send: make(chan []byte, 3), starting: true}

	assert.True(t, c.enqueue([]byte("e1")))
	assert.True(t, c.enqueue([]byte("e2")))
	assert.False(t, c.enqueue([]byte("e3")))
	assert.Empty(t, c.send)

	c.start([]byte("snap"))
	require.Len(t, c.send, 3)
	assert.Equal(t, "snap", string(<-c.send))
	assert.Equal(t, "e1", string(<-c.send))
	assert.Equal(t, "e2", string(<-c.send))

	assert.True(t, c.enqueue([]byte("e4")))
	assert.Equal(t, "e4", string(<-c.send))
}
