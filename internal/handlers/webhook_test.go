package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Cyvadra/signal-relay/internal/config"
	"github.com/Cyvadra/signal-relay/internal/database"
	"github.com/Cyvadra/signal-relay/internal/normalize"
	"github.com/Cyvadra/signal-relay/internal/services"
	"github.com/Cyvadra/signal-relay/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Ingest(ctx context.Context, req services.IngestRequest) services.Outcome {
	args := m.Called(ctx, req)
	return args.Get(0).(services.Outcome)
}

func webhookRouter(h *WebhookHandler) *gin.Engine {
	r := gin.New()
	r.POST("/webhooks/signals", h.HandleGeneric)
	r.POST("/webhooks/provider/:path", h.HandleProvider)
	r.POST("/webhooks/user/:token", h.HandleUser)
	r.POST("/webhooks/u/:prefix", h.HandleShort)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeOutcome(t *testing.T, w *httptest.ResponseRecorder) services.Outcome {
	t.Helper()
	var out services.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestWebhookRoutesBuildRequests(t *testing.T) {
	body := `{"symbol":"BTCUSDT","side":"buy"}`
	tests := []struct {
		name string
		path string
		want services.IngestRequest
	}{
		{
			name: "generic",
			path: "/webhooks/signals",
			want: services.IngestRequest{Source: services.SourceGeneric, Body: []byte(body)},
		},
		{
			name: "provider",
			path: "/webhooks/provider/x9f2k",
			want: services.IngestRequest{Source: services.SourceProvider, Provider: "Solaris", Body: []byte(body)},
		},
		{
			name: "user token",
			path: "/webhooks/user/a1b2c3d4e5f6a7b8",
			want: services.IngestRequest{Source: services.SourceUser, Token: "a1b2c3d4e5f6a7b8", Body: []byte(body)},
		},
		{
			name: "short prefix",
			path: "/webhooks/u/a1b2c3d4e5",
			want: services.IngestRequest{Source: services.SourceShort, TokenPrefix: "a1b2c3d4e5", Body: []byte(body)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &mockIngester{}
			ing.On("Ingest", mock.Anything, tt.want).Return(services.Outcome{Accepted: true, SignalID: "sig-1"})

			h := NewWebhookHandler(ing, map[string]string{"x9f2k": "Solaris"}, 1024, zerolog.Nop())
			w := post(webhookRouter(h), tt.path, body)

			assert.Equal(t, http.StatusOK, w.Code)
			out := decodeOutcome(t, w)
			assert.True(t, out.Accepted)
			assert.Equal(t, "sig-1", out.SignalID)
			ing.AssertExpectations(t)
		})
	}
}

func TestWebhookUnknownProviderPath(t *testing.T) {
	ing := &mockIngester{}
	h := NewWebhookHandler(ing, map[string]string{"x9f2k": "Solaris"}, 1024, zerolog.Nop())

	w := post(webhookRouter(h), "/webhooks/provider/nope", `{"symbol":"BTCUSDT"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	out := decodeOutcome(t, w)
	assert.False(t, out.Accepted)
	assert.Equal(t, services.ReasonNotFound, out.Reason)
	ing.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestWebhookRejectionStillReturns200(t *testing.T) {
	ing := &mockIngester{}
	ing.On("Ingest", mock.Anything, mock.Anything).Return(services.Outcome{Reason: "missing_symbol"})
	h := NewWebhookHandler(ing, nil, 1024, zerolog.Nop())

	w := post(webhookRouter(h), "/webhooks/signals", `{"side":"buy"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":false,"reason":"missing_symbol"}`, w.Body.String())
}

func TestWebhookOversizedBody(t *testing.T) {
	ing := &mockIngester{}
	h := NewWebhookHandler(ing, nil, 16, zerolog.Nop())

	w := post(webhookRouter(h), "/webhooks/signals", strings.Repeat("x", 64))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	ing.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

// Full path from HTTP to the store, with a real registry behind it.
func TestWebhookEndToEnd(t *testing.T) {
	db, err := database.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	webhooks := services.NewWebhookService(db, services.DefaultMinPrefixLength)
	_, err = webhooks.Seed(context.Background(), []config.WebhookEntry{
		{SubscriberID: "alice", Token: "a1b2c3d4e5f6a7b8", Active: true},
		{SubscriberID: "carol", Token: "c0ffee00c0ffee00", Active: false},
	})
	require.NoError(t, err)

	signals := store.New()
	ingest := services.NewIngestService(normalize.New(), webhooks, signals)
	r := webhookRouter(NewWebhookHandler(ingest, nil, 4096, zerolog.Nop()))

	text := "Symbol: BTCUSDT\nSide: BUY\nEntry: 67500\nStop Loss: 66950\nTake Profit: 68600, 69500, 70400"
	out := decodeOutcome(t, post(r, "/webhooks/signals", text))
	require.True(t, out.Accepted)

	sig, err := signals.Get(context.Background(), out.SignalID)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Empty(t, sig.SubscriberID)

	out = decodeOutcome(t, post(r, "/webhooks/user/a1b2c3d4e5f6a7b8", `{"symbol":"ETHUSDT","side":"sell"}`))
	require.True(t, out.Accepted)
	sig, err = signals.Get(context.Background(), out.SignalID)
	require.NoError(t, err)
	assert.Equal(t, "alice", sig.SubscriberID)

	w := post(r, "/webhooks/user/c0ffee00c0ffee00", `{"symbol":"ETHUSDT","side":"sell"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	out = decodeOutcome(t, w)
	assert.False(t, out.Accepted)
	assert.Equal(t, services.ReasonNotFound, out.Reason)
	assert.Equal(t, 2, signals.Len())
}
