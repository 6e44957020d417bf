package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Cyvadra/signal-relay/internal/lifecycle"
	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/Cyvadra/signal-relay/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLifecycle struct {
	mock.Mock
}

func (m *mockLifecycle) RunOnce(ctx context.Context) (lifecycle.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(lifecycle.Report), args.Error(1)
}

func (m *mockLifecycle) CloseManually(ctx context.Context, id string, price *float64) (*models.Signal, error) {
	args := m.Called(ctx, id, price)
	sig, _ := args.Get(0).(*models.Signal)
	return sig, args.Error(1)
}

func (m *mockLifecycle) Cancel(ctx context.Context, id string) (*models.Signal, error) {
	args := m.Called(ctx, id)
	sig, _ := args.Get(0).(*models.Signal)
	return sig, args.Error(1)
}

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, sig := range []*models.Signal{
		{ID: "g1", Symbol: "BTCUSDT", AssetClass: models.AssetCrypto, Side: models.SideBuy},
		{ID: "a1", Symbol: "EURUSD", AssetClass: models.AssetForex, Side: models.SideSell, SubscriberID: "alice"},
		{ID: "b1", Symbol: "AAPL", AssetClass: models.AssetStocks, Side: models.SideBuy, SubscriberID: "bob"},
		{ID: "g2", Symbol: "ETHUSDT", AssetClass: models.AssetCrypto, Side: models.SideSell},
	} {
		sig.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, _, err := s.Put(context.Background(), sig)
		require.NoError(t, err)
	}
	return s
}

func signalRouter(h *SignalHandler) *gin.Engine {
	r := gin.New()
	r.GET("/api/v1/signals", h.ListSignals)
	r.GET("/api/v1/signals/:id", h.GetSignal)
	r.POST("/api/v1/signals/:id/close", h.CloseSignal)
	r.POST("/api/v1/signals/:id/cancel", h.CancelSignal)
	r.POST("/api/v1/lifecycle/run", h.RunLifecycle)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func listedIDs(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Signals []models.Signal `json:"signals"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	ids := make([]string, 0, len(resp.Signals))
	for _, s := range resp.Signals {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, len(ids), resp.Count)
	return ids
}

func TestListSignals(t *testing.T) {
	r := signalRouter(NewSignalHandler(seededStore(t), &mockLifecycle{}, zerolog.Nop()))

	assert.Equal(t, []string{"g2", "g1"}, listedIDs(t, do(r, http.MethodGet, "/api/v1/signals", "")))
	assert.Equal(t, []string{"g2", "a1", "g1"}, listedIDs(t, do(r, http.MethodGet, "/api/v1/signals?subscriber=alice", "")))
	assert.Equal(t, []string{"g2"}, listedIDs(t, do(r, http.MethodGet, "/api/v1/signals?subscriber=alice&limit=1", "")))
	assert.Equal(t, []string{"a1"}, listedIDs(t, do(r, http.MethodGet, "/api/v1/signals?subscriber=alice&asset_class=forex", "")))

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/signals?asset_class=bonds", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/signals?limit=-3", "").Code)
}

func TestGetSignal(t *testing.T) {
	r := signalRouter(NewSignalHandler(seededStore(t), &mockLifecycle{}, zerolog.Nop()))

	w := do(r, http.MethodGet, "/api/v1/signals/a1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sig models.Signal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sig))
	assert.Equal(t, "EURUSD", sig.Symbol)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/signals/missing", "").Code)
}

func TestCloseSignal(t *testing.T) {
	lc := &mockLifecycle{}
	closed := &models.Signal{ID: "g1", Status: models.StatusClosed, CloseReason: models.CloseManual}
	lc.On("CloseManually", mock.Anything, "g1", mock.MatchedBy(func(p *float64) bool {
		return p != nil && *p == 68175
	})).Return(closed, nil).Once()
	lc.On("CloseManually", mock.Anything, "g2", (*float64)(nil)).Return(closed, nil).Once()
	lc.On("CloseManually", mock.Anything, "done", (*float64)(nil)).Return(nil, store.ErrTerminal).Once()

	r := signalRouter(NewSignalHandler(seededStore(t), lc, zerolog.Nop()))

	w := do(r, http.MethodPost, "/api/v1/signals/g1/close", `{"price":68175}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"close_reason":"manual"`)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/signals/g2/close", "").Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/v1/signals/done/close", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/signals/g1/close", `{"price":-1}`).Code)

	lc.AssertExpectations(t)
}

func TestCancelSignal(t *testing.T) {
	lc := &mockLifecycle{}
	lc.On("Cancel", mock.Anything, "g1").Return(&models.Signal{ID: "g1", Status: models.StatusCancelled}, nil)
	lc.On("Cancel", mock.Anything, "missing").Return(nil, store.ErrNotFound)

	r := signalRouter(NewSignalHandler(seededStore(t), lc, zerolog.Nop()))

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/signals/g1/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/v1/signals/missing/cancel", "").Code)
}

func TestRunLifecycle(t *testing.T) {
	lc := &mockLifecycle{}
	lc.On("RunOnce", mock.Anything).Return(lifecycle.Report{Evaluated: 3, Closed: 1}, nil).Once()
	lc.On("RunOnce", mock.Anything).Return(lifecycle.Report{}, lifecycle.ErrTickInProgress).Once()

	r := signalRouter(NewSignalHandler(seededStore(t), lc, zerolog.Nop()))

	w := do(r, http.MethodPost, "/api/v1/lifecycle/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report lifecycle.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 3, report.Evaluated)
	assert.Equal(t, 1, report.Closed)

	w = do(r, http.MethodPost, "/api/v1/lifecycle/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"skipped":true}`, w.Body.String())
}

type mapArchive map[string]*models.Signal

func (a mapArchive) FindByID(_ context.Context, id string) (*models.Signal, error) {
	if sig, ok := a[id]; ok {
		return sig, nil
	}
	return nil, store.ErrNotFound
}

func TestGetSignalFallsBackToArchive(t *testing.T) {
	archive := mapArchive{"old": {ID: "old", Symbol: "SOLUSDT", Status: models.StatusClosed}}
	h := NewSignalHandler(seededStore(t), &mockLifecycle{}, zerolog.Nop()).WithArchive(archive)
	r := signalRouter(h)

	w := do(r, http.MethodGet, "/api/v1/signals/old", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"symbol":"SOLUSDT"`)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/signals/g1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/signals/gone", "").Code)
}
