package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Cyvadra/signal-relay/internal/lifecycle"
	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/Cyvadra/signal-relay/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SignalReader reads the in-memory signal window
type SignalReader interface {
	Get(ctx context.Context, id string) (*models.Signal, error)
	List(ctx context.Context, f store.Filter) ([]*models.Signal, error)
}

// Lifecycle drives signal state changes
type Lifecycle interface {
	RunOnce(ctx context.Context) (lifecycle.Report, error)
	CloseManually(ctx context.Context, id string, price *float64) (*models.Signal, error)
	Cancel(ctx context.Context, id string) (*models.Signal, error)
}

// SignalArchive reads signals that may have left the in-memory window
type SignalArchive interface {
	FindByID(ctx context.Context, id string) (*models.Signal, error)
}

// SignalHandler serves the signal query and management API
type SignalHandler struct {
	signals   SignalReader
	archive   SignalArchive
	lifecycle Lifecycle
	log       zerolog.Logger
}

// NewSignalHandler creates a signal handler
func NewSignalHandler(signals SignalReader, lc Lifecycle, log zerolog.Logger) *SignalHandler {
	return &SignalHandler{signals: signals, lifecycle: lc, log: log}
}

// WithArchive makes GetSignal fall back to the durable tier for evicted signals
func (h *SignalHandler) WithArchive(a SignalArchive) *SignalHandler {
	h.archive = a
	return h
}

// closeRequest is the optional body of a manual close
type closeRequest struct {
	Price *float64 `json:"price" binding:"omitempty,gt=0"`
}

// ListSignals handles GET /api/v1/signals. Without a subscriber only the
// global feed is listed; with one, the global feed plus that subscriber's.
func (h *SignalHandler) ListSignals(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxListLimit)
	}

	filter := store.Filter{
		Partitions: store.VisibleTo(c.Query("subscriber")),
		Limit:      limit,
	}
	if v := c.Query("asset_class"); v != "" {
		class := models.AssetClass(v)
		if !class.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid asset_class"})
			return
		}
		filter.AssetClass = class
	}
	filter.ActiveOnly = c.Query("status") == string(models.StatusActive)

	signals, err := h.signals.List(c.Request.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list signals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve signals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signals": signals,
		"count":   len(signals),
	})
}

// GetSignal handles GET /api/v1/signals/:id
func (h *SignalHandler) GetSignal(c *gin.Context) {
	sig, err := h.signals.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) && h.archive != nil {
		sig, err = h.archive.FindByID(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

// CloseSignal handles POST /api/v1/signals/:id/close
func (h *SignalHandler) CloseSignal(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid close request", "details": err.Error()})
		return
	}

	sig, err := h.lifecycle.CloseManually(c.Request.Context(), c.Param("id"), req.Price)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

// CancelSignal handles POST /api/v1/signals/:id/cancel
func (h *SignalHandler) CancelSignal(c *gin.Context) {
	sig, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

// RunLifecycle handles POST /api/v1/lifecycle/run
func (h *SignalHandler) RunLifecycle(c *gin.Context) {
	report, err := h.lifecycle.RunOnce(c.Request.Context())
	if errors.Is(err, lifecycle.ErrTickInProgress) {
		c.JSON(http.StatusOK, gin.H{"skipped": true})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("manual lifecycle tick failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lifecycle run failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *SignalHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Signal not found"})
	case errors.Is(err, store.ErrTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "Signal is already closed or cancelled"})
	case errors.Is(err, store.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("signal_id", c.Param("id")).Msg("signal request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
