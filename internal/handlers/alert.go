package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AlertReader reads the inbound audit trail
type AlertReader interface {
	GetAlert(ctx context.Context, id uint) (*models.Alert, error)
	GetAlerts(ctx context.Context, page, limit int, status string) ([]models.Alert, int64, error)
}

// AlertHandler serves the audit trail of received payloads
type AlertHandler struct {
	alerts AlertReader
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts AlertReader) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// GetAlerts retrieves all alerts with pagination
func (h *AlertHandler) GetAlerts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	status := c.Query("status")

	alerts, total, err := h.alerts.GetAlerts(c.Request.Context(), page, limit, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// GetAlert retrieves a specific alert by ID
func (h *AlertHandler) GetAlert(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert ID"})
		return
	}

	alert, err := h.alerts.GetAlert(c.Request.Context(), uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve alert"})
		return
	}

	c.JSON(http.StatusOK, alert)
}
