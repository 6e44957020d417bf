package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/Cyvadra/signal-relay/internal/services"
	"github.com/gin-gonic/gin"
)

// WebhookRegistry manages per-subscriber webhook tokens
type WebhookRegistry interface {
	List(ctx context.Context, subscriberID string) ([]models.WebhookRegistration, error)
	Deactivate(ctx context.Context, token string) error
}

// RegistryHandler exposes webhook registrations to operators. Tokens are never
// returned.
type RegistryHandler struct {
	webhooks WebhookRegistry
}

// NewRegistryHandler creates a registry handler
func NewRegistryHandler(webhooks WebhookRegistry) *RegistryHandler {
	return &RegistryHandler{webhooks: webhooks}
}

type deactivateRequest struct {
	Token string `json:"token" binding:"required"`
}

// ListWebhooks handles GET /api/v1/webhooks
func (h *RegistryHandler) ListWebhooks(c *gin.Context) {
	regs, err := h.webhooks.List(c.Request.Context(), c.Query("subscriber"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve webhooks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": regs})
}

// DeactivateWebhook handles POST /api/v1/webhooks/deactivate
func (h *RegistryHandler) DeactivateWebhook(c *gin.Context) {
	var req deactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	err := h.webhooks.Deactivate(c.Request.Context(), req.Token)
	if errors.Is(err, services.ErrWebhookNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate webhook"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}
