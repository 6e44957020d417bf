package routes

import (
	"net/http"

	"github.com/Cyvadra/signal-relay/internal/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything the route table serves
type Handlers struct {
	Webhooks *handlers.WebhookHandler
	Signals  *handlers.SignalHandler
	Alerts   *handlers.AlertHandler
	Registry *handlers.RegistryHandler
	Stream   *handlers.StreamHandler
	// Stats adds runtime figures to /health when set.
	Stats func() gin.H
}

// SetupRoutes configures all the routes for the application
func SetupRoutes(r *gin.Engine, h Handlers) {
	// Inbound webhooks
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/signals", h.Webhooks.HandleGeneric)
		webhooks.POST("/provider/:path", h.Webhooks.HandleProvider)
		webhooks.POST("/user/:token", h.Webhooks.HandleUser)
		webhooks.POST("/u/:prefix", h.Webhooks.HandleShort)
	}

	// API routes
	api := r.Group("/api/v1")
	{
		// TradingView webhook endpoint
		api.POST("/webhook/tradingview", h.Webhooks.HandleGeneric)

		signals := api.Group("/signals")
		{
			signals.GET("", h.Signals.ListSignals)
			signals.GET("/:id", h.Signals.GetSignal)
			signals.POST("/:id/close", h.Signals.CloseSignal)
			signals.POST("/:id/cancel", h.Signals.CancelSignal)
		}

		api.POST("/lifecycle/run", h.Signals.RunLifecycle)

		registry := api.Group("/webhooks")
		{
			registry.GET("", h.Registry.ListWebhooks)
			registry.POST("/deactivate", h.Registry.DeactivateWebhook)
		}

		// Alert audit endpoints
		alerts := api.Group("/alerts")
		{
			alerts.GET("", h.Alerts.GetAlerts)
			alerts.GET("/:id", h.Alerts.GetAlert)
		}
	}

	r.GET("/ws", h.Stream.Serve)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		resp := gin.H{
			"status":  "ok",
			"service": "signal-relay",
		}
		if h.Stats != nil {
			for k, v := range h.Stats() {
				resp[k] = v
			}
		}
		c.JSON(http.StatusOK, resp)
	})

	// Root endpoint
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Trading Signal Relay",
			"version": "1.0.0",
			"endpoints": gin.H{
				"webhook":  "/webhooks/signals",
				"provider": "/webhooks/provider/:path",
				"user":     "/webhooks/user/:token",
				"signals":  "/api/v1/signals",
				"alerts":   "/api/v1/alerts",
				"stream":   "/ws",
				"health":   "/health",
				"metrics":  "/metrics",
			},
		})
	})
}
