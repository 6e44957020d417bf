package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Streamer upgrades a request into a fan-out connection
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, subscriberID string) error
}

// StreamHandler serves GET /ws
type StreamHandler struct {
	hub Streamer
	log zerolog.Logger
}

// NewStreamHandler creates a stream handler
func NewStreamHandler(hub Streamer, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, log: log}
}

// Serve connects the caller; an empty subscriber receives only global signals
func (h *StreamHandler) Serve(c *gin.Context) {
	if err := h.hub.ServeWS(c.Writer, c.Request, c.Query("subscriber")); err != nil {
		// the upgrader has already written the HTTP error
		h.log.Debug().Err(err).Str("remote", c.ClientIP()).Msg("websocket connect failed")
	}
}
