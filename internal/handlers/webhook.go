package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Cyvadra/signal-relay/internal/metrics"
	"github.com/Cyvadra/signal-relay/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Ingester processes one inbound payload
type Ingester interface {
	Ingest(ctx context.Context, req services.IngestRequest) services.Outcome
}

// WebhookHandler serves the inbound webhook endpoints. Every request with a
// readable body gets 200 and an Outcome; rejections are reported in the body.
type WebhookHandler struct {
	ingest        Ingester
	providerPaths map[string]string
	maxBodyBytes  int64
	log           zerolog.Logger
}

// NewWebhookHandler creates a webhook handler. providerPaths maps opaque path
// segments to provider names.
func NewWebhookHandler(ingest Ingester, providerPaths map[string]string, maxBodyBytes int64, log zerolog.Logger) *WebhookHandler {
	if providerPaths == nil {
		providerPaths = map[string]string{}
	}
	return &WebhookHandler{
		ingest:        ingest,
		providerPaths: providerPaths,
		maxBodyBytes:  maxBodyBytes,
		log:           log,
	}
}

// HandleGeneric handles POST /webhooks/signals
func (h *WebhookHandler) HandleGeneric(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	h.respond(c, services.IngestRequest{
		Source: services.SourceGeneric,
		Body:   body,
	})
}

// HandleProvider handles POST /webhooks/provider/:path
func (h *WebhookHandler) HandleProvider(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	provider, known := h.providerPaths[c.Param("path")]
	if !known {
		metrics.RecordIngest(services.SourceProvider, "rejected")
		h.log.Info().Str("source", services.SourceProvider).Msg("unknown provider path")
		c.JSON(http.StatusOK, services.Outcome{Reason: services.ReasonNotFound})
		return
	}

	h.respond(c, services.IngestRequest{
		Source:   services.SourceProvider,
		Provider: provider,
		Body:     body,
	})
}

// HandleUser handles POST /webhooks/user/:token
func (h *WebhookHandler) HandleUser(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	h.respond(c, services.IngestRequest{
		Source: services.SourceUser,
		Token:  c.Param("token"),
		Body:   body,
	})
}

// HandleShort handles POST /webhooks/u/:prefix
func (h *WebhookHandler) HandleShort(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	h.respond(c, services.IngestRequest{
		Source:      services.SourceShort,
		TokenPrefix: c.Param("prefix"),
		Body:        body,
	})
}

func (h *WebhookHandler) respond(c *gin.Context, req services.IngestRequest) {
	c.JSON(http.StatusOK, h.ingest.Ingest(c.Request.Context(), req))
}

func (h *WebhookHandler) readBody(c *gin.Context) ([]byte, bool) {
	reader := io.Reader(c.Request.Body)
	if h.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Request body too large"})
			return nil, false
		}
		h.log.Warn().Err(err).Msg("failed to read request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return nil, false
	}
	return body, true
}
