package services

import (
	"context"
	"errors"
	"time"

	"github.com/Cyvadra/signal-relay/internal/metrics"
	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/Cyvadra/signal-relay/internal/normalize"
	"github.com/rs/zerolog"
)

// Ingest sources label where a payload arrived
const (
	SourceGeneric  = "generic"
	SourceProvider = "provider"
	SourceUser     = "user"
	SourceShort    = "short"
)

// Outcome reasons beyond the normalizer's rejection codes
const (
	ReasonNotFound      = "not_found"
	ReasonStoreFailure  = "store_unavailable"
	ReasonInvalidSignal = "invalid_signal"
)

// IngestRequest is one inbound webhook payload with its transport provenance
type IngestRequest struct {
	Source   string
	Provider string
	// Token or TokenPrefix selects a private subscriber scope.
	Token       string
	TokenPrefix string
	Body        []byte
}

// Outcome is returned to the webhook caller
type Outcome struct {
	Accepted bool     `json:"accepted"`
	Reason   string   `json:"reason,omitempty"`
	SignalID string   `json:"signal_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// SignalWriter stores accepted signals
type SignalWriter interface {
	Put(ctx context.Context, sig *models.Signal) (*models.Signal, []string, error)
}

// WebhookResolver maps tokens to subscribers
type WebhookResolver interface {
	Resolve(ctx context.Context, token string) (*models.WebhookRegistration, error)
	ResolvePrefix(ctx context.Context, prefix string) (*models.WebhookRegistration, error)
	RecordUse(ctx context.Context, id uint) error
}

// Publisher pushes events to connected clients and sinks
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// IngestService turns webhook payloads into stored, published signals
type IngestService struct {
	normalizer *normalize.Normalizer
	webhooks   WebhookResolver
	signals    SignalWriter
	publisher  Publisher
	alerts     *AlertService
	log        zerolog.Logger
	now        func() time.Time
}

// IngestOption configures an IngestService
type IngestOption func(*IngestService)

// WithAlertAudit records every payload through alerts
func WithAlertAudit(alerts *AlertService) IngestOption {
	return func(s *IngestService) { s.alerts = alerts }
}

// WithPublisher sets where new signals are announced
func WithPublisher(p Publisher) IngestOption {
	return func(s *IngestService) { s.publisher = p }
}

// WithIngestLogger sets the logger
func WithIngestLogger(l zerolog.Logger) IngestOption {
	return func(s *IngestService) { s.log = l }
}

// NewIngestService creates an ingest service
func NewIngestService(n *normalize.Normalizer, webhooks WebhookResolver, signals SignalWriter, opts ...IngestOption) *IngestService {
	s := &IngestService{
		normalizer: n,
		webhooks:   webhooks,
		signals:    signals,
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest processes one payload. Every semantic failure is reported in the
// Outcome; nothing here is a transport error.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) Outcome {
	alert := s.audit(ctx, req)

	hints := normalize.Hints{Provider: req.Provider}
	var reg *models.WebhookRegistration
	if req.Token != "" || req.TokenPrefix != "" || req.Source == SourceUser || req.Source == SourceShort {
		var err error
		if req.TokenPrefix != "" {
			reg, err = s.webhooks.ResolvePrefix(ctx, req.TokenPrefix)
		} else {
			reg, err = s.webhooks.Resolve(ctx, req.Token)
		}
		if err != nil {
			if !errors.Is(err, ErrWebhookNotFound) {
				s.log.Error().Err(err).Str("source", req.Source).Msg("webhook lookup failed")
			}
			return s.finish(ctx, req, alert, Outcome{Reason: ReasonNotFound})
		}
		hints.SubscriberID = reg.SubscriberID
		if alert != nil {
			alert.SubscriberID = reg.SubscriberID
		}
	}

	sig, err := s.normalizer.Normalize(req.Body, hints)
	if err != nil {
		reason := ReasonInvalidSignal
		if rej, ok := normalize.AsRejection(err); ok {
			reason = string(rej.Reason)
		}
		s.log.Info().Str("source", req.Source).Str("reason", reason).Err(err).Msg("payload rejected")
		return s.finish(ctx, req, alert, Outcome{Reason: reason})
	}

	stored, evicted, err := s.signals.Put(ctx, sig)
	if err != nil {
		s.log.Error().Err(err).Str("signal_id", sig.ID).Msg("failed to store signal")
		return s.finish(ctx, req, alert, Outcome{Reason: ReasonStoreFailure})
	}
	sig = stored
	if len(evicted) > 0 {
		s.log.Debug().Strs("evicted", evicted).Str("partition", sig.PartitionKey()).Msg("capacity eviction")
	}

	if reg != nil {
		if err := s.webhooks.RecordUse(ctx, reg.ID); err != nil {
			s.log.Warn().Err(err).Uint("webhook_id", reg.ID).Msg("failed to record webhook use")
		}
	}

	if s.publisher != nil {
		event := models.Event{Type: models.EventSignalCreated, Signal: sig, Price: sig.EntryPrice, At: s.now().UTC()}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("failed to publish new signal")
		}
	}

	s.log.Info().
		Str("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Str("side", string(sig.Side)).
		Str("asset_class", string(sig.AssetClass)).
		Str("format", string(sig.Format)).
		Str("provider", sig.Provider).
		Str("subscriber_id", sig.SubscriberID).
		Strs("warnings", sig.Warnings).
		Msg("signal accepted")

	return s.finish(ctx, req, alert, Outcome{Accepted: true, SignalID: sig.ID, Warnings: sig.Warnings})
}

func (s *IngestService) audit(ctx context.Context, req IngestRequest) *models.Alert {
	if s.alerts == nil {
		return nil
	}
	alert := &models.Alert{
		Source:     req.Source,
		Provider:   req.Provider,
		RawPayload: string(req.Body),
		Status:     models.AlertReceived,
	}
	if err := s.alerts.SaveAlert(ctx, alert); err != nil {
		s.log.Warn().Err(err).Msg("failed to save alert")
		return nil
	}
	return alert
}

func (s *IngestService) finish(ctx context.Context, req IngestRequest, alert *models.Alert, out Outcome) Outcome {
	status := models.AlertRejected
	result := "rejected"
	if out.Accepted {
		status = models.AlertAccepted
		result = "accepted"
	}
	metrics.RecordIngest(req.Source, result)

	if alert != nil {
		alert.Status = status
		alert.Reason = out.Reason
		alert.SignalID = out.SignalID
		if err := s.alerts.MarkOutcome(ctx, alert); err != nil {
			s.log.Warn().Err(err).Uint("alert_id", alert.ID).Msg("failed to update alert")
		}
	}
	return out
}
