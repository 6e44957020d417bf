package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Cyvadra/signal-relay/internal/config"
	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/go-resty/resty/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultTelegramAPI = "https://api.telegram.org"

// ForwardService forwards signal events to downstream chat and webhook endpoints
type ForwardService struct {
	client      *resty.Client
	endpoints   []config.EndpointConfig
	telegramAPI string
}

// NewForwardService creates a new forward service
func NewForwardService(endpoints []config.EndpointConfig) *ForwardService {
	return &ForwardService{
		client:      resty.New().SetTimeout(10 * time.Second),
		endpoints:   endpoints,
		telegramAPI: defaultTelegramAPI,
	}
}

// Name identifies the sink in logs
func (s *ForwardService) Name() string { return "forward" }

// Send forwards event to every active endpoint and joins their errors
func (s *ForwardService) Send(ctx context.Context, event models.Event) error {
	var errs []error
	for _, ep := range s.endpoints {
		if !ep.IsActive {
			continue
		}
		if err := s.forwardToEndpoint(ctx, event, ep); err != nil {
			errs = append(errs, fmt.Errorf("%s (%s): %w", ep.Name, ep.Type, err))
		}
	}
	return errors.Join(errs...)
}

// SyncEndpoints records the configured endpoints so operators can see them next to the audit trail
func (s *ForwardService) SyncEndpoints(ctx context.Context, db *gorm.DB) error {
	if len(s.endpoints) == 0 {
		return nil
	}
	rows := make([]models.DownstreamEndpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		rows = append(rows, models.DownstreamEndpoint{
			Name:     ep.Name,
			Type:     ep.Type,
			URL:      ep.URL,
			ChatID:   ep.ChatID,
			IsActive: ep.IsActive,
		})
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "url", "chat_id", "is_active", "updated_at"}),
	}).Create(&rows).Error
}

func (s *ForwardService) forwardToEndpoint(ctx context.Context, event models.Event, endpoint config.EndpointConfig) error {
	switch endpoint.Type {
	case "telegram":
		return s.forwardToTelegram(ctx, event, endpoint)
	case "wechat", "dingtalk":
		return s.forwardText(ctx, event, endpoint)
	case "webhook":
		return s.forwardToWebhook(ctx, event, endpoint)
	default:
		return fmt.Errorf("unsupported endpoint type: %s", endpoint.Type)
	}
}

func (s *ForwardService) forwardToTelegram(ctx context.Context, event models.Event, endpoint config.EndpointConfig) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.telegramAPI, endpoint.Token)
	payload := map[string]interface{}{
		"chat_id":    endpoint.ChatID,
		"text":       formatTelegramMessage(event),
		"parse_mode": "HTML",
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("telegram API request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// forwardText posts the plain-text message body shared by WeChat Work and DingTalk robots
func (s *ForwardService) forwardText(ctx context.Context, event models.Event, endpoint config.EndpointConfig) error {
	payload := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": formatTextMessage(event),
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(endpoint.URL)
	if err != nil {
		return fmt.Errorf("%s API request failed: %w", endpoint.Type, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s API returned status %d: %s", endpoint.Type, resp.StatusCode(), resp.String())
	}
	return nil
}

func (s *ForwardService) forwardToWebhook(ctx context.Context, event models.Event, endpoint config.EndpointConfig) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(endpoint.URL)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func eventTitle(t models.EventType) string {
	switch t {
	case models.EventSignalCreated:
		return "New Signal"
	case models.EventTargetHit:
		return "Target Hit"
	case models.EventSignalClosed:
		return "Signal Closed"
	case models.EventSignalCancelled:
		return "Signal Cancelled"
	default:
		return string(t)
	}
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *p)
}

// formatTelegramMessage formats the event for Telegram (HTML parse mode)
func formatTelegramMessage(event models.Event) string {
	sig := event.Signal
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🚨 <b>%s</b>\n\n", eventTitle(event.Type)))
	sb.WriteString(fmt.Sprintf("💱 <b>Symbol:</b> %s (%s)\n", sig.Symbol, sig.AssetClass))
	sb.WriteString(fmt.Sprintf("⚡ <b>Side:</b> %s\n", strings.ToUpper(string(sig.Side))))
	sb.WriteString(fmt.Sprintf("💰 <b>Entry:</b> %s\n", formatPrice(sig.EntryPrice)))
	writeLevels(&sb, event, "<b>", "</b>")
	sb.WriteString(fmt.Sprintf("⏰ <b>Time:</b> %s", event.At.Format("2006-01-02 15:04:05")))
	return sb.String()
}

// formatTextMessage formats the event for WeChat and DingTalk
func formatTextMessage(event models.Event) string {
	sig := event.Signal
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🚨 %s\n\n", eventTitle(event.Type)))
	sb.WriteString(fmt.Sprintf("💱 Symbol: %s (%s)\n", sig.Symbol, sig.AssetClass))
	sb.WriteString(fmt.Sprintf("⚡ Side: %s\n", strings.ToUpper(string(sig.Side))))
	sb.WriteString(fmt.Sprintf("💰 Entry: %s\n", formatPrice(sig.EntryPrice)))
	writeLevels(&sb, event, "", "")
	sb.WriteString(fmt.Sprintf("⏰ Time: %s", event.At.Format("2006-01-02 15:04:05")))
	return sb.String()
}

func writeLevels(sb *strings.Builder, event models.Event, bold, unbold string) {
	sig := event.Signal
	if sig.StopLoss != nil {
		sb.WriteString(fmt.Sprintf("🛑 %sStop Loss:%s %s\n", bold, unbold, formatPrice(sig.StopLoss)))
	}
	for i, tp := range sig.TakeProfitTargets {
		sb.WriteString(fmt.Sprintf("🎯 %sTP%d:%s %g\n", bold, i+1, unbold, tp))
	}
	switch event.Type {
	case models.EventTargetHit:
		sb.WriteString(fmt.Sprintf("📈 %sHit at:%s %s, next TP%d\n", bold, unbold, formatPrice(event.Price), sig.CurrentTargetIndex+1))
	case models.EventSignalClosed:
		sb.WriteString(fmt.Sprintf("🏁 %sReason:%s %s\n", bold, unbold, sig.CloseReason))
		if sig.RealizedPnlPercent != nil {
			sb.WriteString(fmt.Sprintf("📊 %sPnL:%s %.2f%%\n", bold, unbold, *sig.RealizedPnlPercent))
		}
	}
	if sig.Provider != "" {
		sb.WriteString(fmt.Sprintf("📡 %sProvider:%s %s\n", bold, unbold, sig.Provider))
	}
}
