package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cyvadra/signal-relay/internal/config"
	"github.com/Cyvadra/signal-relay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrWebhookNotFound covers unknown, inactive and ambiguous tokens alike
var ErrWebhookNotFound = errors.New("webhook not found")

// DefaultMinPrefixLength is the shortest token prefix accepted by ResolvePrefix
const DefaultMinPrefixLength = 8

// WebhookService maps per-subscriber webhook tokens to subscribers
type WebhookService struct {
	db        *gorm.DB
	minPrefix int
	now       func() time.Time
}

// NewWebhookService creates a new webhook service
func NewWebhookService(db *gorm.DB, minPrefix int) *WebhookService {
	if minPrefix <= 0 {
		minPrefix = DefaultMinPrefixLength
	}
	return &WebhookService{db: db, minPrefix: minPrefix, now: time.Now}
}

// Resolve returns the active registration for token
func (s *WebhookService) Resolve(ctx context.Context, token string) (*models.WebhookRegistration, error) {
	if token == "" {
		return nil, ErrWebhookNotFound
	}

	var reg models.WebhookRegistration
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook: %w", err)
	}
	if !reg.Active {
		return nil, ErrWebhookNotFound
	}
	return &reg, nil
}

// ResolvePrefix resolves a shortened token. Exactly one active token must start
// with prefix; anything else is not found.
func (s *WebhookService) ResolvePrefix(ctx context.Context, prefix string) (*models.WebhookRegistration, error) {
	if len(prefix) < s.minPrefix {
		return nil, ErrWebhookNotFound
	}

	var regs []models.WebhookRegistration
	err := s.db.WithContext(ctx).
		Where("token LIKE ? ESCAPE '\\' AND active = ?", escapeLike(prefix)+"%", true).
		Limit(2).
		Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook: %w", err)
	}
	if len(regs) != 1 {
		return nil, ErrWebhookNotFound
	}
	return &regs[0], nil
}

// RecordUse bumps the usage counter of a registration
func (s *WebhookService) RecordUse(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.WebhookRegistration{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"signal_count": gorm.Expr("signal_count + ?", 1),
			"last_used_at": s.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record webhook use: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// Seed upserts registrations from the webhook seed file, keyed by token
func (s *WebhookService) Seed(ctx context.Context, entries []config.WebhookEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	regs := make([]models.WebhookRegistration, 0, len(entries))
	for _, e := range entries {
		regs = append(regs, models.WebhookRegistration{
			SubscriberID: e.SubscriberID,
			Token:        e.Token,
			Name:         e.Name,
			Active:       e.Active,
		})
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"subscriber_id", "name", "active", "updated_at"}),
	}).Create(&regs).Error
	if err != nil {
		return 0, fmt.Errorf("failed to seed webhooks: %w", err)
	}
	return len(regs), nil
}

// Deactivate disables a token; it resolves to not found afterwards
func (s *WebhookService) Deactivate(ctx context.Context, token string) error {
	res := s.db.WithContext(ctx).Model(&models.WebhookRegistration{}).
		Where("token = ?", token).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate webhook: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// List returns the registrations of a subscriber, or all of them when subscriberID is empty
func (s *WebhookService) List(ctx context.Context, subscriberID string) ([]models.WebhookRegistration, error) {
	var regs []models.WebhookRegistration
	q := s.db.WithContext(ctx).Order("id")
	if subscriberID != "" {
		q = q.Where("subscriber_id = ?", subscriberID)
	}
	err := q.Find(&regs).Error
	return regs, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
