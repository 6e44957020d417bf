package services

import (
	"context"
	"fmt"

	"github.com/Cyvadra/signal-relay/internal/models"
	"gorm.io/gorm"
)

// AlertService keeps the audit trail of inbound webhook payloads
type AlertService struct {
	db *gorm.DB
}

// NewAlertService creates a new alert service
func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{db: db}
}

// SaveAlert saves an alert to the database
func (s *AlertService) SaveAlert(ctx context.Context, alert *models.Alert) error {
	return s.db.WithContext(ctx).Create(alert).Error
}

// MarkOutcome stores the accept/reject result carried by alert
func (s *AlertService) MarkOutcome(ctx context.Context, alert *models.Alert) error {
	err := s.db.WithContext(ctx).Model(alert).
		Select("status", "reason", "signal_id", "subscriber_id").
		Updates(alert).Error
	if err != nil {
		return fmt.Errorf("update alert %d: %w", alert.ID, err)
	}
	return nil
}

// GetAlert retrieves an alert by ID
func (s *AlertService) GetAlert(ctx context.Context, id uint) (*models.Alert, error) {
	var alert models.Alert
	if err := s.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// GetAlerts retrieves alerts with pagination and optional status filter
func (s *AlertService) GetAlerts(ctx context.Context, page, limit int, status string) ([]models.Alert, int64, error) {
	var alerts []models.Alert
	var total int64

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	scoped := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.Alert{})
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q
	}

	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := scoped().Offset(offset).Limit(limit).Order("created_at DESC, id DESC").Find(&alerts).Error; err != nil {
		return nil, 0, err
	}

	return alerts, total, nil
}
