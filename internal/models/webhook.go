package models

import (
	"time"
)

// WebhookRegistration maps an opaque bearer token to a subscriber
type WebhookRegistration struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	SubscriberID string     `json:"subscriber_id" gorm:"index;not null"`
	Token        string     `json:"-" gorm:"uniqueIndex;not null"`
	Name         string     `json:"name"`
	Active       bool       `json:"active"`
	SignalCount  int64      `json:"signal_count"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
