package models

import (
	"time"
)

// Alert status values
const (
	AlertReceived = "received"
	AlertAccepted = "accepted"
	AlertRejected = "rejected"
)

// Alert is the audit record of one inbound webhook payload
type Alert struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Source       string    `json:"source" gorm:"index"` // generic, provider, user, short
	Provider     string    `json:"provider"`
	SubscriberID string    `json:"subscriber_id,omitempty"`
	RawPayload   string    `json:"raw_payload" gorm:"type:text"`
	Status       string    `json:"status" gorm:"index"`
	Reason       string    `json:"reason,omitempty"`
	SignalID     string    `json:"signal_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DownstreamEndpoint represents a forwarding target persisted for reference
type DownstreamEndpoint struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"uniqueIndex"`
	Type      string    `json:"type"` // telegram, wechat, dingtalk, webhook
	URL       string    `json:"url"`
	ChatID    string    `json:"chat_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
