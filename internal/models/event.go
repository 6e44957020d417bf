package models

import (
	"time"
)

// EventType names a fan-out message
type EventType string

const (
	EventSnapshot        EventType = "snapshot"
	EventSignalCreated   EventType = "signal_created"
	EventTargetHit       EventType = "target_hit"
	EventSignalClosed    EventType = "signal_closed"
	EventSignalCancelled EventType = "signal_cancelled"
)

// Event carries the full current signal record, never a diff
type Event struct {
	Type   EventType `json:"type"`
	Signal *Signal   `json:"signal"`
	Price  *float64  `json:"price,omitempty"`
	At     time.Time `json:"at"`
}

// Snapshot is the first message sent on a new connection
type Snapshot struct {
	Type         EventType `json:"type"`
	ConnectionID string    `json:"connection_id"`
	Signals      []*Signal `json:"signals"`
	At           time.Time `json:"at"`
}
