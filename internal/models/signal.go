package models

import (
	"time"
)

// Side is the normalized trade direction
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideNeutral Side = "neutral"
)

// AssetClass is the market classification of a symbol
type AssetClass string

const (
	AssetCrypto  AssetClass = "crypto"
	AssetForex   AssetClass = "forex"
	AssetFutures AssetClass = "futures"
	AssetStocks  AssetClass = "stocks"
)

// Valid reports whether c is a known asset class
func (c AssetClass) Valid() bool {
	switch c {
	case AssetCrypto, AssetForex, AssetFutures, AssetStocks:
		return true
	}
	return false
}

// Status is the lifecycle state of a signal
type Status string

const (
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// CloseReason explains why a signal left the active state
type CloseReason string

const (
	CloseStopLoss    CloseReason = "stop_loss"
	CloseTakeProfit1 CloseReason = "take_profit_1"
	CloseTakeProfit2 CloseReason = "take_profit_2"
	CloseTakeProfit3 CloseReason = "take_profit_3"
	CloseManual      CloseReason = "manual"
)

// TakeProfitReason returns the close reason for the n-th target (1-based)
func TakeProfitReason(n int) CloseReason {
	switch n {
	case 1:
		return CloseTakeProfit1
	case 2:
		return CloseTakeProfit2
	default:
		return CloseTakeProfit3
	}
}

// Format is the payload shape a signal was parsed from
type Format string

const (
	FormatStructured Format = "structured"
	FormatTemplated  Format = "templated"
	FormatFreeText   Format = "freetext"
)

// MaxTakeProfitTargets caps the take-profit cascade
const MaxTakeProfitTargets = 3

// GlobalScope is the subscriber id of signals visible to everyone
const GlobalScope = ""

// Signal is the canonical trading signal
type Signal struct {
	ID                 string      `json:"id" gorm:"primaryKey;size:36"`
	Symbol             string      `json:"symbol" gorm:"index;not null"`
	AssetClass         AssetClass  `json:"asset_class" gorm:"index"`
	Side               Side        `json:"side"`
	EntryPrice         *float64    `json:"entry_price"`
	StopLoss           *float64    `json:"stop_loss"`
	TakeProfitTargets  []float64   `json:"take_profit_targets" gorm:"serializer:json"`
	CurrentTargetIndex int         `json:"current_target_index"`
	Status             Status      `json:"status" gorm:"index"`
	CloseReason        CloseReason `json:"close_reason,omitempty"`
	ClosePrice         *float64    `json:"close_price,omitempty"`
	RealizedPnlPercent *float64    `json:"realized_pnl_percent,omitempty"`
	Provider           string      `json:"provider"`
	Timeframe          string      `json:"timeframe"`
	Format             Format      `json:"format"`
	Warnings           []string    `json:"warnings,omitempty" gorm:"serializer:json"`
	SubscriberID       string      `json:"subscriber_id,omitempty" gorm:"index"`
	Version            int64       `json:"version"`
	CreatedAt          time.Time   `json:"created_at" gorm:"index"`
	UpdatedAt          time.Time   `json:"updated_at" gorm:"autoUpdateTime:false"`
	ClosedAt           *time.Time  `json:"closed_at,omitempty"`
}

// IsTerminal reports whether the signal is closed or cancelled
func (s *Signal) IsTerminal() bool {
	return s.Status == StatusClosed || s.Status == StatusCancelled
}

// IsDirectional reports whether the evaluator should track the signal
func (s *Signal) IsDirectional() bool {
	return s.Side == SideBuy || s.Side == SideSell
}

// IsGlobal reports whether the signal belongs to the shared feed
func (s *Signal) IsGlobal() bool {
	return s.SubscriberID == GlobalScope
}

// PartitionKey returns the store partition the signal lives in
func (s *Signal) PartitionKey() string {
	return PartitionFor(s.SubscriberID)
}

// PartitionFor returns the partition key for a subscriber id
func PartitionFor(subscriberID string) string {
	if subscriberID == GlobalScope {
		return "global"
	}
	return "sub:" + subscriberID
}

// CurrentTarget returns the live take-profit level, if any
func (s *Signal) CurrentTarget() (float64, bool) {
	if s.CurrentTargetIndex < 0 || s.CurrentTargetIndex >= len(s.TakeProfitTargets) {
		return 0, false
	}
	return s.TakeProfitTargets[s.CurrentTargetIndex], true
}

// Clone returns a deep copy
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	c.EntryPrice = cloneFloat(s.EntryPrice)
	c.StopLoss = cloneFloat(s.StopLoss)
	c.ClosePrice = cloneFloat(s.ClosePrice)
	c.RealizedPnlPercent = cloneFloat(s.RealizedPnlPercent)
	if s.TakeProfitTargets != nil {
		c.TakeProfitTargets = append([]float64(nil), s.TakeProfitTargets...)
	}
	if s.Warnings != nil {
		c.Warnings = append([]string(nil), s.Warnings...)
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
