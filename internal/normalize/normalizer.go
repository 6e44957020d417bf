// Package normalize turns heterogeneous webhook payloads into canonical signals.
//
// Three payload shapes are recognized: structured JSON with explicit field
// names, provider-templated JSON (ticker/close/tp1..tp3/sl), and free text
// carrying "Symbol:", "Entry:", "Stop Loss:", "Take Profit:" markers. A JSON
// string literal or an object holding only a message/text field is treated as
// free text.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/google/uuid"
)

// Reason is a machine-readable rejection code
type Reason string

const (
	ReasonEmptyPayload     Reason = "empty_payload"
	ReasonNotObject        Reason = "not_object"
	ReasonMissingSymbol    Reason = "missing_symbol"
	ReasonUnresolvableSide Reason = "unresolvable_side"
)

// Warning codes attached to accepted signals
const (
	WarnTargetOrder    = "tp_order_inconsistent"
	WarnStopWrongSide  = "stop_loss_wrong_side"
	WarnTargetsDropped = "extra_targets_dropped"
)

// Rejection is returned for payloads that cannot become a signal
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
	}
	return string(r.Reason)
}

// AsRejection unwraps a rejection from err
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

func reject(reason Reason, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Hints carries provenance known from the transport
type Hints struct {
	Provider     string
	SubscriberID string
}

// Normalizer converts raw payloads into signals
type Normalizer struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithIDGenerator overrides signal id assignment
func WithIDGenerator(fn func() string) Option {
	return func(n *Normalizer) { n.newID = fn }
}

// New creates a normalizer
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize parses raw into a signal. A non-nil error is always a *Rejection.
func (n *Normalizer) Normalize(raw []byte, hints Hints) (*models.Signal, error) {
	draft, err := parse(raw)
	if err != nil {
		return nil, err
	}
	return n.finish(draft, hints), nil
}

// draft is the shape-independent result of parsing
type draft struct {
	format     models.Format
	symbol     string
	side       models.Side
	assetClass string
	entry      *float64
	stop       *float64
	targets    []float64
	timeframe  string
	provider   string
	dropped    bool
}

func parse(raw []byte) (*draft, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, reject(ReasonEmptyPayload, "body is empty")
	}

	switch trimmed[0] {
	case '{', '[', '"':
	default:
		if !json.Valid(trimmed) {
			return parseFreeText(string(trimmed))
		}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, reject(ReasonNotObject, "malformed json: %v", err)
	}

	switch val := v.(type) {
	case map[string]interface{}:
		return parseObject(newFields(val))
	case string:
		return parseFreeText(val)
	default:
		return nil, reject(ReasonNotObject, "payload is %T", v)
	}
}

func parseObject(f fields) (*draft, error) {
	if _, ok := f.lookup(symbolKeys...); !ok {
		if msg, ok := f.str(messageKeys...); ok && strings.TrimSpace(msg) != "" {
			d, err := parseFreeText(msg)
			if err != nil {
				return nil, err
			}
			if d.provider == "" {
				d.provider, _ = f.str(providerKeys...)
			}
			return d, nil
		}
		return nil, reject(ReasonMissingSymbol, "no symbol field")
	}

	d := &draft{format: models.FormatStructured}
	if _, ok := f.lookup("symbol"); !ok {
		d.format = models.FormatTemplated
	}

	sym, _ := f.str(symbolKeys...)
	d.symbol = NormalizeSymbol(sym)
	if d.symbol == "" {
		return nil, reject(ReasonMissingSymbol, "symbol is blank")
	}

	side, err := f.side()
	if err != nil {
		return nil, err
	}
	d.side = side

	d.entry = f.number(entryKeys...)
	d.stop = f.number(stopKeys...)
	d.targets, d.dropped = f.targets()
	d.assetClass, _ = f.str(assetClassKeys...)
	d.timeframe, _ = f.str(timeframeKeys...)
	d.provider, _ = f.str(providerKeys...)
	return d, nil
}

func (n *Normalizer) finish(d *draft, hints Hints) *models.Signal {
	provider := strings.TrimSpace(hints.Provider)
	if provider == "" {
		provider = strings.TrimSpace(d.provider)
	}

	now := n.now().UTC()
	targets := d.targets
	if targets == nil {
		targets = []float64{}
	}

	sig := &models.Signal{
		ID:                n.newID(),
		Symbol:            d.symbol,
		AssetClass:        InferAssetClass(d.assetClass, d.symbol),
		Side:              d.side,
		EntryPrice:        d.entry,
		StopLoss:          d.stop,
		TakeProfitTargets: targets,
		Status:            models.StatusActive,
		Provider:          provider,
		Timeframe:         DefaultTimeframe(provider, d.timeframe),
		Format:            d.format,
		SubscriberID:      hints.SubscriberID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	sig.Warnings = flag(sig, d.dropped)
	return sig
}

// flag records level inconsistencies without rejecting the signal
func flag(s *models.Signal, dropped bool) []string {
	var warnings []string
	if dropped {
		warnings = append(warnings, WarnTargetsDropped)
	}
	if !s.IsDirectional() {
		return warnings
	}

	further := func(a, b float64) bool {
		if s.Side == models.SideBuy {
			return b > a
		}
		return b < a
	}

	prev := s.EntryPrice
	for i := range s.TakeProfitTargets {
		tp := s.TakeProfitTargets[i]
		if prev != nil && !further(*prev, tp) {
			warnings = append(warnings, WarnTargetOrder)
			break
		}
		prev = &tp
	}

	if s.EntryPrice != nil && s.StopLoss != nil && !further(*s.StopLoss, *s.EntryPrice) {
		warnings = append(warnings, WarnStopWrongSide)
	}
	return warnings
}
