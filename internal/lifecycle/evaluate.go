package lifecycle

import (
	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/shopspring/decimal"
)

// Decision is the outcome of checking one signal against one price
type Decision struct {
	Event       models.EventType // empty when nothing changed
	Price       float64
	NextIndex   int
	CloseReason models.CloseReason
	PnlPercent  *float64
}

// Changed reports whether the decision mutates the signal
func (d Decision) Changed() bool {
	return d.Event != ""
}

// Closes reports whether the decision is terminal
func (d Decision) Closes() bool {
	return d.Event == models.EventSignalClosed
}

// Evaluate checks the stop loss first, then walks the take-profit cascade.
// A price beyond several targets advances through all of them in one step and
// closes on the last one.
func Evaluate(sig *models.Signal, price float64) Decision {
	d := Decision{Price: price, NextIndex: sig.CurrentTargetIndex}
	if sig.Status != models.StatusActive || !sig.IsDirectional() {
		return d
	}

	if sig.StopLoss != nil && stopHit(sig.Side, price, *sig.StopLoss) {
		return closed(d, sig, models.CloseStopLoss)
	}

	idx := sig.CurrentTargetIndex
	for idx < len(sig.TakeProfitTargets) && targetHit(sig.Side, price, sig.TakeProfitTargets[idx]) {
		if idx == len(sig.TakeProfitTargets)-1 {
			d.NextIndex = idx
			return closed(d, sig, models.TakeProfitReason(idx+1))
		}
		idx++
	}
	if idx != sig.CurrentTargetIndex {
		d.Event = models.EventTargetHit
		d.NextIndex = idx
	}
	return d
}

// Apply writes the decision onto sig
func (d Decision) Apply(sig *models.Signal) {
	if !d.Changed() {
		return
	}
	sig.CurrentTargetIndex = d.NextIndex
	if d.Closes() {
		sig.Status = models.StatusClosed
		sig.CloseReason = d.CloseReason
		sig.ClosePrice = models.Float(d.Price)
		sig.RealizedPnlPercent = d.PnlPercent
	}
}

// PnlPercent returns the realized percentage for a position closed at price,
// or nil without a usable entry
func PnlPercent(side models.Side, entry *float64, price float64) *float64 {
	if entry == nil || *entry <= 0 {
		return nil
	}
	e := decimal.NewFromFloat(*entry)
	c := decimal.NewFromFloat(price)

	var diff decimal.Decimal
	switch side {
	case models.SideBuy:
		diff = c.Sub(e)
	case models.SideSell:
		diff = e.Sub(c)
	default:
		return nil
	}
	v, _ := diff.Div(e).Mul(decimal.NewFromInt(100)).Float64()
	return &v
}

func closed(d Decision, sig *models.Signal, reason models.CloseReason) Decision {
	d.Event = models.EventSignalClosed
	d.CloseReason = reason
	d.PnlPercent = PnlPercent(sig.Side, sig.EntryPrice, d.Price)
	return d
}

func stopHit(side models.Side, price, stop float64) bool {
	if side == models.SideBuy {
		return price <= stop
	}
	return price >= stop
}

func targetHit(side models.Side, price, target float64) bool {
	if side == models.SideBuy {
		return price >= target
	}
	return price <= target
}
