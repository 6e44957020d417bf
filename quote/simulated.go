package quote

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/Cyvadra/signal-relay/internal/models"
)

// SimulatedName is the registry name of the deterministic source
const SimulatedName = "simulated"

// Simulated derives a repeatable price from the symbol, the current hour and a
// reference level. It is the last resort when no live source answers.
type Simulated struct {
	spread float64
	now    func() time.Time
}

var _ Provider = (*Simulated)(nil)

// NewSimulated creates a simulated provider moving within ±spread of the reference
func NewSimulated(spread float64, now func() time.Time) *Simulated {
	if now == nil {
		now = time.Now
	}
	return &Simulated{spread: spread, now: now}
}

func (s *Simulated) Name() string { return SimulatedName }

func (s *Simulated) Supports(models.AssetClass) bool { return true }

// Price returns reference * (1 + spread * u), u in [-1, 1), stable within an hour
func (s *Simulated) Price(ctx context.Context, req Request) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if req.Reference == nil || *req.Reference <= 0 {
		return 0, NewProviderError(SimulatedName, "NO_REFERENCE", "reference price required", ErrNoPrice)
	}

	bucket := s.now().UTC().Truncate(time.Hour).Unix()
	h := fnv.New64a()
	_, _ = h.Write([]byte(req.Symbol))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(bucket, 10)))

	u := float64(h.Sum64()>>11)/float64(1<<53)*2 - 1
	return *req.Reference * (1 + s.spread*u), nil
}

func init() {
	Register(SimulatedName, func(settings Settings) (Provider, error) {
		return NewSimulated(settings.Spread, nil), nil
	})
}
