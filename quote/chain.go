package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Cyvadra/signal-relay/internal/metrics"
	"github.com/rs/zerolog"
)

// Quote is a resolved price and the provider that produced it
type Quote struct {
	Price    float64
	Provider string
}

// Chain tries providers in order, each bounded by its own timeout
type Chain struct {
	providers  []Provider
	timeout    time.Duration
	warnAfter  int
	retries    int
	retryDelay time.Duration
	log        zerolog.Logger

	mu       sync.Mutex
	failures map[string]int
}

// ChainOption configures a Chain
type ChainOption func(*Chain)

// WithStepTimeout bounds each provider call
func WithStepTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithWarnAfter sets how many consecutive total failures for one symbol
// escalate logging to warn
func WithWarnAfter(n int) ChainOption {
	return func(c *Chain) {
		if n > 0 {
			c.warnAfter = n
		}
	}
}

// WithRetries retries a provider up to n times on temporary errors, backing
// off from base, within the same step timeout
func WithRetries(n int, base time.Duration) ChainOption {
	return func(c *Chain) {
		if n >= 0 {
			c.retries = n
		}
		if base > 0 {
			c.retryDelay = base
		}
	}
}

// WithChainLogger sets the logger
func WithChainLogger(l zerolog.Logger) ChainOption {
	return func(c *Chain) { c.log = l }
}

// NewChain creates a fallback chain over providers, tried in the given order
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers:  providers,
		timeout:    5 * time.Second,
		warnAfter:  3,
		retryDelay: 200 * time.Millisecond,
		log:        zerolog.Nop(),
		failures:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the provider names in resolution order
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Resolve returns the first valid price in chain order
func (c *Chain) Resolve(ctx context.Context, req Request) (Quote, error) {
	var errs []error
	for _, p := range c.providers {
		if !p.Supports(req.AssetClass) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Quote{}, err
		}

		price, err := c.try(ctx, p, req)
		if err == nil {
			c.resetFailures(req.Symbol)
			return Quote{Price: price, Provider: p.Name()}, nil
		}

		c.log.Debug().Err(err).
			Str("provider", p.Name()).
			Str("symbol", req.Symbol).
			Msg("price lookup failed, trying next source")
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}

	n := c.recordFailure(req.Symbol)
	ev := c.log.Debug()
	if n >= c.warnAfter {
		ev = c.log.Warn()
	}
	ev.Str("symbol", req.Symbol).Int("consecutive_failures", n).Msg("no price source could resolve symbol")

	if len(errs) == 0 {
		return Quote{}, fmt.Errorf("%w: no provider supports %s", ErrAllSourcesFailed, req.AssetClass)
	}
	return Quote{}, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
}

func (c *Chain) try(ctx context.Context, p Provider, req Request) (float64, error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var price float64
	err := RetryWithBackoff(stepCtx, c.retries, c.retryDelay, func() error {
		var err error
		price, err = p.Price(stepCtx, req)
		if err == nil {
			price, err = ValidPrice(price)
		}
		return err
	})

	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			result = "timeout"
		}
	}
	metrics.RecordPriceLookup(p.Name(), result, time.Since(start).Seconds())
	return price, err
}

func (c *Chain) recordFailure(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[symbol]++
	return c.failures[symbol]
}

func (c *Chain) resetFailures(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, symbol)
}

// Failures returns the consecutive total-failure count for symbol
func (c *Chain) Failures(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[symbol]
}
