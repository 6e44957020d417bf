package quote

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParsePrice parses a price string to float64
func ParsePrice(price string) (float64, error) {
	if price == "" {
		return 0, ErrInvalidPrice
	}

	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}

	return ValidPrice(p)
}

// ValidPrice rejects non-finite and non-positive prices
func ValidPrice(p float64) (float64, error) {
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return 0, fmt.Errorf("%w: price must be a positive finite number", ErrInvalidPrice)
	}
	return p, nil
}

// NormalizeSymbol normalizes symbol format (removes common variations)
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(symbol)
	symbol = strings.ReplaceAll(symbol, "-", "")
	symbol = strings.ReplaceAll(symbol, "_", "")
	symbol = strings.ReplaceAll(symbol, "/", "")
	return symbol
}

// RetryWithBackoff executes a function with exponential backoff
func RetryWithBackoff(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			if delay > time.Minute {
				delay = time.Minute
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsTemporaryError(err) {
			break
		}
	}

	return lastErr
}
