package quote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTemporaryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", fmt.Errorf("lookup: %w", ErrRateLimitExceeded), true},
		{"timeout", ErrTimeout, true},
		{"server error code", NewProviderError("binance", "SERVER_ERROR", "503", nil), true},
		{"wrapped network", NewProviderError("finnhub", "HTTP", "dial failed", ErrNetworkError), true},
		{"no data", NewProviderError("binance", "NO_DATA", "empty", ErrNoPrice), false},
		{"invalid symbol", ErrInvalidSymbol, false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTemporaryError(tt.err))
		})
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := NewProviderError("binance", "NO_DATA", "no ticker for BTCUSDT", ErrNoPrice)
	assert.Equal(t, "binance NO_DATA: no ticker for BTCUSDT: no price available", err.Error())
	assert.True(t, errors.Is(err, ErrNoPrice))

	bare := NewProviderError("finnhub", "INVALID_PRICE", "zero quote", nil)
	assert.Equal(t, "finnhub INVALID_PRICE: zero quote", bare.Error())
}
