package quote

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound  = errors.New("price provider not found")
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrNoPrice           = errors.New("no price available")
	ErrMissingAPIKey     = errors.New("api key is required")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNetworkError      = errors.New("network error")
	ErrTimeout           = errors.New("request timeout")
	ErrAllSourcesFailed  = errors.New("all price sources failed")
)

// temporaryCodes are provider error codes worth retrying
var temporaryCodes = map[string]bool{
	"RATE_LIMIT":    true,
	"NETWORK_ERROR": true,
	"TIMEOUT":       true,
	"SERVER_ERROR":  true,
}

// ProviderError is a failed lookup against one upstream price source
type ProviderError struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Err      error  `json:"-"`
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err with the provider name and an upstream code
func NewProviderError(provider, code, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message, Err: err}
}

// IsTemporaryError reports whether a lookup may succeed if retried
func IsTemporaryError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRateLimitExceeded), errors.Is(err, ErrNetworkError), errors.Is(err, ErrTimeout):
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && temporaryCodes[pe.Code]
}
