// Package quote resolves live prices for the lifecycle evaluator through an
// ordered chain of providers.
package quote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Cyvadra/signal-relay/internal/models"
)

// Request describes the instrument to price
type Request struct {
	Symbol     string
	AssetClass models.AssetClass
	// Reference is a known level (usually the entry price) that simulated
	// sources anchor to.
	Reference *float64
}

// Provider returns the current price of an instrument
type Provider interface {
	// Name returns the provider name
	Name() string

	// Supports reports whether the provider can price an asset class
	Supports(class models.AssetClass) bool

	// Price returns the latest price; it must honor ctx cancellation
	Price(ctx context.Context, req Request) (float64, error)
}

// Settings are passed to provider factories
type Settings struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Spread  float64
}

// Factory is a factory function type for creating providers
type Factory func(settings Settings) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register registers a provider factory
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Create creates a new provider instance by name
func Create(name string, settings Settings) (Provider, error) {
	registryMu.RLock()
	factory, exists := registry[name]
	registryMu.RUnlock()
	if !exists {
		return nil, ErrProviderNotFound
	}
	return factory(settings)
}

// RegisteredProviders returns the sorted names of all registered providers
func RegisteredProviders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
