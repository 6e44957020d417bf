package quote

import (
	"fmt"

	"github.com/Cyvadra/signal-relay/internal/config"
	"github.com/rs/zerolog"
)

// Provider names in fallback order: primary market data, exchange public API, simulation.
const (
	FinnhubName = "finnhub"
	BinanceName = "binance"
)

// NewChainFromConfig builds the fallback chain from enabled providers.
// Provider packages must be imported for their factories to be registered.
func NewChainFromConfig(cfg config.QuotesConfig, log zerolog.Logger) (*Chain, error) {
	steps := []struct {
		name     string
		enabled  bool
		settings Settings
	}{
		{FinnhubName, cfg.Finnhub.Enabled, Settings{APIKey: cfg.Finnhub.APIKey, BaseURL: cfg.Finnhub.BaseURL, Timeout: cfg.Timeout}},
		{BinanceName, cfg.Binance.Enabled, Settings{BaseURL: cfg.Binance.BaseURL, Timeout: cfg.Timeout}},
		{SimulatedName, cfg.Simulated.Enabled, Settings{Spread: cfg.Simulated.Spread}},
	}

	var providers []Provider
	for _, step := range steps {
		if !step.enabled {
			log.Debug().Str("provider", step.name).Msg("price provider disabled")
			continue
		}
		p, err := Create(step.name, step.settings)
		if err != nil {
			return nil, fmt.Errorf("create price provider %s: %w", step.name, err)
		}
		providers = append(providers, p)
		log.Info().Str("provider", step.name).Msg("price provider enabled")
	}

	return NewChain(providers,
		WithStepTimeout(cfg.Timeout),
		WithWarnAfter(cfg.FailureWarnThreshold),
		WithRetries(cfg.Retries, cfg.RetryDelay),
		WithChainLogger(log),
	), nil
}
