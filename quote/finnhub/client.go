// Package finnhub prices stocks, forex and crypto through the Finnhub REST API.
package finnhub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/Cyvadra/signal-relay/quote"
	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://finnhub.io/api/v1"

// Client is a Finnhub quote client
type Client struct {
	http   *resty.Client
	apiKey string
}

var _ quote.Provider = (*Client)(nil)

type quoteResponse struct {
	Current float64 `json:"c"`
	High    float64 `json:"h"`
	Low     float64 `json:"l"`
	Open    float64 `json:"o"`
	Prev    float64 `json:"pc"`
	Time    int64   `json:"t"`
}

// New creates a Finnhub client; an API key is required
func New(settings quote.Settings) (quote.Provider, error) {
	if settings.APIKey == "" {
		return nil, quote.NewProviderError(quote.FinnhubName, "INVALID_CREDENTIALS", "Finnhub API key is required", quote.ErrMissingAPIKey)
	}
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		apiKey: settings.APIKey,
	}, nil
}

func (c *Client) Name() string { return quote.FinnhubName }

func (c *Client) Supports(class models.AssetClass) bool {
	switch class {
	case models.AssetStocks, models.AssetForex, models.AssetCrypto:
		return true
	}
	return false
}

// Price fetches the current price from /quote
func (c *Client) Price(ctx context.Context, req quote.Request) (float64, error) {
	symbol, err := toFinnhubSymbol(req.Symbol, req.AssetClass)
	if err != nil {
		return 0, err
	}

	var out quoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("token", c.apiKey).
		SetResult(&out).
		Get("/quote")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, quote.NewProviderError(quote.FinnhubName, "TIMEOUT", "request timed out", quote.ErrTimeout)
		}
		return 0, quote.NewProviderError(quote.FinnhubName, "NETWORK_ERROR", "request failed", errors.Join(quote.ErrNetworkError, err))
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return 0, quote.NewProviderError(quote.FinnhubName, "RATE_LIMIT", "rate limited", quote.ErrRateLimitExceeded)
	case resp.StatusCode() >= 500:
		return 0, quote.NewProviderError(quote.FinnhubName, "SERVER_ERROR", fmt.Sprintf("status %d", resp.StatusCode()), quote.ErrNetworkError)
	case resp.IsError():
		return 0, quote.NewProviderError(quote.FinnhubName, "REQUEST_FAILED", fmt.Sprintf("status %d", resp.StatusCode()), quote.ErrNoPrice)
	}

	// Finnhub answers unknown symbols with an all-zero quote.
	if out.Current <= 0 {
		return 0, quote.NewProviderError(quote.FinnhubName, "NO_DATA", "no quote for "+symbol, quote.ErrNoPrice)
	}
	return out.Current, nil
}

// toFinnhubSymbol maps a normalized symbol to Finnhub's exchange-qualified form
func toFinnhubSymbol(symbol string, class models.AssetClass) (string, error) {
	symbol = quote.NormalizeSymbol(symbol)
	if symbol == "" {
		return "", quote.ErrInvalidSymbol
	}
	switch class {
	case models.AssetForex:
		if len(symbol) != 6 {
			return "", fmt.Errorf("%w: %s", quote.ErrInvalidSymbol, symbol)
		}
		return "OANDA:" + symbol[:3] + "_" + symbol[3:], nil
	case models.AssetCrypto:
		symbol = strings.TrimSuffix(strings.TrimSuffix(symbol, ".P"), "PERP")
		return "BINANCE:" + symbol, nil
	default:
		return symbol, nil
	}
}

func init() {
	quote.Register(quote.FinnhubName, New)
}
