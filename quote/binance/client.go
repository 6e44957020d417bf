// Package binance prices crypto pairs from Binance public spot and USDⓈ-M
// futures tickers. No credentials are needed.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/Cyvadra/signal-relay/quote"
	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

// Binance API error codes mapped onto quote errors
const (
	codeTooManyRequests = -1003
	codeInvalidSymbol   = -1121
)

// Client reads last prices from Binance
type Client struct {
	spot    *binance.Client
	futures *futures.Client
}

var _ quote.Provider = (*Client)(nil)

// New creates a Binance price client. BaseURL, when set, overrides both the
// spot and futures endpoints.
func New(settings quote.Settings) (quote.Provider, error) {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	spot := binance.NewClient("", "")
	spot.HTTPClient = httpClient
	fut := futures.NewClient("", "")
	fut.HTTPClient = httpClient

	if settings.BaseURL != "" {
		base := strings.TrimSuffix(settings.BaseURL, "/")
		spot.BaseURL = base
		fut.BaseURL = base
	}

	return &Client{spot: spot, futures: fut}, nil
}

func (c *Client) Name() string { return quote.BinanceName }

func (c *Client) Supports(class models.AssetClass) bool {
	return class == models.AssetCrypto
}

// Price returns the last traded price, using the futures ticker for
// perpetual symbols
func (c *Client) Price(ctx context.Context, req quote.Request) (float64, error) {
	symbol, perpetual := toBinanceSymbol(req.Symbol)
	if symbol == "" {
		return 0, quote.ErrInvalidSymbol
	}

	var raw string
	if perpetual {
		prices, err := c.futures.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return 0, wrapError(err)
		}
		for _, p := range prices {
			if p.Symbol == symbol {
				raw = p.Price
			}
		}
	} else {
		prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return 0, wrapError(err)
		}
		for _, p := range prices {
			if p.Symbol == symbol {
				raw = p.Price
			}
		}
	}

	if raw == "" {
		return 0, quote.NewProviderError(quote.BinanceName, "NO_DATA", "no ticker for "+symbol, quote.ErrNoPrice)
	}
	price, err := quote.ParsePrice(raw)
	if err != nil {
		return 0, quote.NewProviderError(quote.BinanceName, "INVALID_PRICE", "unparseable ticker price", err)
	}
	return price, nil
}

// toBinanceSymbol maps a normalized symbol to a Binance pair and reports
// whether it names a perpetual contract
func toBinanceSymbol(symbol string) (string, bool) {
	symbol = quote.NormalizeSymbol(symbol)
	perpetual := false
	for _, suffix := range []string{".P", "PERP"} {
		if strings.HasSuffix(symbol, suffix) {
			symbol = strings.TrimSuffix(symbol, suffix)
			perpetual = true
		}
	}
	// USD-quoted crypto trades against USDT on Binance.
	if strings.HasSuffix(symbol, "USD") && !hasStableQuote(symbol) {
		symbol += "T"
	}
	return symbol, perpetual
}

var stableQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD", "TUSD"}

func hasStableQuote(symbol string) bool {
	for _, q := range stableQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return true
		}
	}
	return false
}

func wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return quote.NewProviderError(quote.BinanceName, "TIMEOUT", "request timed out", quote.ErrTimeout)
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeTooManyRequests:
			return quote.NewProviderError(quote.BinanceName, "RATE_LIMIT", apiErr.Message, quote.ErrRateLimitExceeded)
		case codeInvalidSymbol:
			return quote.NewProviderError(quote.BinanceName, "INVALID_SYMBOL", apiErr.Message, quote.ErrInvalidSymbol)
		}
		return quote.NewProviderError(quote.BinanceName, fmt.Sprintf("API_%d", apiErr.Code), apiErr.Message, quote.ErrNoPrice)
	}

	return quote.NewProviderError(quote.BinanceName, "NETWORK_ERROR", "request failed", errors.Join(quote.ErrNetworkError, err))
}

func init() {
	quote.Register(quote.BinanceName, New)
}
