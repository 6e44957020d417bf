package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Cyvadra/signal-relay/internal/models"
)

var buySynonyms = map[string]bool{
	"buy": true, "long": true, "bullish": true, "call": true, "purchase": true,
}

var sellSynonyms = map[string]bool{
	"sell": true, "short": true, "bearish": true, "put": true,
}

// ParseSide maps a direction word onto a side. The boolean is false when the
// word matched neither synonym set and the result fell back to neutral.
func ParseSide(s string) (models.Side, bool) {
	w := strings.ToLower(strings.TrimSpace(s))
	switch {
	case buySynonyms[w]:
		return models.SideBuy, true
	case sellSynonyms[w]:
		return models.SideSell, true
	case w == "neutral":
		return models.SideNeutral, true
	}
	return models.SideNeutral, false
}

// NormalizeSymbol upper-cases a ticker and strips exchange prefixes and separators
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.LastIndex(symbol, ":"); i >= 0 {
		symbol = symbol[i+1:]
	}
	symbol = strings.ReplaceAll(symbol, "-", "")
	symbol = strings.ReplaceAll(symbol, "_", "")
	symbol = strings.ReplaceAll(symbol, "/", "")
	symbol = strings.ReplaceAll(symbol, " ", "")
	return symbol
}

var fiat = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true, "AUD": true,
	"NZD": true, "CAD": true, "SEK": true, "NOK": true, "DKK": true, "SGD": true,
	"HKD": true, "CNH": true, "MXN": true, "ZAR": true, "TRY": true, "PLN": true,
	"XAU": true, "XAG": true,
}

var cryptoQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD", "TUSD", "PERP"}

var cryptoBases = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "XRP": true, "BNB": true, "DOGE": true,
	"ADA": true, "AVAX": true, "DOT": true, "LINK": true, "LTC": true, "TRX": true,
	"MATIC": true, "SHIB": true, "TON": true, "BCH": true, "ATOM": true, "NEAR": true,
	"APT": true, "ARB": true, "OP": true, "SUI": true, "PEPE": true, "UNI": true,
}

var (
	forexPair     = regexp.MustCompile(`^([A-Z]{3})([A-Z]{3})$`)
	futuresMonth  = regexp.MustCompile(`^[A-Z]{1,4}[FGHJKMNQUVXZ]\d{1,2}$`)
	futuresCont   = regexp.MustCompile(`^[A-Z]{1,4}\d!$`)
	cryptoPerpSfx = ".P"
)

// InferAssetClass classifies a symbol. An explicit valid class wins, then the
// forex pair pattern, crypto quote suffixes and bases, futures month codes,
// and finally stocks.
func InferAssetClass(explicit, symbol string) models.AssetClass {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case "crypto", "cryptocurrency":
		return models.AssetCrypto
	case "forex", "fx", "currency":
		return models.AssetForex
	case "futures", "future":
		return models.AssetFutures
	case "stocks", "stock", "equity", "equities":
		return models.AssetStocks
	}

	sym := strings.TrimSuffix(symbol, cryptoPerpSfx)

	if m := forexPair.FindStringSubmatch(sym); m != nil && fiat[m[1]] && fiat[m[2]] {
		return models.AssetForex
	}
	for _, q := range cryptoQuotes {
		if len(sym) > len(q) && strings.HasSuffix(sym, q) {
			return models.AssetCrypto
		}
	}
	for base := range cryptoBases {
		if strings.HasPrefix(sym, base) && fiatOrCrypto(sym[len(base):]) {
			return models.AssetCrypto
		}
	}
	if futuresMonth.MatchString(sym) || futuresCont.MatchString(sym) {
		return models.AssetFutures
	}
	return models.AssetStocks
}

func fiatOrCrypto(quote string) bool {
	return fiat[quote] || cryptoBases[quote]
}

var providerTimeframes = []struct {
	needle    string
	timeframe string
}{
	{"solaris", "5m"},
	{"hybrid", "10m"},
	{"paradox", "30m"},
}

// DefaultTimeframe picks the timeframe: provider heuristic, then payload, then 1h
func DefaultTimeframe(provider, payload string) string {
	p := strings.ToLower(provider)
	for _, pt := range providerTimeframes {
		if strings.Contains(p, pt.needle) {
			return pt.timeframe
		}
	}
	if tf := normalizeTimeframe(payload); tf != "" {
		return tf
	}
	return "1h"
}

// normalizeTimeframe maps chart interval notation ("60", "240", "D") onto short form
func normalizeTimeframe(tf string) string {
	tf = strings.TrimSpace(tf)
	switch strings.ToUpper(tf) {
	case "":
		return ""
	case "D", "1D":
		return "1d"
	case "W", "1W":
		return "1w"
	}
	if n, err := strconv.Atoi(tf); err == nil && n > 0 {
		if n%60 == 0 {
			return strconv.Itoa(n/60) + "h"
		}
		return strconv.Itoa(n) + "m"
	}
	return strings.ToLower(tf)
}
