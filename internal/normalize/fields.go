package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/shopspring/decimal"
)

// Key aliases, matched case-insensitively and in order of preference.
var (
	symbolKeys     = []string{"symbol", "ticker"}
	sideKeys       = []string{"side", "action", "direction", "signal", "order_action"}
	entryKeys      = []string{"entry", "entry_price", "entryprice", "price", "close"}
	stopKeys       = []string{"stoploss", "stop_loss", "sl", "stop"}
	singleTPKeys   = []string{"takeprofit", "take_profit", "tp"}
	listTPKeys     = []string{"takeprofits", "take_profits", "targets"}
	assetClassKeys = []string{"assetclass", "asset_class", "market"}
	timeframeKeys  = []string{"timeframe", "interval", "tf"}
	providerKeys   = []string{"provider", "source", "strategy"}
	messageKeys    = []string{"message", "text"}
)

var numberedTPKeys = [models.MaxTakeProfitTargets][]string{
	{"tp1", "takeprofit1", "take_profit_1", "take_profit1"},
	{"tp2", "takeprofit2", "take_profit_2", "take_profit2"},
	{"tp3", "takeprofit3", "take_profit_3", "take_profit3"},
}

// fields is a decoded JSON object with lower-cased keys
type fields map[string]interface{}

func newFields(m map[string]interface{}) fields {
	f := make(fields, len(m))
	for k, v := range m {
		lk := strings.ToLower(strings.TrimSpace(k))
		if _, dup := f[lk]; !dup {
			f[lk] = v
		}
	}
	return f
}

func (f fields) lookup(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// str returns the first alias holding a scalar, rendered as a string
func (f fields) str(keys ...string) (string, bool) {
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			return strings.TrimSpace(v), true
		case json.Number:
			return v.String(), true
		}
	}
	return "", false
}

func (f fields) number(keys ...string) *float64 {
	for _, k := range keys {
		if v, ok := f[k]; ok {
			if p := parseNumber(v); p != nil {
				return p
			}
		}
	}
	return nil
}

// side resolves the trade direction. A missing side is neutral, a non-scalar one is rejected.
func (f fields) side() (models.Side, error) {
	v, ok := f.lookup(sideKeys...)
	if !ok || v == nil {
		return models.SideNeutral, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", reject(ReasonUnresolvableSide, "side has type %T", v)
	}
	side, _ := ParseSide(s)
	return side, nil
}

// targets collects up to three take-profit levels. The second result reports
// whether extra levels were dropped.
func (f fields) targets() ([]float64, bool) {
	var out []float64

	if v, ok := f.lookup(listTPKeys...); ok {
		out = appendNumbers(out, v)
	}
	if len(out) == 0 {
		for _, keys := range numberedTPKeys {
			if p := f.number(keys...); p != nil {
				out = append(out, *p)
			}
		}
	}
	if len(out) == 0 {
		if v, ok := f.lookup(singleTPKeys...); ok {
			out = appendNumbers(out, v)
		}
	}

	return capTargets(out)
}

func capTargets(out []float64) ([]float64, bool) {
	if len(out) > models.MaxTakeProfitTargets {
		return out[:models.MaxTakeProfitTargets], true
	}
	return out, false
}

func appendNumbers(out []float64, v interface{}) []float64 {
	if list, ok := v.([]interface{}); ok {
		for _, item := range list {
			if p := parseNumber(item); p != nil {
				out = append(out, *p)
			}
		}
		return out
	}
	if s, ok := v.(string); ok {
		return append(out, ParsePrices(s)...)
	}
	if p := parseNumber(v); p != nil {
		out = append(out, *p)
	}
	return out
}

// parseNumber returns nil for missing, unparseable, non-finite or non-positive values
func parseNumber(v interface{}) *float64 {
	var s string
	switch val := v.(type) {
	case json.Number:
		s = val.String()
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return nil
	}
	return ParsePrice(s)
}

var thousandsPattern = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)

// ParsePrice parses a price string, tolerating currency signs and thousands
// separators. A comma outside a valid thousands grouping makes the value unparseable.
func ParsePrice(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return nil
	}
	if strings.Contains(s, ",") {
		if !thousandsPattern.MatchString(s) {
			return nil
		}
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return nil
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

// ParsePrices parses a single price or a comma-separated list of prices.
// A list with any unparseable element yields nothing.
func ParsePrices(s string) []float64 {
	if p := ParsePrice(s); p != nil {
		return []float64{*p}
	}
	if !strings.Contains(s, ",") {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		p := ParsePrice(part)
		if p == nil {
			return nil
		}
		out = append(out, *p)
	}
	return out
}
