package normalize

import (
	"math"
	"testing"
	"time"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed() *Normalizer {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return New(
		WithClock(func() time.Time { return at }),
		WithIDGenerator(func() string { return "sig-fixed" }),
	)
}

func TestNormalizeFreeText(t *testing.T) {
	n := fixed()
	raw := []byte("Symbol: BTCUSDT Direction: buy Entry: 67500 Stop Loss: 66950 Take Profit: 68600")

	sig, err := n.Normalize(raw, Hints{})
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, models.SideBuy, sig.Side)
	require.NotNil(t, sig.EntryPrice)
	assert.Equal(t, 67500.0, *sig.EntryPrice)
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 66950.0, *sig.StopLoss)
	assert.Equal(t, []float64{68600}, sig.TakeProfitTargets)
	assert.Equal(t, models.AssetCrypto, sig.AssetClass)
	assert.Equal(t, models.FormatFreeText, sig.Format)
	assert.Equal(t, models.StatusActive, sig.Status)
	assert.Equal(t, 0, sig.CurrentTargetIndex)
	assert.Equal(t, "1h", sig.Timeframe)
	assert.Empty(t, sig.Warnings)
}

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		hints Hints
		check func(t *testing.T, s *models.Signal)
	}{
		{
			name: "structured json",
			raw:  `{"symbol":"ETH/USDT","side":"Long","price":3000.5,"stopLoss":2900,"takeProfit":[3100,3200,3300]}`,
			check: func(t *testing.T, s *models.Signal) {
				assert.Equal(t, "ETHUSDT", s.Symbol)
				assert.Equal(t, models.SideBuy, s.Side)
				assert.Equal(t, 3000.5, *s.EntryPrice)
				assert.Equal(t, 2900.0, *s.StopLoss)
				assert.Equal(t, []float64{3100, 3200, 3300}, s.TakeProfitTargets)
				assert.Equal(t, models.FormatStructured, s.Format)
			},
		},
		{
			name:  "templated json with string numbers",
			raw:   `{"ticker":"OANDA:EURUSD","action":"sell","close":"1.08543","sl":"1.0900","tp1":"1.0800","tp2":"1.0750","interval":"240"}`,
			hints: Hints{Provider: "fx-desk"},
			check: func(t *testing.T, s *models.Signal) {
				assert.Equal(t, "EURUSD", s.Symbol)
				assert.Equal(t, models.AssetForex, s.AssetClass)
				assert.Equal(t, models.SideSell, s.Side)
				assert.Equal(t, 1.08543, *s.EntryPrice)
				assert.Equal(t, []float64{1.08, 1.075}, s.TakeProfitTargets)
				assert.Equal(t, "4h", s.Timeframe)
				assert.Equal(t, "fx-desk", s.Provider)
				assert.Equal(t, models.FormatTemplated, s.Format)
			},
		},
		{
			name: "message wrapper carrying free text",
			raw:  `{"message":"Symbol: SOLUSDT Side: short Entry: $150.25 SL: 155 TP1: 140 TP2: 130","provider":"Paradox Signals"}`,
			check: func(t *testing.T, s *models.Signal) {
				assert.Equal(t, "SOLUSDT", s.Symbol)
				assert.Equal(t, models.SideSell, s.Side)
				assert.Equal(t, 150.25, *s.EntryPrice)
				assert.Equal(t, []float64{140, 130}, s.TakeProfitTargets)
				assert.Equal(t, "Paradox Signals", s.Provider)
				assert.Equal(t, "30m", s.Timeframe)
			},
		},
		{
			name: "json string literal",
			raw:  `"Symbol: AAPL bullish breakout Entry: 190"`,
			check: func(t *testing.T, s *models.Signal) {
				assert.Equal(t, "AAPL", s.Symbol)
				assert.Equal(t, models.AssetStocks, s.AssetClass)
				assert.Equal(t, models.SideBuy, s.Side)
			},
		},
		{
			name: "missing side is neutral",
			raw:  `{"symbol":"ESZ4","price":5000}`,
			check: func(t *testing.T, s *models.Signal) {
				assert.Equal(t, models.SideNeutral, s.Side)
				assert.Equal(t, models.AssetFutures, s.AssetClass)
			},
		},
		{
			name: "unknown side word is neutral",
			raw:  `{"symbol":"NVDA","side":"hold"}`,
			check: func(t *testing.T, s *models.Signal) {
				assert.Equal(t, models.SideNeutral, s.Side)
			},
		},
		{
			name: "unparseable numbers are null not zero",
			raw:  `{"symbol":"BTCUSDT","side":"buy","price":"n/a","sl":0,"tp1":"-5"}`,
			check: func(t *testing.T, s *models.Signal) {
				assert.Nil(t, s.EntryPrice)
				assert.Nil(t, s.StopLoss)
				assert.Empty(t, s.TakeProfitTargets)
			},
		},
		{
			name: "explicit asset class wins",
			raw:  `{"symbol":"GOLD","side":"buy","asset_class":"futures"}`,
			check: func(t *testing.T, s *models.Signal) {
				assert.Equal(t, models.AssetFutures, s.AssetClass)
			},
		},
		{
			name:  "subscriber scope from hints",
			raw:   `{"symbol":"BTCUSDT","side":"buy"}`,
			hints: Hints{SubscriberID: "sub-9", Provider: "Solaris Alpha"},
			check: func(t *testing.T, s *models.Signal) {
				assert.Equal(t, "sub-9", s.SubscriberID)
				assert.Equal(t, "5m", s.Timeframe)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := fixed().Normalize([]byte(tt.raw), tt.hints)
			require.NoError(t, err)
			tt.check(t, sig)
		})
	}
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason Reason
	}{
		{"empty body", "   ", ReasonEmptyPayload},
		{"json array", `[1,2,3]`, ReasonNotObject},
		{"json number", `42`, ReasonNotObject},
		{"malformed object", `{"symbol":`, ReasonNotObject},
		{"object without symbol", `{"side":"buy","price":1}`, ReasonMissingSymbol},
		{"blank symbol", `{"symbol":"  ","side":"buy"}`, ReasonMissingSymbol},
		{"free text without symbol", "Direction: buy Entry: 1", ReasonMissingSymbol},
		{"non scalar side", `{"symbol":"BTCUSDT","side":{"v":"buy"}}`, ReasonUnresolvableSide},
		{"numeric side", `{"symbol":"BTCUSDT","side":1}`, ReasonUnresolvableSide},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := fixed().Normalize([]byte(tt.raw), Hints{})
			assert.Nil(t, sig)
			rej, ok := AsRejection(err)
			require.True(t, ok, "expected rejection, got %v", err)
			assert.Equal(t, tt.reason, rej.Reason)
		})
	}
}

func TestNormalizeWarnings(t *testing.T) {
	t.Run("target order", func(t *testing.T) {
		sig, err := fixed().Normalize([]byte(`{"symbol":"BTCUSDT","side":"buy","price":100,"tp1":120,"tp2":110}`), Hints{})
		require.NoError(t, err)
		assert.Contains(t, sig.Warnings, WarnTargetOrder)
		// flagged, not reordered
		assert.Equal(t, []float64{120, 110}, sig.TakeProfitTargets)
	})

	t.Run("stop on wrong side", func(t *testing.T) {
		sig, err := fixed().Normalize([]byte(`{"symbol":"BTCUSDT","side":"sell","price":100,"sl":90}`), Hints{})
		require.NoError(t, err)
		assert.Contains(t, sig.Warnings, WarnStopWrongSide)
	})

	t.Run("extra targets dropped", func(t *testing.T) {
		sig, err := fixed().Normalize([]byte(`{"symbol":"BTCUSDT","side":"buy","targets":[1,2,3,4]}`), Hints{})
		require.NoError(t, err)
		assert.Len(t, sig.TakeProfitTargets, models.MaxTakeProfitTargets)
		assert.Contains(t, sig.Warnings, WarnTargetsDropped)
	})
}

func TestNormalizeIdempotent(t *testing.T) {
	n := New()
	raw := []byte(`{"ticker":"BTCUSDT","action":"buy","close":"67500.123456789","tp1":68000}`)

	a, err := n.Normalize(raw, Hints{Provider: "hybrid"})
	require.NoError(t, err)
	b, err := n.Normalize(raw, Hints{Provider: "hybrid"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	a.ID, b.ID = "", ""
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, a, b)
	assert.Equal(t, 67500.123456789, *a.EntryPrice)
}

func TestNumbersAreFinite(t *testing.T) {
	payloads := []string{
		`{"symbol":"X","price":"NaN","sl":"Inf","tp":"1e400"}`,
		`{"symbol":"X","price":1e308,"sl":"1,234.5"}`,
		"Symbol: X Entry: 12,345.67 TP2: 99 TP1: 98",
	}
	for _, p := range payloads {
		sig, err := fixed().Normalize([]byte(p), Hints{})
		require.NoError(t, err)
		for _, v := range []*float64{sig.EntryPrice, sig.StopLoss} {
			if v != nil {
				assert.False(t, math.IsNaN(*v) || math.IsInf(*v, 0))
			}
		}
		for _, v := range sig.TakeProfitTargets {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestTextTargetsOrdering(t *testing.T) {
	out, dropped := textTargets("TP2: 99 TP1: 98 Take Profit: 100")
	assert.False(t, dropped)
	assert.Equal(t, []float64{98, 99, 100}, out)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"67500", ptr(67500)},
		{"$ 67500.5", ptr(67500.5)},
		{"1,234.5", ptr(1234.5)},
		{"12,345,678", ptr(12345678)},
		{"68600,69500", nil},
		{"1,23", nil},
		{"1234,567", nil},
		{",100", nil},
		{"0", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePrice(tt.in))
		})
	}
}

func TestParsePrices(t *testing.T) {
	assert.Equal(t, []float64{68600, 69500}, ParsePrices("68600,69500"))
	assert.Equal(t, []float64{1.5, 2.25, 3}, ParsePrices("1.5,2.25,3"))
	assert.Equal(t, []float64{1234.5}, ParsePrices("1,234.5"))
	assert.Nil(t, ParsePrices("68600,abc"))
	assert.Nil(t, ParsePrices("68600,,69500"))
	assert.Nil(t, ParsePrices("abc"))
}

func TestCommaSeparatedTargets(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"free text", "Symbol: BTCUSDT Direction: buy Entry: 67500 Stop Loss: 66950 Take Profit: 68600,69500"},
		{"json string", `{"symbol":"BTCUSDT","side":"buy","entry":67500,"sl":66950,"tp":"68600,69500"}`},
		{"json list key", `{"symbol":"BTCUSDT","side":"buy","entry":67500,"sl":66950,"targets":"68600,69500"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := fixed().Normalize([]byte(tt.raw), Hints{})
			require.NoError(t, err)
			assert.Equal(t, []float64{68600, 69500}, sig.TakeProfitTargets)
			require.NotNil(t, sig.EntryPrice)
			assert.Equal(t, 67500.0, *sig.EntryPrice)
		})
	}
}

func TestMalformedCommaEntryIsNull(t *testing.T) {
	sig, err := fixed().Normalize([]byte("Symbol: BTCUSDT Direction: buy Entry: 67500,67600 Take Profit: 1.2.3"), Hints{})
	require.NoError(t, err)
	assert.Nil(t, sig.EntryPrice)
	assert.Empty(t, sig.TakeProfitTargets)
}

func ptr(v float64) *float64 { return &v }
