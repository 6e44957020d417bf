package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Cyvadra/signal-relay/internal/models"
)

const numberPattern = `\$?\s*([0-9](?:[0-9.,]*[0-9])?)`

var (
	reSymbol    = regexp.MustCompile(`(?i)\b(?:symbol|ticker|pair)\s*[:=]\s*([A-Za-z0-9:._/!\-]+)`)
	reDirection = regexp.MustCompile(`(?i)\b(?:direction|side|action|signal)\s*[:=]\s*([A-Za-z]+)`)
	reEntry     = regexp.MustCompile(`(?i)\b(?:entry(?:\s*price)?|price)\s*[:=]\s*` + numberPattern)
	reStop      = regexp.MustCompile(`(?i)\b(?:stop[\s_-]*loss|sl)\s*[:=]\s*` + numberPattern)
	reTarget    = regexp.MustCompile(`(?i)\b(?:take[\s_-]*profit|tp)\s*([1-9])?\s*[:=]\s*` + numberPattern)
	reTimeframe = regexp.MustCompile(`(?i)\b(?:timeframe|tf|interval)\s*[:=]\s*([0-9]+[a-z]*|[a-z]+)`)
	reProvider  = regexp.MustCompile(`(?i)\b(?:provider|strategy)\s*[:=]\s*([A-Za-z0-9_.\-]+)`)
	reWord      = regexp.MustCompile(`[A-Za-z]+`)
)

// parseFreeText extracts a draft from marker-annotated text
func parseFreeText(text string) (*draft, error) {
	d := &draft{format: models.FormatFreeText, side: models.SideNeutral}

	m := reSymbol.FindStringSubmatch(text)
	if m == nil {
		return nil, reject(ReasonMissingSymbol, "no symbol marker in text")
	}
	d.symbol = NormalizeSymbol(strings.TrimRight(m[1], ".,"))
	if d.symbol == "" {
		return nil, reject(ReasonMissingSymbol, "symbol marker is empty")
	}

	if m := reDirection.FindStringSubmatch(text); m != nil {
		d.side, _ = ParseSide(m[1])
	} else {
		d.side = firstSideWord(text)
	}

	if m := reEntry.FindStringSubmatch(text); m != nil {
		d.entry = ParsePrice(m[1])
	}
	if m := reStop.FindStringSubmatch(text); m != nil {
		d.stop = ParsePrice(m[1])
	}
	if m := reTimeframe.FindStringSubmatch(text); m != nil {
		d.timeframe = m[1]
	}
	if m := reProvider.FindStringSubmatch(text); m != nil {
		d.provider = m[1]
	}

	d.targets, d.dropped = textTargets(text)
	return d, nil
}

// textTargets places numbered targets at their index and appends unnumbered ones
func textTargets(text string) ([]float64, bool) {
	numbered := map[int]float64{}
	var plain []float64
	maxIndex := 0

	for _, m := range reTarget.FindAllStringSubmatch(text, -1) {
		prices := ParsePrices(m[2])
		if len(prices) == 0 {
			continue
		}
		if m[1] == "" {
			plain = append(plain, prices...)
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		if _, seen := numbered[idx]; !seen {
			numbered[idx] = prices[0]
		}
		if idx > maxIndex {
			maxIndex = idx
		}
	}

	var out []float64
	for i := 1; i <= maxIndex; i++ {
		if v, ok := numbered[i]; ok {
			out = append(out, v)
		}
	}
	out = append(out, plain...)
	return capTargets(out)
}

// firstSideWord returns the side of the first standalone direction word
func firstSideWord(text string) models.Side {
	for _, w := range reWord.FindAllString(text, -1) {
		if side, ok := ParseSide(w); ok && side != models.SideNeutral {
			return side
		}
	}
	return models.SideNeutral
}
