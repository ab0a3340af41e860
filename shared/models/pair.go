package models

import (
	"fmt"
	"strings"
)

// Quote currencies traded on the exchange, longest first so that
// concatenated channel names split unambiguously.
var knownQuotes = []string{"usdt", "idr", "btc"}

// Pair identifies a trading pair by base and quote currency code
type Pair struct {
	Base  string
	Quote string
}

// NewPair returns a lowercase pair
func NewPair(base, quote string) Pair {
	return Pair{
		Base:  strings.ToLower(strings.TrimSpace(base)),
		Quote: strings.ToLower(strings.TrimSpace(quote)),
	}
}

// ParsePair accepts "btc_idr", "BTC-IDR" and the concatenated channel form "btcidr"
func ParsePair(s string) (Pair, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Pair{}, fmt.Errorf("empty pair")
	}

	for _, sep := range []string{"_", "-", "/"} {
		if base, quote, ok := strings.Cut(s, sep); ok {
			if base == "" || quote == "" {
				return Pair{}, fmt.Errorf("invalid pair %q", s)
			}
			return NewPair(base, quote), nil
		}
	}

	for _, quote := range knownQuotes {
		if base, ok := strings.CutSuffix(s, quote); ok && base != "" {
			return NewPair(base, quote), nil
		}
	}
	return Pair{}, fmt.Errorf("cannot split pair %q into base and quote", s)
}

// Command returns the form used by private commands and REST paths, e.g. btc_idr
func (p Pair) Command() string {
	return p.Base + "_" + p.Quote
}

// Channel returns the form used by real-time channel names, e.g. btcidr
func (p Pair) Channel() string {
	return p.Base + p.Quote
}

// Symbol returns the charting symbol, e.g. BTCIDR. STR is listed as XLM there.
func (p Pair) Symbol() string {
	base := strings.ToUpper(p.Base)
	if base == "STR" {
		base = "XLM"
	}
	return base + strings.ToUpper(p.Quote)
}

// IsBTCQuoted reports whether prices are quoted in bitcoin
func (p Pair) IsBTCQuoted() bool {
	return p.Quote == "btc"
}

func (p Pair) String() string {
	return p.Command()
}
