package models

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is buy or sell
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PriceLevel is a [price, volume] pair
type PriceLevel [2]float64

// Price returns the level price
func (l PriceLevel) Price() float64 { return l[0] }

// Volume returns the level volume
func (l PriceLevel) Volume() float64 { return l[1] }

// OrderBook is a normalized, minimum-volume filtered view of one snapshot.
// Levels keep the order in which the exchange sent them.
type OrderBook struct {
	Pair       Pair         `json:"pair"`
	Buy        []PriceLevel `json:"buy"`
	Sell       []PriceLevel `json:"sell"`
	ReceivedAt time.Time    `json:"received_at"`
}

// Ticker is the public 24h ticker of a pair
type Ticker struct {
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Last       decimal.Decimal `json:"last"`
	Buy        decimal.Decimal `json:"buy"`
	Sell       decimal.Decimal `json:"sell"`
	ServerTime int64           `json:"server_time"`
}

// Depth is the public order book as returned by the REST endpoint
type Depth struct {
	Buy  [][2]decimal.Decimal `json:"buy"`
	Sell [][2]decimal.Decimal `json:"sell"`
}

// Candles holds OHLC series of equal length
type Candles struct {
	Pair   Pair      `json:"pair"`
	Time   []int64   `json:"time,omitempty"`
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume,omitempty"`
}

// ErrUnknownPair is returned when a pair has no volume policy
var ErrUnknownPair = errors.New("no volume policy for pair")

// VolumePolicy holds the minimum sizes an order book level must exceed to be kept
type VolumePolicy struct {
	MinBuy  float64 `yaml:"buy" json:"buy"`
	MinSell float64 `yaml:"sell" json:"sell"`
	Pip     float64 `yaml:"pip,omitempty" json:"pip,omitempty"`
}

// PolicyTable maps channel-form pairs (btcidr) to their volume policy
type PolicyTable struct {
	policies map[string]VolumePolicy
}

// NewPolicyTable copies policies into an immutable table
func NewPolicyTable(policies map[string]VolumePolicy) PolicyTable {
	m := make(map[string]VolumePolicy, len(policies))
	for k, v := range policies {
		m[k] = v
	}
	return PolicyTable{policies: m}
}

// Lookup is exact-match on the channel form of the pair
func (t PolicyTable) Lookup(p Pair) (VolumePolicy, error) {
	policy, ok := t.policies[p.Channel()]
	if !ok {
		return VolumePolicy{}, fmt.Errorf("%w: %s", ErrUnknownPair, p.Channel())
	}
	return policy, nil
}

// Len returns the number of pairs in the table
func (t PolicyTable) Len() int {
	return len(t.policies)
}

// Pairs returns the sorted channel names covered by the table
func (t PolicyTable) Pairs() []string {
	pairs := make([]string, 0, len(t.policies))
	for k := range t.policies {
		pairs = append(pairs, k)
	}
	sort.Strings(pairs)
	return pairs
}

// Merge returns a new table with overrides applied on top of t
func (t PolicyTable) Merge(overrides map[string]VolumePolicy) PolicyTable {
	m := make(map[string]VolumePolicy, len(t.policies)+len(overrides))
	for k, v := range t.policies {
		m[k] = v
	}
	for k, v := range overrides {
		m[k] = v
	}
	return PolicyTable{policies: m}
}

// Float decodes JSON numbers as well as numeric strings, which the
// exchange uses interchangeably
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	if len(b) > 1 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	if string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", b, err)
	}
	*f = Float(v)
	return nil
}
