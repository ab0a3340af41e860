package orderbook

import (
	"time"

	"github.com/linluma/indodax/shared/models"
)

// BTC-quoted snapshots carry prices in satoshi
const satoshiPerBTC = 1e8

// ReferencePriceKey is the snapshot price used to rescale BTC-quoted volumes
const ReferencePriceKey = "btcidr"

// Normalizer turns raw snapshots of one pair into filtered order books
type Normalizer struct {
	pair   models.Pair
	policy models.VolumePolicy
}

// NewNormalizer creates a normalizer for pair using policy
func NewNormalizer(pair models.Pair, policy models.VolumePolicy) *Normalizer {
	return &Normalizer{pair: pair, policy: policy}
}

// Pair returns the pair this normalizer is bound to
func (n *Normalizer) Pair() models.Pair {
	return n.pair
}

// Normalize decodes and filters one raw snapshot. ok is false for empty
// snapshots, which produce no book.
func (n *Normalizer) Normalize(data []byte, receivedAt time.Time) (book models.OrderBook, ok bool, err error) {
	snapshot, ok, err := DecodeSnapshot(data)
	if err != nil || !ok {
		return models.OrderBook{}, false, err
	}
	book, err = n.Apply(snapshot)
	if err != nil {
		return models.OrderBook{}, false, err
	}
	book.ReceivedAt = receivedAt
	return book, true, nil
}

// Apply filters a decoded snapshot. Buy levels are kept as sent when their
// volume field exceeds MinBuy. Sell levels are rescaled to unit volume
// before comparing with MinSell: BTC-quoted prices come in satoshi and their
// volume field is an IDR amount, other pairs carry a quote notional.
// Without a usable btcidr price a BTC-quoted book has no sell levels.
func (n *Normalizer) Apply(s *Snapshot) (models.OrderBook, error) {
	book := models.OrderBook{
		Pair: n.pair,
		Buy:  make([]models.PriceLevel, 0, len(s.BuyOrders)),
		Sell: make([]models.PriceLevel, 0, len(s.SellOrders)),
	}

	for _, o := range s.BuyOrders {
		if o.Volume > n.policy.MinBuy {
			book.Buy = append(book.Buy, models.PriceLevel{o.Price, o.Volume})
		}
	}

	if len(s.SellOrders) == 0 {
		return book, nil
	}

	var reference float64
	if n.pair.IsBTCQuoted() {
		reference = float64(s.Prices[ReferencePriceKey])
		if reference <= 0 {
			return book, nil
		}
	}

	for _, o := range s.SellOrders {
		var price, volume float64
		if n.pair.IsBTCQuoted() {
			price = o.Price / satoshiPerBTC
			volume = o.Volume / reference
		} else {
			if o.Price <= 0 {
				continue
			}
			price = o.Price
			volume = o.Volume / price
		}
		if volume > n.policy.MinSell {
			book.Sell = append(book.Sell, models.PriceLevel{price, volume})
		}
	}
	return book, nil
}
