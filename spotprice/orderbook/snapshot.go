package orderbook

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/linluma/indodax/shared/models"
)

// RawOrder is one level of a raw snapshot. The exchange names the volume
// field after the currency (sum_idr, btc, ...), so the value is taken from
// whichever field comes second in the object.
type RawOrder struct {
	Price     float64
	Volume    float64
	VolumeKey string
}

// UnmarshalJSON walks the object in key order
func (o *RawOrder) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("order is not an object")
	}

	var hasPrice bool
	for i := 0; dec.More(); i++ {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var value models.Float
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if key != "price" && i != 1 {
			continue
		}
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("order field %s: %w", key, err)
		}

		if key == "price" {
			o.Price = float64(value)
			hasPrice = true
		}
		if i == 1 {
			o.Volume = float64(value)
			o.VolumeKey = key
		}
	}

	if !hasPrice || o.VolumeKey == "" {
		return fmt.Errorf("order needs a price and a volume field")
	}
	return nil
}

// Snapshot is a full order book replacement as sent on a tradedata channel
type Snapshot struct {
	BuyOrders  []RawOrder              `json:"buy_orders"`
	SellOrders []RawOrder              `json:"sell_orders"`
	Prices     map[string]models.Float `json:"prices"`
}

// DecodeSnapshot parses a snapshot. An empty object yields ok == false.
func DecodeSnapshot(data []byte) (snapshot *Snapshot, ok bool, err error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, false, fmt.Errorf("invalid snapshot: %w", err)
	}
	if len(keys) == 0 {
		return nil, false, nil
	}

	snapshot = &Snapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, false, fmt.Errorf("invalid snapshot: %w", err)
	}
	return snapshot, true, nil
}
