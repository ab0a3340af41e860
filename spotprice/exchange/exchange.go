package exchange

import (
	"context"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/linluma/indodax/shared/models"
)

// Endpoints holds the exchange base URLs
type Endpoints struct {
	API      string // public REST, e.g. /api/btc_idr/ticker
	TradeAPI string // private signed commands
	Chart    string // candle history
	Socket   string // real-time channels
}

// DefaultEndpoints are the production endpoints
var DefaultEndpoints = Endpoints{
	API:      "https://indodax.com/api",
	TradeAPI: "https://indodax.com/tapi",
	Chart:    "https://indodax.com/tradingview",
	Socket:   "wss://ws-ap1.pusher.com/app/a0dfa181b1248b929b11?protocol=7&client=js&version=4.1.0&flash=false",
}

// Channel is a subscribable real-time source shared by all subscribers
type Channel interface {
	// Connect returns once the underlying connection is open
	Connect(ctx context.Context) error

	// Subscribe returns a live view of the named channel
	Subscribe(ctx context.Context, name string) (*Subscription, error)

	// Close shuts the connection down
	Close() error
}

// Options configures a Client. Zero values select production defaults.
type Options struct {
	Endpoints  Endpoints
	HTTPClient *http.Client
	Clock      clock.Clock
	Policies   models.PolicyTable
	BufferSize int

	// Channel replaces the socket hub built from Endpoints.Socket
	Channel Channel
}

func (o Options) withDefaults() Options {
	if o.Endpoints == (Endpoints{}) {
		o.Endpoints = DefaultEndpoints
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}
