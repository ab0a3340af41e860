package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/linluma/indodax/shared/config"
	"github.com/linluma/indodax/shared/models"
	"github.com/linluma/indodax/spotprice/orderbook"
	"github.com/shopspring/decimal"
)

// Client is the exchange client: private commands, public market data and
// normalized real-time order books over one shared socket.
type Client struct {
	commands *CommandClient
	market   *MarketDataClient
	channel  Channel
	policies models.PolicyTable

	// held while a trade is in flight
	tradeMu sync.Mutex
}

// NewClient creates a client for the given credentials. The socket is not
// dialed until the first ListenSpotPrice.
func NewClient(apiKey, apiSecret string, opts Options) *Client {
	opts = opts.withDefaults()

	policies := opts.Policies
	if policies.Len() == 0 {
		policies = models.NewPolicyTable(config.DefaultPolicies)
	}
	channel := opts.Channel
	if channel == nil {
		channel = NewHub(opts.Endpoints.Socket, opts.BufferSize)
	}

	return &Client{
		commands: NewCommandClient(apiKey, apiSecret, opts.Endpoints.TradeAPI, opts.HTTPClient, NewNonceSource(opts.Clock)),
		market:   NewMarketDataClient(opts.Endpoints.API, opts.Endpoints.Chart, opts.HTTPClient, opts.Clock),
		channel:  channel,
		policies: policies,
	}
}

// Market returns the public market data client
func (c *Client) Market() *MarketDataClient {
	return c.market
}

// Policies returns the minimum volume policies in use
func (c *Client) Policies() models.PolicyTable {
	return c.policies
}

// Trade places an order. Only one trade may be in flight per client; a
// second call made before the first returns fails with ErrConcurrentTrade.
func (c *Client) Trade(ctx context.Context, pair models.Pair, side models.Side, price, amount decimal.Decimal) (*TradeReceipt, error) {
	if !c.tradeMu.TryLock() {
		return nil, ErrConcurrentTrade
	}
	defer c.tradeMu.Unlock()

	return c.commands.Trade(ctx, pair, side, price, amount)
}

// ListenSpotPrice streams normalized order books for pair. The stream ends
// when ctx is done or the socket goes away.
func (c *Client) ListenSpotPrice(ctx context.Context, pair models.Pair) (<-chan models.OrderBook, error) {
	policy, err := c.policies.Lookup(pair)
	if err != nil {
		return nil, err
	}
	if err := c.channel.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	sub, err := c.channel.Subscribe(ctx, pair.Channel())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe %s: %w", pair.Channel(), err)
	}

	normalizer := orderbook.NewNormalizer(pair, policy)
	out := make(chan models.OrderBook)

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				book, ok, err := normalizer.Normalize(msg.Data, msg.ReceivedAt)
				if err != nil || !ok {
					continue
				}
				select {
				case out <- book:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// GetInfo returns balances and account details
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	return c.commands.GetInfo(ctx)
}

// IDRBalance returns the available rupiah balance
func (c *Client) IDRBalance(ctx context.Context) (decimal.Decimal, error) {
	return c.CryptoBalance(ctx, "idr")
}

// CryptoBalance returns the available balance of currency
func (c *Client) CryptoBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	info, err := c.commands.GetInfo(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	balance, ok := info.Balance[strings.ToLower(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s balance in account info", currency)
	}
	return balance, nil
}

// OpenOrders lists open orders, for every pair when pair is zero
func (c *Client) OpenOrders(ctx context.Context, pair models.Pair) (json.RawMessage, error) {
	return c.commands.OpenOrders(ctx, pair)
}

// GetOrder returns a single order
func (c *Client) GetOrder(ctx context.Context, pair models.Pair, orderID int64) (json.RawMessage, error) {
	return c.commands.GetOrder(ctx, pair, orderID)
}

// CancelOrder cancels an open order
func (c *Client) CancelOrder(ctx context.Context, pair models.Pair, orderID int64, side models.Side) (json.RawMessage, error) {
	return c.commands.CancelOrder(ctx, pair, orderID, side)
}

// Close shuts the socket down
func (c *Client) Close() error {
	return c.channel.Close()
}
