package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/linluma/indodax/shared/models"
	"github.com/shopspring/decimal"
)

// envelope is the response wrapper of every private command
type envelope struct {
	Success   int             `json:"success"`
	Return    json.RawMessage `json:"return"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"error_code"`
}

// CommandClient sends signed private commands
type CommandClient struct {
	apiKey     string
	apiSecret  string
	endpoint   string
	httpClient *http.Client
	nonces     *NonceSource
}

// NewCommandClient creates a command client posting to endpoint
func NewCommandClient(apiKey, apiSecret, endpoint string, httpClient *http.Client, nonces *NonceSource) *CommandClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if nonces == nil {
		nonces = NewNonceSource(nil)
	}
	return &CommandClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		endpoint:   endpoint,
		httpClient: httpClient,
		nonces:     nonces,
	}
}

// Send signs and posts method with params, returning the "return" payload
// when the exchange reports success. It never retries.
func (c *CommandClient) Send(ctx context.Context, method string, params Params) (json.RawMessage, error) {
	body := make(Params, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["method"] = method
	body["nonce"] = c.nonces.Next()

	values, err := EncodeParams(body)
	if err != nil {
		return nil, err
	}
	encoded := values.Encode()

	sign, err := SignBody(encoded, c.apiSecret)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Sign", sign)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: http.MethodPost, URL: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: http.MethodPost, URL: c.endpoint, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ExchangeError{Method: method, Status: resp.StatusCode, Raw: raw, Err: err}
	}
	if env.Success != 1 {
		return nil, &ExchangeError{
			Method:  method,
			Status:  resp.StatusCode,
			Code:    env.ErrorCode,
			Message: env.Error,
			Raw:     raw,
		}
	}
	return env.Return, nil
}

// Info is the account summary returned by getInfo
type Info struct {
	ServerTime  int64                      `json:"server_time"`
	Name        string                     `json:"name"`
	Email       string                     `json:"email"`
	Balance     map[string]decimal.Decimal `json:"balance"`
	BalanceHold map[string]decimal.Decimal `json:"balance_hold"`
	Address     map[string]string          `json:"address"`
}

// TradeReceipt is the result of a placed order
type TradeReceipt struct {
	OrderID int64           `json:"order_id"`
	Raw     json.RawMessage `json:"-"`
}

// GetInfo returns balances and account details
func (c *CommandClient) GetInfo(ctx context.Context) (*Info, error) {
	raw, err := c.Send(ctx, "getInfo", nil)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &ExchangeError{Method: "getInfo", Raw: raw, Err: err}
	}
	return &info, nil
}

// OpenOrders lists open orders. A zero pair lists all pairs.
func (c *CommandClient) OpenOrders(ctx context.Context, pair models.Pair) (json.RawMessage, error) {
	var params Params
	if pair != (models.Pair{}) {
		params = Params{"pair": pair.Command()}
	}
	return c.Send(ctx, "openOrders", params)
}

// GetOrder returns a single order
func (c *CommandClient) GetOrder(ctx context.Context, pair models.Pair, orderID int64) (json.RawMessage, error) {
	return c.Send(ctx, "getOrder", Params{
		"pair":     pair.Command(),
		"order_id": orderID,
	})
}

// CancelOrder cancels an open order
func (c *CommandClient) CancelOrder(ctx context.Context, pair models.Pair, orderID int64, side models.Side) (json.RawMessage, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("invalid order side %q", side)
	}
	return c.Send(ctx, "cancelOrder", Params{
		"pair":     pair.Command(),
		"order_id": orderID,
		"type":     string(side),
	})
}

// TradeParams builds the trade command parameters. Buys are sized in the
// quote currency, sells in the base currency.
func TradeParams(pair models.Pair, side models.Side, price, amount decimal.Decimal) (Params, error) {
	params := Params{
		"pair":  pair.Command(),
		"type":  string(side),
		"price": price,
	}
	switch side {
	case models.SideBuy:
		params[pair.Quote] = amount
	case models.SideSell:
		params[pair.Base] = amount
	default:
		return nil, fmt.Errorf("invalid order side %q", side)
	}
	return params, nil
}

// Trade places a limit order
func (c *CommandClient) Trade(ctx context.Context, pair models.Pair, side models.Side, price, amount decimal.Decimal) (*TradeReceipt, error) {
	params, err := TradeParams(pair, side, price, amount)
	if err != nil {
		return nil, err
	}
	raw, err := c.Send(ctx, "trade", params)
	if err != nil {
		return nil, err
	}
	receipt := &TradeReceipt{Raw: raw}
	if err := json.Unmarshal(raw, receipt); err != nil {
		return nil, &ExchangeError{Method: "trade", Raw: raw, Err: err}
	}
	return receipt, nil
}
