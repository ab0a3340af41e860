package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/linluma/indodax/shared/models"
	"github.com/shopspring/decimal"
)

// The public endpoints reject requests without a browser user agent
const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_13_3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/64.0.3282.186 Safari/537.36"

// MarketDataClient queries the public REST endpoints
type MarketDataClient struct {
	apiURL     string
	chartURL   string
	httpClient *http.Client
	clock      clock.Clock
}

// NewMarketDataClient creates a public market data client
func NewMarketDataClient(apiURL, chartURL string, httpClient *http.Client, clk clock.Clock) *MarketDataClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if clk == nil {
		clk = clock.New()
	}
	return &MarketDataClient{
		apiURL:     apiURL,
		chartURL:   chartURL,
		httpClient: httpClient,
		clock:      clk,
	}
}

type publicError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// fetch performs one request and decodes the JSON body into out
func (m *MarketDataClient) fetch(ctx context.Context, httpMethod, name, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, httpMethod, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", name, err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: httpMethod, URL: u, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: httpMethod, URL: u, Err: err}
	}

	var pubErr publicError
	if json.Unmarshal(raw, &pubErr) == nil && pubErr.Error != "" {
		msg := pubErr.Description
		if msg == "" {
			msg = pubErr.Error
		}
		return &ExchangeError{Method: name, Status: resp.StatusCode, Code: pubErr.Error, Message: msg, Raw: raw}
	}
	if resp.StatusCode != http.StatusOK {
		return &ExchangeError{Method: name, Status: resp.StatusCode, Message: resp.Status, Raw: raw}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ExchangeError{Method: name, Status: resp.StatusCode, Raw: raw, Err: err}
	}
	return nil
}

// Ticker returns the 24h ticker of pair
func (m *MarketDataClient) Ticker(ctx context.Context, pair models.Pair) (*models.Ticker, error) {
	var r struct {
		Ticker models.Ticker `json:"ticker"`
	}
	u := fmt.Sprintf("%s/%s/ticker", m.apiURL, pair.Command())
	if err := m.fetch(ctx, http.MethodGet, "ticker", u, &r); err != nil {
		return nil, err
	}
	return &r.Ticker, nil
}

// LatestPrice returns the last traded price
func (m *MarketDataClient) LatestPrice(ctx context.Context, pair models.Pair) (decimal.Decimal, error) {
	t, err := m.Ticker(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Last, nil
}

// LatestBuyPrice returns the best bid
func (m *MarketDataClient) LatestBuyPrice(ctx context.Context, pair models.Pair) (decimal.Decimal, error) {
	t, err := m.Ticker(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Buy, nil
}

// LatestSellPrice returns the best ask
func (m *MarketDataClient) LatestSellPrice(ctx context.Context, pair models.Pair) (decimal.Decimal, error) {
	t, err := m.Ticker(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Sell, nil
}

// Depth returns the public order book of pair
func (m *MarketDataClient) Depth(ctx context.Context, pair models.Pair) (*models.Depth, error) {
	var depth models.Depth
	u := fmt.Sprintf("%s/%s/depth", m.apiURL, pair.Command())
	if err := m.fetch(ctx, http.MethodPost, "depth", u, &depth); err != nil {
		return nil, err
	}
	return &depth, nil
}

type history struct {
	Status  string         `json:"s"`
	Message string         `json:"errmsg"`
	Time    []int64        `json:"t"`
	Open    []models.Float `json:"o"`
	High    []models.Float `json:"h"`
	Low     []models.Float `json:"l"`
	Close   []models.Float `json:"c"`
	Volume  []models.Float `json:"v"`
}

func floats(ns []models.Float) []float64 {
	out := make([]float64, len(ns))
	for i, n := range ns {
		out[i] = float64(n)
	}
	return out
}

func dropFirst[T any](s []T) []T {
	if len(s) == 0 {
		return s
	}
	return s[1:]
}

func (m *MarketDataClient) fetchHistory(ctx context.Context, pair models.Pair, resolution int, from, to int64) (*models.Candles, error) {
	q := url.Values{}
	q.Set("symbol", pair.Symbol())
	q.Set("resolution", strconv.Itoa(resolution))
	q.Set("from", strconv.FormatInt(from, 10))
	q.Set("to", strconv.FormatInt(to, 10))

	var h history
	u := m.chartURL + "/history?" + q.Encode()
	if err := m.fetch(ctx, http.MethodGet, "history", u, &h); err != nil {
		return nil, err
	}

	switch h.Status {
	case "ok", "no_data":
	default:
		return nil, &ExchangeError{Method: "history", Code: h.Status, Message: h.Message}
	}

	return &models.Candles{
		Pair:   pair,
		Time:   h.Time,
		Open:   floats(h.Open),
		High:   floats(h.High),
		Low:    floats(h.Low),
		Close:  floats(h.Close),
		Volume: floats(h.Volume),
	}, nil
}

// CandleWindow returns the [from, to] unix-second window covering count
// candles of periodMinutes, one more when shift is set.
func CandleWindow(now int64, periodMinutes, count int, shift bool) (from, to int64) {
	n := count
	if shift {
		n++
	}
	to = now
	from = to - int64(periodMinutes)*60*int64(n)
	return from, to
}

// Candles fetches count candles of periodMinutes ending now. With shift the
// window is one candle wider and the first element of every series is
// dropped, which aligns the result on completed candle boundaries.
func (m *MarketDataClient) Candles(ctx context.Context, pair models.Pair, periodMinutes, count int, shift bool) (*models.Candles, error) {
	if periodMinutes <= 0 || count <= 0 {
		return nil, fmt.Errorf("invalid candle request: period %d, count %d", periodMinutes, count)
	}

	from, to := CandleWindow(m.clock.Now().Unix(), periodMinutes, count, shift)
	candles, err := m.fetchHistory(ctx, pair, periodMinutes, from, to)
	if err != nil {
		return nil, err
	}

	if shift {
		candles.Open = dropFirst(candles.Open)
		candles.High = dropFirst(candles.High)
		candles.Low = dropFirst(candles.Low)
		candles.Close = dropFirst(candles.Close)
		candles.Time = dropFirst(candles.Time)
		candles.Volume = dropFirst(candles.Volume)
	}
	return candles, nil
}

// OHLC fetches the last 24 hours of candles at timeframeMinutes
func (m *MarketDataClient) OHLC(ctx context.Context, pair models.Pair, timeframeMinutes int) (*models.Candles, error) {
	if timeframeMinutes <= 0 {
		return nil, fmt.Errorf("invalid timeframe %d", timeframeMinutes)
	}
	to := m.clock.Now().Unix()
	return m.fetchHistory(ctx, pair, timeframeMinutes, to-24*60*60, to)
}
