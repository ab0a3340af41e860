package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/linluma/indodax/shared/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var marketNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

// publicAPI serves /api and /tradingview paths and records each request
func publicAPI(t *testing.T, handler http.HandlerFunc) (*MarketDataClient, chan *http.Request) {
	t.Helper()
	requests := make(chan *http.Request, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	mockClock := clock.NewMock()
	mockClock.Set(marketNow)
	return NewMarketDataClient(server.URL+"/api", server.URL+"/tradingview", nil, mockClock), requests
}

func TestTicker(t *testing.T) {
	client, requests := publicAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ticker":{"high":"152000000","low":"149000000","vol_btc":"120.5","last":"150500000","buy":"150400000","sell":"150500000","server_time":1704103200}}`)
	})
	pair := models.NewPair("btc", "idr")

	ticker, err := client.Ticker(context.Background(), pair)
	require.NoError(t, err)
	assert.True(t, ticker.Last.Equal(decimal.RequireFromString("150500000")))
	assert.Equal(t, int64(1704103200), ticker.ServerTime)

	req := <-requests
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/btc_idr/ticker", req.URL.Path)
	assert.Contains(t, req.Header.Get("User-Agent"), "Mozilla")

	buy, err := client.LatestBuyPrice(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, "150400000", buy.String())
	sell, err := client.LatestSellPrice(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, "150500000", sell.String())
	last, err := client.LatestPrice(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, "150500000", last.String())
}

func TestDepth(t *testing.T) {
	client, requests := publicAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"buy":[[150400000,"0.01"],[150300000,"0.5"]],"sell":[[150500000,"0.02"]]}`)
	})

	depth, err := client.Depth(context.Background(), models.NewPair("btc", "idr"))
	require.NoError(t, err)
	require.Len(t, depth.Buy, 2)
	require.Len(t, depth.Sell, 1)
	assert.Equal(t, "150400000", depth.Buy[0][0].String())
	assert.Equal(t, "0.5", depth.Buy[1][1].String())

	req := <-requests
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/btc_idr/depth", req.URL.Path)
}

func TestDepthInvalidPair(t *testing.T) {
	client, _ := publicAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":"invalid_pair","error_description":"Invalid Pair"}`)
	})

	_, err := client.Depth(context.Background(), models.NewPair("foo", "idr"))

	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, "invalid_pair", exErr.Code)
	assert.Equal(t, "Invalid Pair", exErr.Message)
}

func TestPublicHTTPError(t *testing.T) {
	client, _ := publicAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "bad gateway")
	})

	_, err := client.Ticker(context.Background(), models.NewPair("btc", "idr"))

	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, http.StatusBadGateway, exErr.Status)
}

func TestCandleWindow(t *testing.T) {
	now := marketNow.Unix()

	from, to := CandleWindow(now, 15, 10, false)
	assert.Equal(t, now, to)
	assert.Equal(t, now-15*60*10, from)

	from, to = CandleWindow(now, 15, 10, true)
	assert.Equal(t, now, to)
	assert.Equal(t, now-15*60*11, from)
}

const historyBody = `{"s":"ok",
	"t":[1,2,3,4,5,6,7,8,9,10,11],
	"o":[10,11,12,13,14,15,16,17,18,19,20],
	"h":["20","21","22","23","24","25","26","27","28","29","30"],
	"l":[1,2,3,4,5,6,7,8,9,10,11],
	"c":[5,6,7,8,9,10,11,12,13,14,15],
	"v":[0,0,0,0,0,0,0,0,0,0,0]}`

func TestCandlesShiftDropsFirstElement(t *testing.T) {
	client, requests := publicAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, historyBody)
	})
	pair := models.NewPair("btc", "idr")

	plain, err := client.Candles(context.Background(), pair, 15, 10, false)
	require.NoError(t, err)
	plainReq := <-requests

	shifted, err := client.Candles(context.Background(), pair, 15, 10, true)
	require.NoError(t, err)
	shiftedReq := <-requests

	// same series, first element dropped on each side
	assert.Equal(t, plain.Open[1:], shifted.Open)
	assert.Equal(t, plain.High[1:], shifted.High)
	assert.Equal(t, plain.Low[1:], shifted.Low)
	assert.Equal(t, plain.Close[1:], shifted.Close)
	assert.Len(t, shifted.Open, 10)
	assert.Equal(t, 21.0, shifted.High[0])

	assert.Equal(t, "/tradingview/history", plainReq.URL.Path)
	q := plainReq.URL.Query()
	assert.Equal(t, "BTCIDR", q.Get("symbol"))
	assert.Equal(t, "15", q.Get("resolution"))
	assert.Equal(t, "1704103200", q.Get("to"))
	assert.Equal(t, "1704094200", q.Get("from"))

	sq := shiftedReq.URL.Query()
	assert.Equal(t, "1704103200", sq.Get("to"))
	assert.Equal(t, "1704093300", sq.Get("from"))
}

func TestCandlesStatus(t *testing.T) {
	pair := models.NewPair("eth", "idr")

	empty, _ := publicAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"s":"no_data"}`)
	})
	candles, err := empty.Candles(context.Background(), pair, 60, 5, true)
	require.NoError(t, err)
	assert.Empty(t, candles.Open)

	failing, _ := publicAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"s":"error","errmsg":"unknown symbol"}`)
	})
	_, err = failing.Candles(context.Background(), pair, 60, 5, false)
	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, "unknown symbol", exErr.Message)

	_, err = failing.Candles(context.Background(), pair, 0, 5, false)
	assert.Error(t, err)
}

func TestOHLCCoversOneDay(t *testing.T) {
	client, requests := publicAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, historyBody)
	})

	candles, err := client.OHLC(context.Background(), models.NewPair("str", "idr"), 60)
	require.NoError(t, err)
	assert.Equal(t, models.NewPair("str", "idr"), candles.Pair)
	assert.Len(t, candles.Time, 11)

	q := (<-requests).URL.Query()
	assert.Equal(t, "XLMIDR", q.Get("symbol"))
	assert.Equal(t, "60", q.Get("resolution"))
	assert.Equal(t, "1704016800", q.Get("from"))
	assert.Equal(t, "1704103200", q.Get("to"))
}
