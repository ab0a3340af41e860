package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/linluma/indodax/shared/models"
	"github.com/linluma/indodax/shared/rpc"
	"github.com/linluma/indodax/spotprice/aggregator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	btcIDR = models.NewPair("btc", "idr")
	ethBTC = models.NewPair("eth", "btc")
)

// startServer serves a SpotPriceServer over an in-memory listener
func startServer(t *testing.T) (*aggregator.Broadcaster, *rpc.SpotPriceClient) {
	t.Helper()

	broadcaster := aggregator.NewBroadcaster(10)
	broadcaster.Start()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	rpc.RegisterSpotPriceServiceServer(s, NewSpotPriceServer(broadcaster, []models.Pair{btcIDR, ethBTC}))
	go s.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		s.Stop()
		broadcaster.Stop()
	})
	return broadcaster, rpc.NewSpotPriceClient(conn)
}

func testBook(pair models.Pair, sec int) models.OrderBook {
	return models.OrderBook{
		Pair:       pair,
		Buy:        []models.PriceLevel{{150000000, 60000}},
		Sell:       []models.PriceLevel{{151000000, 0.002}},
		ReceivedAt: time.Date(2024, 1, 1, 10, 0, sec, 0, time.UTC),
	}
}

func TestGetAvailablePairs(t *testing.T) {
	_, client := startServer(t)

	pairs, err := client.GetAvailablePairs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"btcidr", "ethbtc"}, pairs)
}

func TestSubscribeStreamsRequestedPairs(t *testing.T) {
	broadcaster, client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Subscribe(ctx, []string{"BTC-IDR"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return broadcaster.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	broadcaster.GetBookChannel() <- testBook(ethBTC, 1)
	broadcaster.GetBookChannel() <- testBook(btcIDR, 2)

	book, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, testBook(btcIDR, 2), book)

	cancel()
	assert.Eventually(t, func() bool { return broadcaster.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond,
		"subscription should be released when the client leaves")
}

func TestSubscribeSendsLatestBookFirst(t *testing.T) {
	broadcaster, client := startServer(t)

	broadcaster.GetBookChannel() <- testBook(ethBTC, 7)
	require.Eventually(t, func() bool {
		_, ok := broadcaster.Latest(ethBTC)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.Subscribe(ctx, nil)
	require.NoError(t, err)

	book, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, testBook(ethBTC, 7), book)
}

func TestSubscribeRejectsUnknownPairs(t *testing.T) {
	_, client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, pair := range []string{"doge_idr", "???"} {
		stream, err := client.Subscribe(ctx, []string{pair})
		require.NoError(t, err)

		_, err = stream.Recv()
		assert.Equal(t, codes.InvalidArgument, status.Code(err), pair)
	}
}

func TestSubscribeEndsWhenFeedStops(t *testing.T) {
	broadcaster, client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Subscribe(ctx, []string{"btcidr"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return broadcaster.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	broadcaster.Stop()

	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
