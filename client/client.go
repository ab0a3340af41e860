package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/linluma/indodax/shared/models"
	"github.com/linluma/indodax/shared/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// SpotPriceClient handles gRPC connection to the spot price service
type SpotPriceClient struct {
	serverAddr string
	conn       *grpc.ClientConn
	client     *rpc.SpotPriceClient
}

// NewSpotPriceClient creates a new spot price client
func NewSpotPriceClient(serverAddr string) *SpotPriceClient {
	return &SpotPriceClient{
		serverAddr: serverAddr,
	}
}

// Connect establishes connection to the spot price service
func (c *SpotPriceClient) Connect() error {
	conn, err := grpc.NewClient(c.serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.conn = conn
	c.client = rpc.NewSpotPriceClient(conn)
	return nil
}

// Close closes the connection
func (c *SpotPriceClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// GetAvailablePairs returns the pairs the server streams
func (c *SpotPriceClient) GetAvailablePairs(ctx context.Context) (map[string]bool, error) {
	pairs, err := c.client.GetAvailablePairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get available pairs: %w", err)
	}

	pairsMap := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		pairsMap[pair] = true
	}
	return pairsMap, nil
}

// Subscribe subscribes to order book updates for given pairs
func (c *SpotPriceClient) Subscribe(ctx context.Context, pairs []string) (<-chan models.OrderBook, error) {
	stream, err := c.client.Subscribe(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	bookCh := make(chan models.OrderBook)

	go func() {
		defer close(bookCh)
		for {
			book, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					log.Printf("Stream receive error: %v", err)
				}
				return
			}
			select {
			case bookCh <- book:
			case <-ctx.Done():
				return
			}
		}
	}()

	return bookCh, nil
}

// FormatBook renders the top levels of each side on one line
func FormatBook(book models.OrderBook, levels int) string {
	side := func(ls []models.PriceLevel) string {
		if len(ls) > levels {
			ls = ls[:levels]
		}
		parts := make([]string, len(ls))
		for i, l := range ls {
			parts[i] = strconv.FormatFloat(l.Volume(), 'f', -1, 64) + "@" + strconv.FormatFloat(l.Price(), 'f', -1, 64)
		}
		return strings.Join(parts, " ")
	}

	return fmt.Sprintf("%s | %s | 🟢 buy[%d] %s | 🔴 sell[%d] %s",
		book.Pair, book.ReceivedAt.Format("15:04:05.000"),
		len(book.Buy), side(book.Buy), len(book.Sell), side(book.Sell))
}

// DisplayBook prints a formatted book
func DisplayBook(book models.OrderBook, levels int) {
	fmt.Println(FormatBook(book, levels))
}

// FormatDepth renders the public depth of a pair
func FormatDepth(pair models.Pair, depth *models.Depth, levels int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 %s depth\n", pair)
	for i, l := range depth.Sell {
		if i == levels {
			break
		}
		fmt.Fprintf(&b, "  sell %s @ %s\n", l[1], l[0])
	}
	for i, l := range depth.Buy {
		if i == levels {
			break
		}
		fmt.Fprintf(&b, "  buy  %s @ %s\n", l[1], l[0])
	}
	return b.String()
}
