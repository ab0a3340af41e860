package server

import (
	"context"
	"log"

	"github.com/linluma/indodax/shared/models"
	"github.com/linluma/indodax/shared/rpc"
	"github.com/linluma/indodax/spotprice/aggregator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SpotPriceServer implements the gRPC SpotPriceService
type SpotPriceServer struct {
	broadcaster *aggregator.Broadcaster
	pairs       []models.Pair
	available   map[string]bool
}

// NewSpotPriceServer creates a server streaming pairs from broadcaster
func NewSpotPriceServer(broadcaster *aggregator.Broadcaster, pairs []models.Pair) *SpotPriceServer {
	available := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		available[p.Channel()] = true
	}
	return &SpotPriceServer{
		broadcaster: broadcaster,
		pairs:       pairs,
		available:   available,
	}
}

// GetAvailablePairs returns the streamed pairs in channel form
func (s *SpotPriceServer) GetAvailablePairs(ctx context.Context) ([]string, error) {
	pairs := make([]string, len(s.pairs))
	for i, p := range s.pairs {
		pairs[i] = p.Channel()
	}
	return pairs, nil
}

// Subscribe handles client subscriptions to order book updates. The latest
// known book of each requested pair is sent first.
func (s *SpotPriceServer) Subscribe(requested []string, stream rpc.BookSender) error {
	channels := make([]string, 0, len(requested))
	for _, r := range requested {
		pair, err := models.ParsePair(r)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid pair: %v", err)
		}
		if !s.available[pair.Channel()] {
			return status.Errorf(codes.InvalidArgument, "pair %s is not streamed", pair)
		}
		channels = append(channels, pair.Channel())
	}

	id, books := s.broadcaster.Subscribe(channels)
	defer s.broadcaster.Unsubscribe(id)
	log.Printf("📡 Client %s subscribed to %v", id, channels)

	for _, p := range s.pairs {
		if len(channels) > 0 && !contains(channels, p.Channel()) {
			continue
		}
		if book, ok := s.broadcaster.Latest(p); ok {
			if err := stream.Send(book); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-stream.Context().Done():
			log.Printf("📡 Client %s disconnected", id)
			return nil
		case book, ok := <-books:
			if !ok {
				return status.Error(codes.Unavailable, "spot price feed stopped")
			}
			if err := stream.Send(book); err != nil {
				log.Printf("⚠️ Failed to send %s book to %s: %v", book.Pair, id, err)
				return err
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
