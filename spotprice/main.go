package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/linluma/indodax/shared/config"
	"github.com/linluma/indodax/shared/models"
	"github.com/linluma/indodax/shared/rpc"
	"github.com/linluma/indodax/spotprice/aggregator"
	"github.com/linluma/indodax/spotprice/exchange"
	"github.com/linluma/indodax/spotprice/server"
	"google.golang.org/grpc"
)

func main() {
	cfg := config.ParseSpotPriceFlags()

	log.Printf("🚀 Starting Spot Price Service...")
	log.Printf("📊 Config: Pairs=%v, Port=%d, Buffer=%d", cfg.Pairs, cfg.Port, cfg.BufferSize)

	policies, err := config.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("❌ Failed to load policies: %v", err)
	}
	log.Printf("📋 Loaded volume policies for %d pairs", policies.Len())

	pairs, err := resolvePairs(cfg.Pairs, policies)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	if !cfg.Credentials.Complete() {
		log.Printf("⚠️ %s/%s not set, private commands will be rejected", config.EnvAPIKey, config.EnvAPISecret)
	}

	// Central book distribution
	broadcaster := aggregator.NewBroadcaster(cfg.BufferSize)
	broadcaster.Start()

	// Each feed session gets a fresh client and with it a fresh socket
	realClock := clock.New()
	newSource := func() aggregator.SpotPriceSource {
		return exchange.NewClient(cfg.Credentials.APIKey, cfg.Credentials.APISecret, exchange.Options{
			Clock:      realClock,
			Policies:   policies,
			BufferSize: cfg.BufferSize,
		})
	}
	feeder := aggregator.NewFeeder(newSource, pairs, broadcaster.GetBookChannel(), realClock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedDone := make(chan error, 1)
	go func() {
		log.Printf("📡 Subscribing to pairs: %v", pairs)
		feedDone <- feeder.Run(ctx)
	}()

	// Initialize gRPC server
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Fatalf("❌ Failed to listen: %v", err)
	}

	s := grpc.NewServer()
	rpc.RegisterSpotPriceServiceServer(s, server.NewSpotPriceServer(broadcaster, pairs))

	go func() {
		log.Printf("🌐 gRPC server listening on port %d", cfg.Port)
		if err := s.Serve(lis); err != nil {
			log.Printf("❌ gRPC server error: %v", err)
		}
	}()

	// Log system status
	go func() {
		ticker := time.NewTicker(cfg.StatusEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				health := feeder.GetConnectionHealth()
				log.Printf("📈 System Status: connected=%v, %d subscribers, %d failures",
					feeder.IsConnected(), broadcaster.SubscriberCount(), health.FailureCount)
			case <-ctx.Done():
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	feedRunning := true
	select {
	case <-sigCh:
		log.Println("🛑 Shutdown signal received, initiating graceful shutdown...")
	case err := <-feedDone:
		feedRunning = false
		log.Printf("❌ Spot price feed stopped: %v", err)
	}

	cancel()
	broadcaster.Stop()
	s.GracefulStop()

	if feedRunning {
		select {
		case err := <-feedDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("⚠️ Feed exited with: %v", err)
			}
		case <-time.After(5 * time.Second):
			log.Println("⚠️ Shutdown timeout reached, forcing exit")
		}
	}

	log.Println("👋 Spot Price Service stopped")
}

// resolvePairs parses flag pairs and rejects any without a volume policy
func resolvePairs(names []string, policies models.PolicyTable) ([]models.Pair, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no pairs configured")
	}
	pairs := make([]models.Pair, 0, len(names))
	for _, name := range names {
		pair, err := models.ParsePair(name)
		if err != nil {
			return nil, err
		}
		if _, err := policies.Lookup(pair); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}
