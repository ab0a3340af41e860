package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/linluma/indodax/shared/config"
	"github.com/linluma/indodax/shared/models"
	"github.com/linluma/indodax/spotprice/exchange"
)

func main() {
	cfg := config.ParseClientFlags()

	if cfg.Depth != "" {
		if err := printDepth(cfg.Depth, cfg.Levels); err != nil {
			log.Fatalf("❌ Depth failed: %v", err)
		}
		return
	}

	log.Printf("🚀 Starting Spot Price Client")
	log.Printf("📡 Server: %s", cfg.ServerAddress)
	log.Printf("📊 Pairs: %v", cfg.Pairs)
	log.Printf("⏰ Duration: %v", cfg.Duration)

	if err := runClient(cfg); err != nil {
		log.Fatalf("❌ Client failed: %v", err)
	}

	log.Println("✅ Client finished")
}

// printDepth fetches the public depth directly from the exchange
func printDepth(name string, levels int) error {
	pair, err := models.ParsePair(name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// public data needs no credentials
	indodax := exchange.NewClient("", "", exchange.Options{})
	defer indodax.Close()

	depth, err := indodax.Market().Depth(ctx, pair)
	if err != nil {
		return err
	}
	fmt.Print(FormatDepth(pair, depth, levels))
	return nil
}

// runClient connects to the spot price service and prints order books
func runClient(cfg *config.ClientConfig) error {
	client := NewSpotPriceClient(cfg.ServerAddress)
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	// Set up context - run forever if duration is 0
	var ctx context.Context
	var cancel context.CancelFunc
	if cfg.Duration == 0 {
		ctx, cancel = context.WithCancel(context.Background())
	} else {
		ctx, cancel = context.WithTimeout(context.Background(), cfg.Duration)
	}
	defer cancel()

	log.Printf("📋 Getting available pairs...")
	available, err := client.GetAvailablePairs(ctx)
	if err != nil {
		return err
	}

	var pairs []string
	for _, name := range cfg.Pairs {
		pair, err := models.ParsePair(name)
		if err != nil || !available[pair.Channel()] {
			log.Printf("❌ Pair %s not found in available pairs, skipping...", name)
			continue
		}
		pairs = append(pairs, pair.Channel())
	}
	if len(pairs) == 0 {
		return fmt.Errorf("none of %v is available", cfg.Pairs)
	}

	log.Printf("📡 Subscribing to pairs: %v", pairs)
	bookCh, err := client.Subscribe(ctx, pairs)
	if err != nil {
		return err
	}

	for book := range bookCh {
		DisplayBook(book, cfg.Levels)
	}
	return nil
}
