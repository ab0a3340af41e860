package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/linluma/indodax/shared/models"
)

// RetryConfig holds retry configuration parameters
type RetryConfig struct {
	InitialDelay   time.Duration // e.g., 1 second
	MaxDelay       time.Duration // e.g., 30 seconds
	MaxRetries     int           // 0 retries forever
	StormThreshold int           // failures per minute, 0 disables storm mode
	BackoffFactor  float64       // e.g., 2.0 (exponential)
	Jitter         bool          // Add randomization to prevent thundering herd
}

// DefaultRetryConfig suits a long running feed
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		MaxRetries:     0,
		StormThreshold: 10,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// ConnectionHealth tracks feed connection health
type ConnectionHealth struct {
	FailureCount     int
	LastFailureTime  time.Time
	LastError        error
	ConsecutiveFails int
	RetryAttempt     int
	InStormMode      bool
}

// SpotPriceSource is the part of the exchange client the feeder drives
type SpotPriceSource interface {
	ListenSpotPrice(ctx context.Context, pair models.Pair) (<-chan models.OrderBook, error)
	Close() error
}

// SourceFactory builds a fresh source for each session
type SourceFactory func() SpotPriceSource

// Feeder keeps one spot price stream per pair flowing into out, rebuilding
// the whole session whenever any stream ends.
type Feeder struct {
	newSource SourceFactory
	pairs     []models.Pair
	out       chan<- models.OrderBook
	clock     clock.Clock

	mu             sync.Mutex
	retryConfig    RetryConfig
	health         ConnectionHealth
	recentFailures []time.Time
	connected      bool
}

// NewFeeder creates a feeder for pairs
func NewFeeder(newSource SourceFactory, pairs []models.Pair, out chan<- models.OrderBook, clk clock.Clock) *Feeder {
	if clk == nil {
		clk = clock.New()
	}
	return &Feeder{
		newSource:   newSource,
		pairs:       pairs,
		out:         out,
		clock:       clk,
		retryConfig: DefaultRetryConfig(),
	}
}

// SetRetryConfig updates the retry configuration
func (f *Feeder) SetRetryConfig(config RetryConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryConfig = config
}

// GetConnectionHealth returns a copy of the current health
func (f *Feeder) GetConnectionHealth() ConnectionHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

// IsConnected reports whether a session is currently streaming
func (f *Feeder) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Run streams until ctx is cancelled or retries are exhausted
func (f *Feeder) Run(ctx context.Context) error {
	strategy := f.backoffStrategy()

	operation := func() error {
		if f.isInStormMode() {
			return backoff.Permanent(fmt.Errorf("feeder in storm mode, skipping retry"))
		}

		err := f.stream(ctx, strategy)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return err
		}

		f.recordFailure(err)
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Printf("⚠️ Spot price feed failed (attempt %d): %v, retrying in %v",
			f.GetConnectionHealth().RetryAttempt, err, wait)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(strategy, ctx), notify)
}

func (f *Feeder) backoffStrategy() backoff.BackOff {
	f.mu.Lock()
	cfg := f.retryConfig
	f.mu.Unlock()

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.InitialInterval = cfg.InitialDelay
	backoffStrategy.MaxInterval = cfg.MaxDelay
	backoffStrategy.Multiplier = cfg.BackoffFactor
	backoffStrategy.MaxElapsedTime = 0
	backoffStrategy.RandomizationFactor = 0
	if cfg.Jitter {
		backoffStrategy.RandomizationFactor = 0.25 // ±25% jitter
	}

	if cfg.MaxRetries > 0 {
		return backoff.WithMaxRetries(backoffStrategy, uint64(cfg.MaxRetries))
	}
	return backoffStrategy
}

// stream runs one session. It returns when any pair's stream ends.
func (f *Feeder) stream(ctx context.Context, strategy backoff.BackOff) error {
	source := f.newSource()
	defer source.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	streams := make([]<-chan models.OrderBook, 0, len(f.pairs))
	for _, pair := range f.pairs {
		books, err := source.ListenSpotPrice(sessionCtx, pair)
		if err != nil {
			if errors.Is(err, models.ErrUnknownPair) {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("listen %s: %w", pair, err)
		}
		streams = append(streams, books)
	}

	f.recordSuccess()
	strategy.Reset()
	log.Printf("✅ Streaming spot prices for %d pairs", len(streams))

	ended := make(chan models.Pair, len(streams))
	var wg sync.WaitGroup
	for i, books := range streams {
		wg.Add(1)
		go func(pair models.Pair, books <-chan models.OrderBook) {
			defer wg.Done()
			f.forward(sessionCtx, books)
			ended <- pair
		}(f.pairs[i], books)
	}

	var stopped models.Pair
	select {
	case stopped = <-ended:
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
	f.setConnected(false)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s stream ended", stopped)
}

func (f *Feeder) forward(ctx context.Context, books <-chan models.OrderBook) {
	for {
		select {
		case book, ok := <-books:
			if !ok {
				return
			}
			select {
			case f.out <- book:
			default:
				log.Printf("⚠️ Book channel full, dropping %s book", book.Pair)
			}
		case <-ctx.Done():
			return
		}
	}
}

// isInStormMode checks if we should enter storm protection mode
func (f *Feeder) isInStormMode() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.retryConfig.StormThreshold <= 0 {
		return false
	}

	oneMinuteAgo := f.clock.Now().Add(-time.Minute)
	cleanedFailures := f.recentFailures[:0]
	for _, failureTime := range f.recentFailures {
		if failureTime.After(oneMinuteAgo) {
			cleanedFailures = append(cleanedFailures, failureTime)
		}
	}
	f.recentFailures = cleanedFailures

	if len(f.recentFailures) >= f.retryConfig.StormThreshold {
		if !f.health.InStormMode {
			log.Printf("⚠️ Feeder entering storm mode: %d failures in last minute", len(f.recentFailures))
			f.health.InStormMode = true
		}
		return true
	}

	if f.health.InStormMode {
		log.Printf("✅ Feeder exiting storm mode")
		f.health.InStormMode = false
	}
	return false
}

func (f *Feeder) recordFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	f.health.FailureCount++
	f.health.ConsecutiveFails++
	f.health.RetryAttempt++
	f.health.LastFailureTime = now
	f.health.LastError = err
	f.recentFailures = append(f.recentFailures, now)
}

func (f *Feeder) recordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.health.FailureCount > 0 {
		log.Printf("✅ Spot price feed connected after %d failures", f.health.FailureCount)
	}
	f.health.ConsecutiveFails = 0
	f.health.RetryAttempt = 0
	f.health.InStormMode = false
	f.connected = true
}

func (f *Feeder) setConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}
