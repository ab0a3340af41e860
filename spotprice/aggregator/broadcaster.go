package aggregator

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/linluma/indodax/shared/models"
)

type subscriber struct {
	id    string
	pairs map[string]bool // channel-form pairs, empty means all
	ch    chan models.OrderBook
}

func (s *subscriber) wants(pair models.Pair) bool {
	return len(s.pairs) == 0 || s.pairs[pair.Channel()]
}

// Broadcaster fans normalized order books out to any number of consumers
type Broadcaster struct {
	bookCh     chan models.OrderBook
	bufferSize int
	done       chan struct{}
	stopOnce   sync.Once

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	latest      map[string]models.OrderBook
}

// NewBroadcaster creates a broadcaster whose subscribers buffer bufferSize books
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Broadcaster{
		bookCh:      make(chan models.OrderBook, 1000),
		bufferSize:  bufferSize,
		done:        make(chan struct{}),
		subscribers: make(map[string]*subscriber),
		latest:      make(map[string]models.OrderBook),
	}
}

// Start begins distributing books
func (b *Broadcaster) Start() {
	go b.run()
}

// GetBookChannel returns the channel feeding the broadcaster
func (b *Broadcaster) GetBookChannel() chan<- models.OrderBook {
	return b.bookCh
}

// Subscribe registers a consumer for pairs (channel form, e.g. btcidr).
// No pairs means every pair. Late subscribers only see future books.
func (b *Broadcaster) Subscribe(pairs []string) (string, <-chan models.OrderBook) {
	sub := &subscriber{
		id:    uuid.NewString(),
		pairs: make(map[string]bool, len(pairs)),
		ch:    make(chan models.OrderBook, b.bufferSize),
	}
	for _, p := range pairs {
		sub.pairs[p] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		close(sub.ch)
	default:
		b.subscribers[sub.id] = sub
	}
	return sub.id, sub.ch
}

// Unsubscribe removes a consumer and closes its channel
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active consumers
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Latest returns the most recent book seen for pair
func (b *Broadcaster) Latest(pair models.Pair) (models.OrderBook, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	book, ok := b.latest[pair.Channel()]
	return book, ok
}

// Stop closes every subscriber channel
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		defer b.mu.Unlock()
		for id, sub := range b.subscribers {
			close(sub.ch)
			delete(b.subscribers, id)
		}
	})
}

func (b *Broadcaster) run() {
	for {
		select {
		case <-b.done:
			return
		case book := <-b.bookCh:
			b.publish(book)
		}
	}
}

// publish never blocks on a slow consumer
func (b *Broadcaster) publish(book models.OrderBook) {
	b.mu.Lock()
	b.latest[book.Pair.Channel()] = book
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if !sub.wants(book.Pair) {
			continue
		}
		select {
		case sub.ch <- book:
		default:
			log.Printf("⚠️ Subscriber %s buffer full, dropping %s book", sub.id, book.Pair)
		}
	}
}
