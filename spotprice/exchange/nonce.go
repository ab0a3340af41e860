package exchange

import (
	"sync"

	"github.com/benbjohnson/clock"
)

// NonceSource hands out strictly increasing nonces seeded from the wall
// clock in milliseconds. It never repeats or goes back, even when the clock
// does or when several calls land in the same millisecond.
type NonceSource struct {
	clock clock.Clock
	mu    sync.Mutex
	last  int64
}

// NewNonceSource creates a nonce source reading time from clk
func NewNonceSource(clk clock.Clock) *NonceSource {
	if clk == nil {
		clk = clock.New()
	}
	return &NonceSource{clock: clk}
}

// Next returns the next nonce
func (n *NonceSource) Next() int64 {
	now := n.clock.Now().UnixMilli()

	n.mu.Lock()
	defer n.mu.Unlock()

	if now <= n.last {
		now = n.last + 1
	}
	n.last = now
	return now
}
