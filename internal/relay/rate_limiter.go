package relay

import (
	"sync"

	"dropline/pkg/types"
)

// DefaultMessageLimit is the per-connection message allowance.
const DefaultMessageLimit = 100

// RateLimiter caps the number of messages one connection may send over its whole
// lifetime. Counters never decay; Forget drops them when the connection closes.
// ARCHITECTURAL DISCOVERY: Keyed by connection id, not remote address, so peers
// behind one NAT do not share an allowance
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*ClientLimit
}

// ClientLimit tracks one connection's consumption
type ClientLimit struct {
	messageCount int
	rejected     int
}

// NewRateLimiter creates a limiter allowing limit messages per connection
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return &RateLimiter{
		limit:   limit,
		clients: make(map[string]*ClientLimit),
	}
}

// Allow records one inbound message for key. Message limit+1 and every later one
// fail with ErrRateLimitExceeded.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	client, exists := rl.clients[key]
	if !exists {
		client = &ClientLimit{}
		rl.clients[key] = client
	}

	if client.messageCount >= rl.limit {
		client.rejected++
		return types.ErrRateLimitExceeded
	}
	client.messageCount++
	return nil
}

// Forget destroys the state for key. Safe for unknown keys.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, key)
}

// Count returns the accepted message count for key
func (rl *RateLimiter) Count(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if client, ok := rl.clients[key]; ok {
		return client.messageCount
	}
	return 0
}

// Limit returns the configured allowance
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// Tracked returns how many connections currently hold state
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
