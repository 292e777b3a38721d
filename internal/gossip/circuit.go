package gossip

import (
	"sync"
	"time"
)

const (
	cbCooldown  = 2 * time.Minute
	cbThreshold = 3 // consecutive failures before circuit opens
)

// peerCircuit is a per-follower circuit breaker guarding outbound gossip
// publish, adapted from klistr's internal/nostr relayCircuit.
type peerCircuit struct {
	mu        sync.Mutex
	failCount int
	openedAt  time.Time
	open      bool
}

// isOpen reports whether the circuit is open, auto-closing (half-open retry)
// once cbCooldown has elapsed.
func (cb *peerCircuit) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return false
	}
	if time.Since(cb.openedAt) >= cbCooldown {
		cb.open = false
		cb.failCount = 0
		return false
	}
	return true
}

// recordFailure increments the failure count and opens the circuit at
// threshold. Returns true the first time the circuit opens.
func (cb *peerCircuit) recordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failCount++
	if !cb.open && cb.failCount >= cbThreshold {
		cb.open = true
		cb.openedAt = time.Now()
		return true
	}
	return false
}

// recordSuccess clears all failure state. Returns true if the circuit had
// been open.
func (cb *peerCircuit) recordSuccess() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	was := cb.open
	cb.open = false
	cb.failCount = 0
	return was
}
