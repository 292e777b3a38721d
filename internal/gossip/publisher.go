package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
	"golang.org/x/time/rate"
)

const (
	publishRateLimit = rate.Limit(10) // fan-out messages per second per follower
	publishRateBurst = 20
	writeTimeout     = 10 * time.Second
)

// follower is one connected, subscribed peer on this node's own topic.
type follower struct {
	pubkey  string
	conn    *transport.Conn
	circuit *peerCircuit
	limiter *rate.Limiter
	mu      sync.Mutex // guards writes to conn.Stream; QUIC streams aren't safe for concurrent writers
}

// Publisher fans new_post/new_interaction/etc. messages out to every
// follower currently subscribed to this node's author topic, skipping
// followers whose circuit is open (adapted from klistr's
// internal/nostr.Publisher, one circuit per destination instead of per
// relay URL).
type Publisher struct {
	mu        sync.RWMutex
	followers map[string]*follower
}

// NewPublisher returns an empty Publisher; followers are added as they
// subscribe via Bridge.HandleConn.
func NewPublisher() *Publisher {
	return &Publisher{followers: make(map[string]*follower)}
}

// AddFollower registers a newly-accepted, subscribed connection for fan-out.
// Replaces any prior connection for the same pubkey (e.g. after a reconnect).
func (p *Publisher) AddFollower(pubkey string, conn *transport.Conn) {
	f := &follower{
		pubkey:  pubkey,
		conn:    conn,
		circuit: &peerCircuit{},
		limiter: rate.NewLimiter(publishRateLimit, publishRateBurst),
	}
	p.mu.Lock()
	if old, ok := p.followers[pubkey]; ok {
		_ = old.conn.Close()
	}
	p.followers[pubkey] = f
	p.mu.Unlock()
}

// RemoveFollower drops a follower's connection from the fan-out set.
func (p *Publisher) RemoveFollower(pubkey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.followers, pubkey)
}

// FollowerCount returns the number of currently fan-out-eligible followers.
func (p *Publisher) FollowerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.followers)
}

// Publish sends msg to every connected follower not currently circuit-broken.
// Best-effort: a write failure is logged and counted against that follower's
// circuit (which opens after cbThreshold consecutive failures), never
// returned, since one unreachable follower must never block delivery
// to the rest.
func (p *Publisher) Publish(ctx context.Context, msg *wire.GossipMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal gossip message", "error", err)
		return
	}

	p.mu.RLock()
	targets := make([]*follower, 0, len(p.followers))
	for _, f := range p.followers {
		targets = append(targets, f)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, f := range targets {
		if f.circuit.isOpen() {
			continue
		}
		wg.Add(1)
		go func(f *follower) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic fanning out gossip message", "panic", r, "follower", f.pubkey)
				}
			}()
			if err := f.limiter.Wait(ctx); err != nil {
				return
			}
			if err := f.send(payload); err != nil {
				justOpened := f.circuit.recordFailure()
				if justOpened {
					slog.Warn("follower circuit opened; pausing fan-out", "follower", f.pubkey, "error", err)
				}
				return
			}
			if wasOpen := f.circuit.recordSuccess(); wasOpen {
				slog.Info("follower circuit recovered", "follower", f.pubkey)
			}
		}(f)
	}
	wg.Wait()
}

func (f *follower) send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Stream.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := transport.WriteFrame(f.conn.Stream, payload); err != nil {
		return fmt.Errorf("write to follower %s: %w", f.pubkey, err)
	}
	return nil
}
