package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klppl/socialnode/internal/diag"
	"github.com/klppl/socialnode/internal/dm"
	"github.com/klppl/socialnode/internal/sync"
	"github.com/klppl/socialnode/internal/transport"
)

// Run starts every concurrent subsystem and blocks until ctx is cancelled,
// then shuts the transport endpoint down. Mirrors cmd/klistr/main.go's
// shape: bind, start background loops, block, cooperative stop.
func (n *Node) Run(ctx context.Context) error {
	defer n.ep.Close()

	go n.acceptLoop(ctx)

	if err := n.resubscribeAll(ctx); err != nil {
		slog.Warn("resubscribe on startup incomplete", "error", err)
	}

	time.Sleep(n.cfg.PeerReadinessPause)

	n.startupSync(ctx)

	go n.dripSyncLoop(ctx)
	go dm.RunLoop(ctx, n.ep, n.dmEngine, n.store, n.cfg.DMOutboxInterval, n.dialDM)

	if n.cfg.DiagAddr != "" {
		diagSrv := diag.New(n.self, n.store, n.publisher)
		go diagSrv.Start(ctx, n.cfg.DiagAddr)
	}

	slog.Info("node running", "addr", n.Addr(), "pubkey", n.self.Pubkey)
	<-ctx.Done()
	slog.Info("node shutting down")
	return nil
}

// acceptLoop is the single reader of inbound connections on the shared
// Endpoint, dispatching each by its negotiated ALPN. One Endpoint serves
// sync, gossip, and DM traffic, so only one goroutine may call ep.Accept.
func (n *Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.ep.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		switch conn.ALPN {
		case transport.ALPNSync:
			go n.serveSync(conn)
		case transport.ALPNGossip:
			go n.bridge.HandleConn(conn)
		case transport.ALPNDM:
			go n.dmEngine.HandleConn(conn)
		default:
			slog.Warn("dropping connection with unrecognized ALPN", "alpn", conn.ALPN)
			_ = conn.Close()
		}
	}
}

func (n *Node) serveSync(conn *transport.Conn) {
	defer conn.Close()
	if err := sync.Serve(conn, n.store, n.syncBounds); err != nil {
		slog.Debug("sync session ended", "error", err)
	}
}

// resubscribeAll subscribes to every followee's gossip topic, each in its own
// reconnect-with-backoff goroutine. The node's own topic needs no
// subscription: followers reach it through acceptLoop and bridge.HandleConn.
func (n *Node) resubscribeAll(ctx context.Context) error {
	following, err := n.store.Following(n.self.Pubkey)
	if err != nil {
		return fmt.Errorf("list follows: %w", err)
	}
	for _, followee := range following {
		addr, ok := n.store.PeerAddress(followee)
		if !ok {
			slog.Warn("no known address for followee, skipping subscribe", "followee", followee)
			continue
		}
		go n.followWithReconnect(ctx, addr, followee)
	}
	return nil
}

// followWithReconnect keeps a gossip subscription to followee alive,
// reconnecting with a fixed 5s backoff on disconnect — the same fixed-delay
// reconnect shape as klistr's relay firehose loop.
func (n *Node) followWithReconnect(ctx context.Context, addr, followee string) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.bridge.FollowTopic(ctx, n.ep, addr, followee); err != nil {
			slog.Debug("gossip subscription ended", "followee", followee, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// dialDM opens a fresh DM-ALPN session to peerPubkey, used by the outbox
// flush loop. Each flush attempt gets its own connection.
func (n *Node) dialDM(ctx context.Context, peerPubkey string) (*transport.Conn, error) {
	addr, ok := n.store.PeerAddress(peerPubkey)
	if !ok {
		return nil, fmt.Errorf("no known address for peer %s", peerPubkey)
	}
	return n.dmEngine.Connect(ctx, n.ep, addr, peerPubkey)
}
