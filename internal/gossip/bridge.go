package gossip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
)

const subscribeTimeout = 10 * time.Second

// Bridge is the receive-side policy for gossip messages: author-match,
// bounds validation, signature verification, moderation, persistence, and an
// event hook for the notification/UI layer.
type Bridge struct {
	self       *identity.Identity
	store      *store.Store
	publisher  *Publisher
	bounds     wire.Bounds
	isBlocked  func(pubkey string) bool
	shouldDrop func(pubkey string) bool
	onEvent    func(fromTopic string, msg *wire.GossipMessage)
}

// NewBridge constructs a Bridge. isBlocked gates who may subscribe to this
// node's own topic; shouldDrop (muted OR blocked) gates which followees'
// content this node accepts once subscribed. onEvent may be nil.
func NewBridge(self *identity.Identity, st *store.Store, pub *Publisher, isBlocked, shouldDrop func(string) bool, onEvent func(string, *wire.GossipMessage)) *Bridge {
	if onEvent == nil {
		onEvent = func(string, *wire.GossipMessage) {}
	}
	return &Bridge{self: self, store: st, publisher: pub, bounds: wire.DefaultBounds, isBlocked: isBlocked, shouldDrop: shouldDrop, onEvent: onEvent}
}

// AcceptLoop serves inbound gossip-ALPN connections on ep, registering each
// subscriber that names this node's own topic with the Publisher's fan-out
// set. Blocks until ctx is cancelled. Only suitable when ep carries no other
// ALPN traffic; a node multiplexing sync/gossip/DM on one Endpoint should
// run its own Accept loop and dispatch to HandleConn by negotiated ALPN
// instead (see internal/orchestrator).
func (b *Bridge) AcceptLoop(ctx context.Context, ep *transport.Endpoint) {
	for {
		conn, err := ep.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("gossip accept failed", "error", err)
			continue
		}
		if conn.ALPN != transport.ALPNGossip {
			_ = conn.Close()
			continue
		}
		go b.HandleConn(conn)
	}
}

// HandleConn serves one already-accepted gossip-ALPN connection. Exported so
// a shared multi-protocol Endpoint's dispatcher can hand it connections
// directly without going through AcceptLoop's own Accept call.
func (b *Bridge) HandleConn(conn *transport.Conn) {
	b.handleSubscriber(conn, TopicForAuthor(b.self.Pubkey))
}

func (b *Bridge) handleSubscriber(conn *transport.Conn, ownTopic string) {
	_ = conn.Stream.SetReadDeadline(time.Now().Add(subscribeTimeout))
	raw, err := transport.ReadFrame(conn.Stream, 4096)
	if err != nil {
		slog.Debug("gossip subscribe read failed", "error", err)
		_ = conn.Close()
		return
	}
	var req subscribeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		_ = conn.Close()
		return
	}
	_ = conn.Stream.SetReadDeadline(time.Time{})

	if req.Topic != ownTopic {
		b.sendAck(conn, false, "unknown topic")
		_ = conn.Close()
		return
	}
	if b.isBlocked != nil && b.isBlocked(req.SubscriberPubkey) {
		b.sendAck(conn, false, "blocked")
		_ = conn.Close()
		return
	}

	b.sendAck(conn, true, "")

	now := time.Now().UnixMilli()
	if err := b.store.UpsertFollowerSeen(req.SubscriberPubkey, now, true); err != nil {
		slog.Warn("record follower seen", "error", err)
	}
	b.publisher.AddFollower(req.SubscriberPubkey, conn)

	// The subscriber writes nothing further on this stream; block on reads
	// purely to detect disconnect (NeighborDown) without polling.
	var discard [1]byte
	_, err = conn.Stream.Read(discard[:])
	b.publisher.RemoveFollower(req.SubscriberPubkey)
	if err := b.store.SetFollowerOnline(req.SubscriberPubkey, time.Now().UnixMilli(), false); err != nil {
		slog.Warn("record follower offline", "error", err)
	}
	_ = conn.Close()
}

func (b *Bridge) sendAck(conn *transport.Conn, ok bool, reason string) {
	payload, _ := json.Marshal(subscribeAck{OK: ok, Reason: reason})
	_ = conn.Stream.SetWriteDeadline(time.Now().Add(subscribeTimeout))
	_ = transport.WriteFrame(conn.Stream, payload)
	_ = conn.Stream.SetWriteDeadline(time.Time{})
}

// FollowTopic dials followeeAddr, subscribes to followeePubkey's topic, and
// processes incoming gossip messages until ctx is cancelled or the
// connection drops. The caller is responsible for reconnect/backoff.
func (b *Bridge) FollowTopic(ctx context.Context, ep *transport.Endpoint, followeeAddr, followeePubkey string) error {
	conn, err := ep.Dial(ctx, followeeAddr, transport.ALPNGossip)
	if err != nil {
		return fmt.Errorf("dial followee: %w", err)
	}
	defer conn.Close()

	req := subscribeRequest{Topic: TopicForAuthor(followeePubkey), SubscriberPubkey: b.self.Pubkey}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_ = conn.Stream.SetWriteDeadline(time.Now().Add(subscribeTimeout))
	if err := transport.WriteFrame(conn.Stream, payload); err != nil {
		return fmt.Errorf("write subscribe request: %w", err)
	}

	_ = conn.Stream.SetReadDeadline(time.Now().Add(subscribeTimeout))
	raw, err := transport.ReadFrame(conn.Stream, 4096)
	if err != nil {
		return fmt.Errorf("read subscribe ack: %w", err)
	}
	var ack subscribeAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return fmt.Errorf("unmarshal subscribe ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("subscribe rejected: %s", ack.Reason)
	}
	_ = conn.Stream.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		raw, err := transport.ReadFrame(conn.Stream, 1<<20)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read gossip message: %w", err)
		}
		var msg wire.GossipMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("dropping malformed gossip message", "from", followeePubkey, "error", err)
			continue
		}
		b.receive(followeePubkey, &msg)
	}
}

// receive applies the gossip receive policy:
// author-match, bounds validation, signature verification, moderation,
// persistence, and the event hook.
func (b *Bridge) receive(expectedAuthor string, msg *wire.GossipMessage) {
	if b.shouldDrop != nil && b.shouldDrop(expectedAuthor) {
		return
	}
	now := wire.NowMillis()

	switch msg.Type {
	case wire.GossipNewPost:
		p := msg.Post
		if p == nil || p.Author != expectedAuthor {
			slog.Warn("dropping post with author mismatch", "expected", expectedAuthor)
			return
		}
		if err := b.bounds.ValidatePost(p, now); err != nil {
			slog.Warn("dropping invalid post", "id", p.ID, "error", err)
			return
		}
		if err := identity.VerifyPost(p); err != nil {
			slog.Warn("dropping post with bad signature", "id", p.ID, "error", err)
			return
		}
		inserted, err := b.store.InsertPost(p)
		if err != nil {
			slog.Error("persist gossiped post", "error", err)
			return
		}
		if inserted {
			b.onEvent(expectedAuthor, msg)
		}

	case wire.GossipDeletePost:
		if msg.DeleteAuthor != expectedAuthor {
			return
		}
		if _, err := b.store.DeletePost(msg.DeleteID, msg.DeleteAuthor); err != nil {
			slog.Error("delete gossiped post", "error", err)
			return
		}
		b.onEvent(expectedAuthor, msg)

	case wire.GossipProfileUpdate:
		if msg.Profile == nil || msg.Profile.Pubkey != expectedAuthor {
			return
		}
		if err := b.store.UpsertProfile(msg.Profile); err != nil {
			slog.Error("persist gossiped profile", "error", err)
			return
		}
		b.onEvent(expectedAuthor, msg)

	case wire.GossipNewInteraction:
		in := msg.Interaction
		if in == nil || in.Author != expectedAuthor {
			return
		}
		if err := b.bounds.ValidateInteraction(in, now); err != nil {
			slog.Warn("dropping invalid interaction", "id", in.ID, "error", err)
			return
		}
		if err := identity.VerifyInteraction(in); err != nil {
			slog.Warn("dropping interaction with bad signature", "id", in.ID, "error", err)
			return
		}
		inserted, err := b.store.InsertInteraction(in)
		if err != nil {
			slog.Error("persist gossiped interaction", "error", err)
			return
		}
		if inserted {
			b.onEvent(expectedAuthor, msg)
		}

	case wire.GossipDeleteInteraction:
		if msg.DeleteAuthor != expectedAuthor {
			return
		}
		if _, err := b.store.DeleteInteraction(msg.DeleteID, msg.DeleteAuthor); err != nil {
			slog.Error("delete gossiped interaction", "error", err)
			return
		}
		b.onEvent(expectedAuthor, msg)

	default:
		slog.Warn("dropping gossip message of unknown type", "type", msg.Type)
	}
}
