package dm

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
)

// FlushOutbox attempts delivery of every queued envelope addressed to
// peerPubkey over conn, deleting each entry once its ACK is observed.
// Entries that fail to deliver are left queued for the next flush.
func FlushOutbox(conn *transport.Conn, st *store.Store, peerPubkey string, ackTimeout time.Duration) (delivered int, err error) {
	entries, err := st.OutboxForPeer(peerPubkey)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		_ = conn.Stream.SetWriteDeadline(time.Now().Add(ackTimeout))
		if err := transport.WriteFrame(conn.Stream, entry.Envelope); err != nil {
			return delivered, err
		}
		_ = conn.Stream.SetReadDeadline(time.Now().Add(ackTimeout))
		ack, err := transport.ReadFrame(conn.Stream, 64)
		if err != nil || string(ack) != string(wire.AckBytes) {
			slog.Warn("outbox entry not acked, leaving queued", "peer", peerPubkey, "id", entry.ID)
			return delivered, err
		}
		if err := st.DeleteOutboxEntry(entry.ID); err != nil {
			return delivered, err
		}
		if entry.OriginMessageID != "" {
			if err := st.MarkDMDelivered(entry.OriginMessageID); err != nil {
				slog.Warn("mark dm delivered", "error", err)
			}
		}
		delivered++
	}
	_ = conn.Stream.SetWriteDeadline(time.Time{})
	_ = conn.Stream.SetReadDeadline(time.Time{})
	return delivered, nil
}

// Enqueue persists an envelope for later delivery to peerPubkey.
func Enqueue(st *store.Store, peerPubkey string, envelope []byte, originMessageID string, now int64) error {
	return st.EnqueueOutbox(&store.OutboxEntry{
		ID:              uuid.NewString(),
		Peer:            peerPubkey,
		Envelope:        envelope,
		CreatedAt:       now,
		OriginMessageID: originMessageID,
	})
}

// RunLoop periodically flushes every peer's outbox by dialing them fresh.
// Each flush attempt gets its own short-lived DM connection — this mirrors
// the engine's Connect/ratchet-per-message design rather than holding one
// long-lived connection per peer, since peers are offline far more often
// than online in a store-and-forward overlay.
func RunLoop(ctx context.Context, ep *transport.Endpoint, engine *Engine, st *store.Store, interval time.Duration, dial func(ctx context.Context, peerPubkey string) (*transport.Conn, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers, err := st.OutboxPeers()
			if err != nil {
				slog.Error("list outbox peers", "error", err)
				continue
			}
			for _, peer := range peers {
				conn, err := dial(ctx, peer)
				if err != nil {
					slog.Debug("outbox dial failed, will retry next round", "peer", peer, "error", err)
					continue
				}
				n, err := FlushOutbox(conn, st, peer, 5*time.Second)
				if err != nil {
					slog.Debug("outbox flush incomplete", "peer", peer, "error", err)
				}
				if n > 0 {
					slog.Info("flushed outbox entries", "peer", peer, "count", n)
				}
				conn.Close()
			}
		}
	}
}
