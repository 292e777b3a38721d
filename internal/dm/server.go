package dm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
)

// AcceptLoop serves inbound DM-ALPN connections on ep: completes the Noise
// IK handshake as responder, then reads envelopes until the peer
// disconnects, ACKing each one so the sender's outbox can retire it. Only
// suitable when ep carries no other ALPN traffic; a node multiplexing
// sync/gossip/DM on one Endpoint should dispatch to HandleConn by
// negotiated ALPN instead (see internal/orchestrator).
func (e *Engine) AcceptLoop(ctx context.Context, ep *transport.Endpoint) {
	for {
		conn, err := ep.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("dm accept failed", "error", err)
			continue
		}
		if conn.ALPN != transport.ALPNDM {
			_ = conn.Close()
			continue
		}
		go e.HandleConn(conn)
	}
}

// HandleConn serves one already-accepted DM-ALPN connection.
func (e *Engine) HandleConn(conn *transport.Conn) {
	e.serveConn(conn)
}

func (e *Engine) serveConn(conn *transport.Conn) {
	defer conn.Close()
	peerPubkey, err := e.Accept(conn)
	if err != nil {
		slog.Warn("dm handshake failed", "error", err)
		return
	}
	for {
		raw, err := transport.ReadFrame(conn.Stream, 1<<20)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("dm connection closed", "peer", peerPubkey, "error", err)
			}
			return
		}
		if err := e.ReceiveMessage(raw); err != nil {
			slog.Warn("dropping dm envelope", "peer", peerPubkey, "error", err)
			continue
		}
		_ = conn.Stream.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = transport.WriteFrame(conn.Stream, wire.AckBytes)
		_ = conn.Stream.SetWriteDeadline(time.Time{})
	}
}
