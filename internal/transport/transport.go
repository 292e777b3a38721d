// Package transport is the node's QUIC+TLS network endpoint: one listener
// accepting inbound peer connections and a dialer for outbound ones, both
// multiplexing bidirectional streams tagged by ALPN protocol id. It
// generalizes klistr's katzenpost-derived sockatz/common.QUICProxyConn idiom
// (self-signed TLS, quic-go Listen/Dial, one stream per logical exchange) to
// a plain address-based QUIC endpoint, since this node dials known peer
// addresses directly rather than proxying over an external mixnet.
package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN protocol identifiers, one per logical exchange this node performs over
// QUIC. quic-go negotiates one from the dialer's offered list against the
// listener's configured set, so a single endpoint can accept all three kinds
// of connection on one bound address.
const (
	ALPNSync   = "iroh-social/sync/3"
	ALPNGossip = "iroh-social/gossip/1"
	ALPNDM     = "iroh-social/dm/1"
)

// MaxFrameBytes bounds a single length-prefixed frame read from a stream,
// independent of any higher-level per-protocol cap, so a malformed or hostile
// peer can never force an unbounded read into memory.
const MaxFrameBytes = 64 << 20 // 64MiB hard ceiling; callers pass a tighter cap to ReadFrame.

// Endpoint is a bound QUIC listener plus the TLS config used both to accept
// and to dial peers. Node identity is not carried in the TLS certificate;
// peer identity is established at the application layer (signed handshake
// payloads), so the certificate here only needs to satisfy QUIC's mandatory
// TLS 1.3 requirement.
type Endpoint struct {
	listener *quic.Listener
	tlsConf  *tls.Config
	quicConf *quic.Config
}

// Listen binds addr and returns an Endpoint ready to Accept and Dial.
func Listen(addr string, alpns []string) (*Endpoint, error) {
	tlsConf, err := generateTLSConfig(alpns)
	if err != nil {
		return nil, fmt.Errorf("generate tls config: %w", err)
	}
	qconf := &quic.Config{
		MaxIdleTimeout:  60 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	}
	l, err := quic.ListenAddr(addr, tlsConf, qconf)
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	slog.Info("transport endpoint bound", "addr", l.Addr().String())
	return &Endpoint{listener: l, tlsConf: tlsConf, quicConf: qconf}, nil
}

// Addr returns the endpoint's bound local address.
func (e *Endpoint) Addr() net.Addr {
	return e.listener.Addr()
}

// Close shuts down the listener. In-flight connections are not forcibly
// closed; callers should close their own Conns first.
func (e *Endpoint) Close() error {
	return e.listener.Close()
}

// Accept blocks for the next inbound connection and its first stream. The
// negotiated ALPN protocol is returned so the caller can dispatch without
// peeking the stream.
func (e *Endpoint) Accept(ctx context.Context) (*Conn, error) {
	qc, err := e.listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept connection: %w", err)
	}
	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		qc.CloseWithError(0, "stream accept failed")
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	return &Conn{quicConn: qc, Stream: stream, ALPN: qc.ConnectionState().TLS.NegotiatedProtocol}, nil
}

// Dial opens a connection to addr offering alpn, and opens the connection's
// first bidirectional stream.
func (e *Endpoint) Dial(ctx context.Context, addr string, alpn string) (*Conn, error) {
	clientTLS := &tls.Config{
		InsecureSkipVerify: true, // peer identity verified at the application layer, not via CA trust
		NextProtos:         []string{alpn},
	}
	qc, err := quic.DialAddr(ctx, addr, clientTLS, e.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		qc.CloseWithError(0, "stream open failed")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &Conn{quicConn: qc, Stream: stream, ALPN: alpn}, nil
}

// Conn pairs a QUIC connection with its primary bidirectional stream and the
// negotiated ALPN protocol, and adds length-prefixed framing on top of the
// raw stream.
type Conn struct {
	quicConn quic.Connection
	Stream   quic.Stream
	ALPN     string
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.quicConn.RemoteAddr()
}

// Close closes the stream and the underlying connection.
func (c *Conn) Close() error {
	_ = c.Stream.Close()
	return c.quicConn.CloseWithError(0, "")
}

// WriteFrame writes a 4-byte big-endian length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, rejecting any declared length
// over maxBytes before attempting to allocate or read it. A declared length
// of zero yields a nil, non-error payload — used by the sync protocol as its
// delta-stream terminator.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if maxBytes <= 0 || maxBytes > MaxFrameBytes {
		maxBytes = MaxFrameBytes
	}
	if int(n) > maxBytes {
		return nil, fmt.Errorf("frame length %d exceeds max %d", n, maxBytes)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return buf, nil
}

// generateTLSConfig produces a throwaway self-signed TLS certificate, built
// fresh on every process start. The node's durable identity lives in
// internal/identity, not in this certificate.
func generateTLSConfig(alpns []string) (*tls.Config, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate cert key: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"iroh-social node"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * 365 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   alpns,
	}, nil
}
