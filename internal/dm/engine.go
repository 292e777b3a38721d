package dm

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flynn/noise"
	"github.com/google/uuid"
	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
)

const handshakeTimeout = 10 * time.Second

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Engine establishes DM sessions (Noise_IK_25519_ChaChaPoly_BLAKE2s followed
// by a Double Ratchet) and drives encrypt/decrypt for application payloads.
// It generalizes klistr's LoadOrGenerateKeyPair zero-setup idiom: the node's
// DM keys are derived from the same identity seed used for signing, so no
// separate DM-keypair file is ever generated.
type Engine struct {
	self      *identity.Identity
	store     *store.Store
	isBlocked func(pubkey string) bool
	onMessage func(senderPubkey string, payload *wire.DMPayload)
}

// NewEngine constructs an Engine. onMessage may be nil.
func NewEngine(self *identity.Identity, st *store.Store, isBlocked func(string) bool, onMessage func(string, *wire.DMPayload)) *Engine {
	if onMessage == nil {
		onMessage = func(string, *wire.DMPayload) {}
	}
	return &Engine{self: self, store: st, isBlocked: isBlocked, onMessage: onMessage}
}

func (e *Engine) staticKeypair() noise.DHKey {
	priv, pub := e.self.X25519FromEd()
	return noise.DHKey{Private: priv[:], Public: pub[:]}
}

func peerStaticX25519(peerPubkeyHex string) ([]byte, error) {
	raw, err := hex.DecodeString(peerPubkeyHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("malformed peer pubkey %q", peerPubkeyHex)
	}
	xpub, err := identity.EdToX25519Public(ed25519.PublicKey(raw))
	if err != nil {
		return nil, fmt.Errorf("derive peer x25519 key: %w", err)
	}
	return xpub[:], nil
}

// Connect dials peerAddr, performs the Noise IK handshake as initiator, and
// establishes (or resumes) the Double Ratchet session for peerPubkey,
// persisting ratchet state immediately after the handshake completes.
func (e *Engine) Connect(ctx context.Context, ep *transport.Endpoint, peerAddr, peerPubkey string) (*transport.Conn, error) {
	if e.isBlocked != nil && e.isBlocked(peerPubkey) {
		return nil, fmt.Errorf("peer %s is blocked", peerPubkey)
	}
	conn, err := ep.Dial(ctx, peerAddr, transport.ALPNDM)
	if err != nil {
		return nil, fmt.Errorf("dial dm peer: %w", err)
	}

	peerStatic, err := peerStaticX25519(peerPubkey)
	if err != nil {
		conn.Close()
		return nil, err
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: e.staticKeypair(),
		PeerStatic:    peerStatic,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init noise handshake: %w", err)
	}

	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("write handshake init: %w", err)
	}
	if err := writeHandshake(conn, wire.DmHandshake{Type: wire.DmHandshakeInit, SenderPubkey: e.self.Pubkey, NoiseMessage: msg1}); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := readHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Type != wire.DmHandshakeResponse {
		conn.Close()
		return nil, fmt.Errorf("expected handshake response, got %s", resp.Type)
	}
	_, _, _, err = hs.ReadMessage(nil, resp.NoiseMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake response: %w", err)
	}

	if _, ok, err := e.loadRatchet(peerPubkey); err == nil && ok {
		// A session with this peer already exists — keep using it rather
		// than resetting the ratchet to a fresh epoch derived from this
		// handshake's channel binding. The Noise handshake above still
		// re-authenticates the connection; only a peer with no stored
		// session gets a brand new ratchet.
		return conn, nil
	}

	var sharedSecret [32]byte
	copy(sharedSecret[:], hs.ChannelBinding())

	ratchet, err := NewInitiator(sharedSecret, toFixed32(peerStatic))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init ratchet: %w", err)
	}
	if err := e.saveRatchet(peerPubkey, ratchet); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Accept completes the responder side of the Noise IK handshake on conn
// (already accepted with ALPNDM negotiated) and establishes the ratchet
// session. Returns the peer's claimed pubkey.
func (e *Engine) Accept(conn *transport.Conn) (string, error) {
	_ = conn.Stream.SetReadDeadline(deadlineIn(handshakeTimeout))
	init, err := readHandshake(conn)
	if err != nil {
		return "", err
	}
	if init.Type != wire.DmHandshakeInit {
		return "", fmt.Errorf("expected handshake init, got %s", init.Type)
	}
	if e.isBlocked != nil && e.isBlocked(init.SenderPubkey) {
		return "", fmt.Errorf("peer %s is blocked", init.SenderPubkey)
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		StaticKeypair: e.staticKeypair(),
	})
	if err != nil {
		return "", fmt.Errorf("init noise handshake: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, init.NoiseMessage); err != nil {
		return "", fmt.Errorf("read handshake init: %w", err)
	}
	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return "", fmt.Errorf("write handshake response: %w", err)
	}
	if err := writeHandshake(conn, wire.DmHandshake{Type: wire.DmHandshakeResponse, SenderPubkey: e.self.Pubkey, NoiseMessage: msg2}); err != nil {
		return "", err
	}
	_ = conn.Stream.SetReadDeadline(time.Time{})

	if _, ok, err := e.loadRatchet(init.SenderPubkey); err == nil && ok {
		// Existing session for this sender — preserve it instead of
		// re-deriving from this handshake's channel binding, so envelopes
		// already enqueued under the current epoch stay decryptable.
		return init.SenderPubkey, nil
	}

	var sharedSecret [32]byte
	copy(sharedSecret[:], hs.ChannelBinding())

	dhPriv, dhPub := e.self.X25519FromEd()
	ratchet := NewResponder(sharedSecret, dhPriv, dhPub)
	if err := e.saveRatchet(init.SenderPubkey, ratchet); err != nil {
		return "", err
	}
	return init.SenderPubkey, nil
}

// SendMessage encrypts payload for peerPubkey using that peer's persisted
// ratchet state and writes the resulting envelope to conn, or — if conn is
// nil — returns the envelope bytes for the caller to enqueue in the outbox.
func (e *Engine) SendMessage(peerPubkey string, payload *wire.DMPayload, conn *transport.Conn) ([]byte, error) {
	ratchet, ok, err := e.loadRatchet(peerPubkey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no ratchet session for peer %s", peerPubkey)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dm payload: %w", err)
	}
	header, ciphertext, err := ratchet.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("ratchet encrypt: %w", err)
	}
	if err := e.saveRatchet(peerPubkey, ratchet); err != nil {
		return nil, err
	}

	envelope := wire.EncryptedEnvelope{
		SenderPubkey:  e.self.Pubkey,
		RatchetHeader: header,
		Ciphertext:    ciphertext,
	}
	envBytes, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	if conn != nil {
		if err := transport.WriteFrame(conn.Stream, envBytes); err != nil {
			return nil, fmt.Errorf("write envelope: %w", err)
		}
	}
	return envBytes, nil
}

// ReceiveMessage decrypts one envelope, updating and persisting the sender's
// ratchet state, and dispatches the plaintext payload to onMessage.
func (e *Engine) ReceiveMessage(envBytes []byte) error {
	var envelope wire.EncryptedEnvelope
	if err := json.Unmarshal(envBytes, &envelope); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if e.isBlocked != nil && e.isBlocked(envelope.SenderPubkey) {
		return fmt.Errorf("dropping dm from blocked peer %s", envelope.SenderPubkey)
	}

	ratchet, ok, err := e.loadRatchet(envelope.SenderPubkey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no ratchet session for peer %s", envelope.SenderPubkey)
	}

	plaintext, err := ratchet.Decrypt(envelope.RatchetHeader, envelope.Ciphertext)
	if err != nil {
		return fmt.Errorf("ratchet decrypt: %w", err)
	}
	if err := e.saveRatchet(envelope.SenderPubkey, ratchet); err != nil {
		return err
	}

	var payload wire.DMPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return fmt.Errorf("unmarshal dm payload: %w", err)
	}

	switch payload.Type {
	case wire.DMPayloadMessage:
		if payload.Message == nil {
			return fmt.Errorf("message payload missing message body")
		}
		if payload.Message.ID == "" {
			payload.Message.ID = uuid.NewString()
		}
		if payload.Message.ConversationID == "" {
			payload.Message.ConversationID = store.ConversationID(e.self.Pubkey, envelope.SenderPubkey)
		}
		if _, err := e.store.InsertDM(payload.Message, e.self.Pubkey); err != nil {
			return fmt.Errorf("persist dm: %w", err)
		}
	case wire.DMPayloadRead:
		if err := e.store.MarkDMRead(payload.MessageID); err != nil {
			return fmt.Errorf("mark dm read: %w", err)
		}
	case wire.DMPayloadDelivered:
		if err := e.store.MarkDMDelivered(payload.MessageID); err != nil {
			return fmt.Errorf("mark dm delivered: %w", err)
		}
	case wire.DMPayloadTyping:
		// Ephemeral — nothing to persist, just forwarded to onMessage below.
	default:
		return fmt.Errorf("unknown dm payload type %q", payload.Type)
	}

	e.onMessage(envelope.SenderPubkey, &payload)
	return nil
}

func (e *Engine) saveRatchet(peerPubkey string, s *State) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("marshal ratchet state: %w", err)
	}
	return e.store.SaveRatchetState(peerPubkey, data)
}

func (e *Engine) loadRatchet(peerPubkey string) (*State, bool, error) {
	data, ok, err := e.store.LoadRatchetState(peerPubkey)
	if err != nil || !ok {
		return nil, ok, err
	}
	s, err := Unmarshal(data)
	return s, true, err
}

func writeHandshake(conn *transport.Conn, hs wire.DmHandshake) error {
	payload, err := json.Marshal(hs)
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	_ = conn.Stream.SetWriteDeadline(deadlineIn(handshakeTimeout))
	if err := transport.WriteFrame(conn.Stream, payload); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	_ = conn.Stream.SetWriteDeadline(time.Time{})
	return nil
}

func readHandshake(conn *transport.Conn) (wire.DmHandshake, error) {
	var hs wire.DmHandshake
	_ = conn.Stream.SetReadDeadline(deadlineIn(handshakeTimeout))
	raw, err := transport.ReadFrame(conn.Stream, 8192)
	if err != nil {
		return hs, fmt.Errorf("read handshake: %w", err)
	}
	_ = conn.Stream.SetReadDeadline(time.Time{})
	if err := json.Unmarshal(raw, &hs); err != nil {
		return hs, fmt.Errorf("unmarshal handshake: %w", err)
	}
	return hs, nil
}

func toFixed32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

func deadlineIn(d time.Duration) time.Time {
	return time.Now().Add(d)
}
