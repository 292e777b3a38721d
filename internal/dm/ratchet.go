// Package dm is the direct-message engine: Noise IK session establishment
// over the DM ALPN followed by a Double Ratchet for per-message forward
// secrecy and break-in recovery, plus a durable outbox for offline peers.
// The ratchet state machine is grounded on the shape of the
// codahale/thyrse adratchet reference (Ratchet/SendMessage/ReceiveMessage/
// advanceRecvChain, a bounded skipped-message-key cache), adapted from its
// Ristretto255+Thyrse primitives to this node's X25519+HKDF+ChaCha20-Poly1305
// stack so the ratchet composes with flynn/noise's IK handshake output.
package dm

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klppl/socialnode/internal/wire"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// MaxSkip bounds how many message keys in a single chain may be cached
// un-received before a chain is considered abandoned.
const MaxSkip = 100

var (
	rootInfo  = []byte("iroh-social-dm-root-v1")
	chainInfo = []byte("iroh-social-dm-chain-v1")
)

// ErrTooManySkipped is returned by Decrypt when a message's header implies
// skipping more than MaxSkip keys in its chain.
var ErrTooManySkipped = errors.New("ratchet: too many skipped messages")

type skippedKey struct {
	DHPublic      string `json:"dh_public"`
	MessageNumber uint32 `json:"msg_num"`
}

// State is one peer's Double Ratchet session. It is never cached in memory
// across concurrent operations — callers load it, apply one encrypt or
// decrypt, and persist the result before returning.
type State struct {
	RootKey      [32]byte `json:"-"`
	SendChainKey [32]byte `json:"-"`
	RecvChainKey [32]byte `json:"-"`
	HaveSendChain bool    `json:"-"`
	HaveRecvChain bool    `json:"-"`
	DHPrivate    [32]byte `json:"-"`
	DHPublic     [32]byte `json:"-"`
	RemotePublic [32]byte `json:"-"`
	HaveRemote   bool     `json:"-"`
	SendN        uint32   `json:"-"`
	RecvN        uint32   `json:"-"`
	PrevSendN    uint32   `json:"-"`
	Skipped      map[skippedKey][32]byte `json:"-"`
}

// serializedState is State's on-disk shape: hex-encoded fixed-size fields so
// the ratchet session round-trips through store.SaveRatchetState's []byte
// blob as plain JSON, matching this codebase's JSON-first wire conventions.
type serializedState struct {
	RootKey       string            `json:"root_key"`
	SendChainKey  string            `json:"send_chain_key,omitempty"`
	HaveSendChain bool              `json:"have_send_chain"`
	RecvChainKey  string            `json:"recv_chain_key,omitempty"`
	HaveRecvChain bool              `json:"have_recv_chain"`
	DHPrivate     string            `json:"dh_private"`
	DHPublic      string            `json:"dh_public"`
	RemotePublic  string            `json:"remote_public,omitempty"`
	HaveRemote    bool              `json:"have_remote"`
	SendN         uint32            `json:"send_n"`
	RecvN         uint32            `json:"recv_n"`
	PrevSendN     uint32            `json:"prev_send_n"`
	Skipped       []skippedMessageKey `json:"skipped,omitempty"`
}

type skippedMessageKey struct {
	DHPublic      string `json:"dh_public"`
	MessageNumber uint32 `json:"msg_num"`
	MessageKey    string `json:"message_key"`
}

// NewInitiator starts a session as the party that sent the Noise IK init
// message: sharedSecret is the handshake's agreed symmetric key and
// remoteDHPublic is the responder's long-lived ratchet public key. The
// initiator performs an immediate DH ratchet step so its first message
// already uses a fresh chain.
func NewInitiator(sharedSecret [32]byte, remoteDHPublic [32]byte) (*State, error) {
	s := &State{
		RootKey:      sharedSecret,
		RemotePublic: remoteDHPublic,
		HaveRemote:   true,
		Skipped:      make(map[skippedKey][32]byte),
	}
	if err := s.dhRatchetSend(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewResponder starts a session as the party that received the Noise IK
// init message: dhPrivate/dhPublic is the responder's own long-lived
// ratchet keypair (the same keys the initiator used as remoteDHPublic).
func NewResponder(sharedSecret [32]byte, dhPrivate, dhPublic [32]byte) *State {
	return &State{
		RootKey:   sharedSecret,
		DHPrivate: dhPrivate,
		DHPublic:  dhPublic,
		Skipped:   make(map[skippedKey][32]byte),
	}
}

// Encrypt advances the sending chain by one step and seals plaintext,
// returning the ratchet header to send alongside the ciphertext.
func (s *State) Encrypt(plaintext []byte) (wire.RatchetHeader, []byte, error) {
	if !s.HaveSendChain {
		if err := s.dhRatchetSend(); err != nil {
			return wire.RatchetHeader{}, nil, err
		}
	}
	msgKey := s.stepSendChain()
	aead, err := chacha20poly1305.New(msgKey[:])
	if err != nil {
		return wire.RatchetHeader{}, nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize) // zero nonce: safe because msgKey is single-use
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	header := wire.RatchetHeader{
		DHPublic:         hex.EncodeToString(s.DHPublic[:]),
		MessageNumber:    s.SendN - 1,
		PreviousChainLen: s.PrevSendN,
	}
	return header, ciphertext, nil
}

// Decrypt opens a ciphertext against header, performing whatever DH ratchet
// step and chain catch-up are needed first.
func (s *State) Decrypt(header wire.RatchetHeader, ciphertext []byte) ([]byte, error) {
	headerPub, err := decodeHexKey(header.DHPublic)
	if err != nil {
		return nil, fmt.Errorf("decode header dh public: %w", err)
	}

	if key, ok := s.takeSkipped(headerPub, header.MessageNumber); ok {
		return openWithKey(key, ciphertext)
	}

	if !s.HaveRemote || !hmac.Equal(s.RemotePublic[:], headerPub[:]) {
		if s.HaveRemote {
			if err := s.skipRecvChain(s.PrevSendNForRemote(header)); err != nil {
				return nil, err
			}
		}
		s.RemotePublic = headerPub
		s.HaveRemote = true
		s.RecvN = 0
		if err := s.dhRatchetRecv(); err != nil {
			return nil, err
		}
		if err := s.dhRatchetSend(); err != nil {
			return nil, err
		}
	}

	if err := s.skipRecvChain(header.MessageNumber); err != nil {
		return nil, err
	}
	msgKey := s.stepRecvChain()
	return openWithKey(msgKey, ciphertext)
}

// PrevSendNForRemote reports how far the previous sending chain (from the
// peer's perspective, named in their header) must be advanced before the
// remote key change — i.e. header.PreviousChainLen.
func (s *State) PrevSendNForRemote(header wire.RatchetHeader) uint32 {
	return header.PreviousChainLen
}

func openWithKey(key [32]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// dhRatchetSend generates a fresh local DH keypair and derives a new root
// key and sending chain key from it and the current remote public key.
func (s *State) dhRatchetSend() error {
	if !s.HaveRemote {
		return fmt.Errorf("ratchet: cannot send-ratchet without a remote public key")
	}
	priv, pub, err := generateDHKeypair()
	if err != nil {
		return err
	}
	dhOut, err := dh(priv, s.RemotePublic)
	if err != nil {
		return err
	}
	newRoot, chainKey := kdfRootKey(s.RootKey, dhOut)
	s.DHPrivate, s.DHPublic = priv, pub
	s.RootKey = newRoot
	s.SendChainKey = chainKey
	s.HaveSendChain = true
	s.PrevSendN = s.SendN
	s.SendN = 0
	return nil
}

// dhRatchetRecv derives a new root key and receiving chain key from this
// session's existing DH private key and the peer's new public key.
func (s *State) dhRatchetRecv() error {
	dhOut, err := dh(s.DHPrivate, s.RemotePublic)
	if err != nil {
		return err
	}
	newRoot, chainKey := kdfRootKey(s.RootKey, dhOut)
	s.RootKey = newRoot
	s.RecvChainKey = chainKey
	s.HaveRecvChain = true
	return nil
}

func (s *State) stepSendChain() [32]byte {
	nextChain, msgKey := kdfChainKey(s.SendChainKey)
	s.SendChainKey = nextChain
	s.SendN++
	return msgKey
}

func (s *State) stepRecvChain() [32]byte {
	nextChain, msgKey := kdfChainKey(s.RecvChainKey)
	s.RecvChainKey = nextChain
	s.RecvN++
	return msgKey
}

// skipRecvChain derives and caches message keys for every message number
// between the current receive counter and targetN, so a reordered delivery
// can still be decrypted later. Refuses when the chain's cached keys plus
// this gap would exceed MaxSkip — a far larger gap signals a stuck or
// malicious peer, not reordering.
func (s *State) skipRecvChain(targetN uint32) error {
	if !s.HaveRecvChain || targetN < s.RecvN {
		return nil
	}
	remote := hex.EncodeToString(s.RemotePublic[:])
	var cached uint32
	for k := range s.Skipped {
		if k.DHPublic == remote {
			cached++
		}
	}
	if targetN-s.RecvN+cached > MaxSkip {
		return fmt.Errorf("%w: %d requested, max %d", ErrTooManySkipped, targetN-s.RecvN, MaxSkip)
	}
	for s.RecvN < targetN {
		key := s.stepRecvChain()
		s.Skipped[skippedKey{DHPublic: hex.EncodeToString(s.RemotePublic[:]), MessageNumber: s.RecvN - 1}] = key
	}
	return nil
}

func (s *State) takeSkipped(dhPublic [32]byte, n uint32) ([32]byte, bool) {
	k := skippedKey{DHPublic: hex.EncodeToString(dhPublic[:]), MessageNumber: n}
	key, ok := s.Skipped[k]
	if ok {
		delete(s.Skipped, k)
	}
	return key, ok
}

func generateDHKeypair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generate dh key: %w", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("dh base mult: %w", err)
	}
	copy(pub[:], p)
	return priv, pub, nil
}

func dh(priv, pub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, fmt.Errorf("x25519: %w", err)
	}
	copy(out[:], shared)
	return out, nil
}

// kdfRootKey and kdfChainKey derive from an hkdf.Reader, whose Read can only
// fail once more than 255*hash-size bytes have been drawn from a single
// instance — 64 bytes never triggers that, so the error is deliberately
// discarded here.
func kdfRootKey(rootKey, dhOut [32]byte) (newRoot, chainKey [32]byte) {
	h := hkdf.New(sha256.New, dhOut[:], rootKey[:], rootInfo)
	io.ReadFull(h, newRoot[:])
	io.ReadFull(h, chainKey[:])
	return
}

func kdfChainKey(chainKey [32]byte) (nextChainKey, messageKey [32]byte) {
	h := hkdf.New(sha256.New, chainKey[:], nil, chainInfo)
	io.ReadFull(h, nextChainKey[:])
	io.ReadFull(h, messageKey[:])
	return
}

func decodeHexKey(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("malformed 32-byte hex key")
	}
	copy(out[:], b)
	return out, nil
}

// Marshal serializes the ratchet state for store.SaveRatchetState.
func (s *State) Marshal() ([]byte, error) {
	ser := serializedState{
		RootKey:       hex.EncodeToString(s.RootKey[:]),
		HaveSendChain: s.HaveSendChain,
		HaveRecvChain: s.HaveRecvChain,
		DHPrivate:     hex.EncodeToString(s.DHPrivate[:]),
		DHPublic:      hex.EncodeToString(s.DHPublic[:]),
		HaveRemote:    s.HaveRemote,
		SendN:         s.SendN,
		RecvN:         s.RecvN,
		PrevSendN:     s.PrevSendN,
	}
	if s.HaveSendChain {
		ser.SendChainKey = hex.EncodeToString(s.SendChainKey[:])
	}
	if s.HaveRecvChain {
		ser.RecvChainKey = hex.EncodeToString(s.RecvChainKey[:])
	}
	if s.HaveRemote {
		ser.RemotePublic = hex.EncodeToString(s.RemotePublic[:])
	}
	for k, v := range s.Skipped {
		ser.Skipped = append(ser.Skipped, skippedMessageKey{
			DHPublic:      k.DHPublic,
			MessageNumber: k.MessageNumber,
			MessageKey:    hex.EncodeToString(v[:]),
		})
	}
	return json.Marshal(ser)
}

// Unmarshal restores a ratchet state previously produced by Marshal.
func Unmarshal(data []byte) (*State, error) {
	var ser serializedState
	if err := json.Unmarshal(data, &ser); err != nil {
		return nil, fmt.Errorf("unmarshal ratchet state: %w", err)
	}
	s := &State{
		HaveSendChain: ser.HaveSendChain,
		HaveRecvChain: ser.HaveRecvChain,
		HaveRemote:    ser.HaveRemote,
		SendN:         ser.SendN,
		RecvN:         ser.RecvN,
		PrevSendN:     ser.PrevSendN,
		Skipped:       make(map[skippedKey][32]byte, len(ser.Skipped)),
	}
	var err error
	if s.RootKey, err = decodeHexKey(ser.RootKey); err != nil {
		return nil, err
	}
	if s.DHPrivate, err = decodeHexKey(ser.DHPrivate); err != nil {
		return nil, err
	}
	if s.DHPublic, err = decodeHexKey(ser.DHPublic); err != nil {
		return nil, err
	}
	if ser.HaveSendChain {
		if s.SendChainKey, err = decodeHexKey(ser.SendChainKey); err != nil {
			return nil, err
		}
	}
	if ser.HaveRecvChain {
		if s.RecvChainKey, err = decodeHexKey(ser.RecvChainKey); err != nil {
			return nil, err
		}
	}
	if ser.HaveRemote {
		if s.RemotePublic, err = decodeHexKey(ser.RemotePublic); err != nil {
			return nil, err
		}
	}
	for _, sk := range ser.Skipped {
		key, err := decodeHexKey(sk.MessageKey)
		if err != nil {
			return nil, err
		}
		s.Skipped[skippedKey{DHPublic: sk.DHPublic, MessageNumber: sk.MessageNumber}] = key
	}
	return s, nil
}
