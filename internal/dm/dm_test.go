package dm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
	"github.com/stretchr/testify/require"
)

func newRatchetPair(t *testing.T) (*State, *State) {
	t.Helper()
	var shared [32]byte
	copy(shared[:], []byte("a fixed 32-byte test shared key"))

	responderPriv, responderPub, err := generateDHKeypair()
	require.NoError(t, err)

	initiator, err := NewInitiator(shared, responderPub)
	require.NoError(t, err)
	responder := NewResponder(shared, responderPriv, responderPub)
	return initiator, responder
}

func TestRatchet_InOrderRoundTrip(t *testing.T) {
	a, b := newRatchetPair(t)

	header, ct, err := a.Encrypt([]byte("hello"))
	require.NoError(t, err)
	pt, err := b.Decrypt(header, ct)
	require.NoError(t, err)
	require.Equal(t, "hello", string(pt))

	// Reply the other direction to confirm b's send chain (established by
	// the DH ratchet step in its first Decrypt) also works.
	header2, ct2, err := b.Encrypt([]byte("hi back"))
	require.NoError(t, err)
	pt2, err := a.Decrypt(header2, ct2)
	require.NoError(t, err)
	require.Equal(t, "hi back", string(pt2))
}

func TestRatchet_ReorderedMessagesDecryptViaSkippedCache(t *testing.T) {
	a, b := newRatchetPair(t)

	h1, c1, err := a.Encrypt([]byte("one"))
	require.NoError(t, err)
	h2, c2, err := a.Encrypt([]byte("two"))
	require.NoError(t, err)
	h3, c3, err := a.Encrypt([]byte("three"))
	require.NoError(t, err)

	// Deliver out of order: 2, 3, 1.
	pt2, err := b.Decrypt(h2, c2)
	require.NoError(t, err)
	require.Equal(t, "two", string(pt2))

	pt3, err := b.Decrypt(h3, c3)
	require.NoError(t, err)
	require.Equal(t, "three", string(pt3))

	pt1, err := b.Decrypt(h1, c1)
	require.NoError(t, err)
	require.Equal(t, "one", string(pt1))
}

func TestRatchet_RefusesExcessiveSkip(t *testing.T) {
	a, b := newRatchetPair(t)

	var lastHeader wire.RatchetHeader
	var lastCt []byte
	for i := 0; i < MaxSkip+5; i++ {
		h, c, err := a.Encrypt([]byte("msg"))
		require.NoError(t, err)
		lastHeader, lastCt = h, c
	}
	_, err := b.Decrypt(lastHeader, lastCt)
	require.ErrorIs(t, err, ErrTooManySkipped)
}

func TestRatchet_MarshalUnmarshalRoundTrip(t *testing.T) {
	a, b := newRatchetPair(t)
	header, ct, err := a.Encrypt([]byte("persist me"))
	require.NoError(t, err)

	data, err := b.Marshal()
	require.NoError(t, err)
	restored, err := Unmarshal(data)
	require.NoError(t, err)

	pt, err := restored.Decrypt(header, ct)
	require.NoError(t, err)
	require.Equal(t, "persist me", string(pt))
}

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.LoadOrGenerate(filepath.Join(t.TempDir(), "seed"))
	require.NoError(t, err)
	return id
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEngine_HandshakeThenEncryptedEcho(t *testing.T) {
	initiatorID := newTestIdentity(t)
	responderID := newTestIdentity(t)
	initiatorStore := newTestStore(t)
	responderStore := newTestStore(t)

	ep, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNDM})
	require.NoError(t, err)
	defer ep.Close()

	received := make(chan *wire.DMPayload, 1)
	responderEngine := NewEngine(responderID, responderStore, nil,
		func(_ string, p *wire.DMPayload) { received <- p })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go responderEngine.AcceptLoop(ctx, ep)

	clientEp, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNDM})
	require.NoError(t, err)
	defer clientEp.Close()

	initiatorEngine := NewEngine(initiatorID, initiatorStore, nil, nil)
	conn, err := initiatorEngine.Connect(ctx, clientEp, ep.Addr().String(), responderID.Pubkey)
	require.NoError(t, err)
	defer conn.Close()

	payload := &wire.DMPayload{Type: wire.DMPayloadMessage, Message: &wire.StoredDM{
		From: initiatorID.Pubkey, To: responderID.Pubkey, Content: "hi there", Timestamp: wire.NowMillis(),
	}}
	_, err = initiatorEngine.SendMessage(responderID.Pubkey, payload, conn)
	require.NoError(t, err)

	_ = conn.Stream.SetReadDeadline(time.Now().Add(3 * time.Second))
	ack, err := transport.ReadFrame(conn.Stream, 64)
	require.NoError(t, err)
	require.Equal(t, wire.AckBytes, ack)

	select {
	case p := <-received:
		require.Equal(t, wire.DMPayloadMessage, p.Type)
		require.Equal(t, "hi there", p.Message.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for decrypted message")
	}

	convID := store.ConversationID(initiatorID.Pubkey, responderID.Pubkey)
	msgs, err := responderStore.ConversationMessages(convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi there", msgs[0].Content)
}
