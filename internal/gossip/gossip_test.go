package gossip

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

func TestTopicForAuthor_DeterministicAndDistinct(t *testing.T) {
	a := TopicForAuthor("aaaa")
	require.Equal(t, a, TopicForAuthor("aaaa"))
	require.NotEqual(t, a, TopicForAuthor("bbbb"))
	require.Len(t, a, 64) // hex-encoded SHA-256
}

func TestPeerCircuit_OpensAfterThresholdAndCoolsDown(t *testing.T) {
	cb := &peerCircuit{}
	require.False(t, cb.isOpen())
	for i := 0; i < cbThreshold-1; i++ {
		require.False(t, cb.recordFailure())
	}
	require.True(t, cb.recordFailure())
	require.True(t, cb.isOpen())

	cb.openedAt = time.Now().Add(-cbCooldown - time.Second)
	require.False(t, cb.isOpen(), "circuit should half-open after cooldown elapses")
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

// TestBridge_FollowTopicReceivesFannedOutPost exercises the full loop: an
// author's Bridge accepts a subscriber and fans out a signed post; the
// subscriber's own Bridge verifies and persists it.
func TestBridge_FollowTopicReceivesFannedOutPost(t *testing.T) {
	authorID := newTestIdentity(t)
	subscriberID := newTestIdentity(t)

	authorStore := newTestStore(t)
	subscriberStore := newTestStore(t)

	ep, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNGossip})
	require.NoError(t, err)
	defer ep.Close()

	pub := NewPublisher()
	authorBridge := NewBridge(authorID, authorStore, pub, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go authorBridge.AcceptLoop(ctx, ep)

	received := make(chan *wire.GossipMessage, 1)
	subscriberEp, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNGossip})
	require.NoError(t, err)
	defer subscriberEp.Close()

	subscriberBridge := NewBridge(subscriberID, subscriberStore, NewPublisher(), nil, nil,
		func(_ string, msg *wire.GossipMessage) { received <- msg })

	followCtx, followCancel := context.WithCancel(context.Background())
	defer followCancel()
	followErrCh := make(chan error, 1)
	go func() {
		followErrCh <- subscriberBridge.FollowTopic(followCtx, subscriberEp, ep.Addr().String(), authorID.Pubkey)
	}()

	// Give the subscribe handshake a moment to register before publishing.
	require.Eventually(t, func() bool {
		return pub.FollowerCount() == 1
	}, 2*time.Second, 20*time.Millisecond)

	post := &wire.Post{ID: "p1", Author: authorID.Pubkey, Content: "hello", Timestamp: wire.NowMillis()}
	require.NoError(t, authorID.SignPost(post))
	pub.Publish(context.Background(), &wire.GossipMessage{Type: wire.GossipNewPost, Post: post})

	select {
	case msg := <-received:
		require.Equal(t, wire.GossipNewPost, msg.Type)
		require.Equal(t, "p1", msg.Post.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for fanned-out post")
	}

	stored, err := subscriberStore.GetPost("p1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "hello", stored.Content)

	followCancel()
	<-followErrCh
}

func TestBridge_RejectsPostWithAuthorMismatch(t *testing.T) {
	authorID := newTestIdentity(t)
	otherID := newTestIdentity(t)
	st := newTestStore(t)

	events := 0
	b := NewBridge(authorID, st, NewPublisher(), nil, nil, func(string, *wire.GossipMessage) { events++ })

	post := &wire.Post{ID: "p1", Author: otherID.Pubkey, Content: "spoofed", Timestamp: wire.NowMillis()}
	require.NoError(t, otherID.SignPost(post))

	b.receive(authorID.Pubkey, &wire.GossipMessage{Type: wire.GossipNewPost, Post: post})

	stored, err := st.GetPost("p1")
	require.NoError(t, err)
	require.Nil(t, stored)
	require.Equal(t, 0, events)
}

func TestBridge_RejectsForgedSignature(t *testing.T) {
	authorID := newTestIdentity(t)
	st := newTestStore(t)
	b := NewBridge(authorID, st, NewPublisher(), nil, nil, nil)

	post := &wire.Post{ID: "p1", Author: authorID.Pubkey, Content: "hello", Timestamp: wire.NowMillis(), Signature: "00"}
	b.receive(authorID.Pubkey, &wire.GossipMessage{Type: wire.GossipNewPost, Post: post})

	stored, err := st.GetPost("p1")
	require.NoError(t, err)
	require.Nil(t, stored)
}
