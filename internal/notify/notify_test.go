package notify

import (
	"path/filepath"
	"testing"

	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGenerator_FromPost_DetectsMentionReplyAndQuote(t *testing.T) {
	st := newTestStore(t)
	var hits []wire.Notification
	g := New(st, "me", nil, func(n wire.Notification) { hits = append(hits, n) })

	require.NoError(t, g.FromPost(wire.Post{
		ID: "p1", Author: "alice", Content: "hey @me check this out", Timestamp: 100,
	}))
	require.NoError(t, g.FromPost(wire.Post{
		ID: "p2", Author: "bob", ReplyToAuthor: "me", Timestamp: 200,
	}))
	require.NoError(t, g.FromPost(wire.Post{
		ID: "p3", Author: "carol", QuoteOfAuthor: "me", Timestamp: 300,
	}))

	require.Len(t, hits, 3)
	kinds := map[string]bool{}
	for _, h := range hits {
		kinds[h.Kind] = true
	}
	require.True(t, kinds[wire.NotifyMention])
	require.True(t, kinds[wire.NotifyReply])
	require.True(t, kinds[wire.NotifyQuote])
}

func TestGenerator_FromPost_MultipleKindsForSamePost(t *testing.T) {
	st := newTestStore(t)
	var hits []wire.Notification
	g := New(st, "me", nil, func(n wire.Notification) { hits = append(hits, n) })

	require.NoError(t, g.FromPost(wire.Post{
		ID: "p1", Author: "alice", Content: "@me nice point", ReplyToAuthor: "me", Timestamp: 100,
	}))
	require.Len(t, hits, 2)
}

func TestGenerator_FromPost_IgnoresSelfAuthoredPosts(t *testing.T) {
	st := newTestStore(t)
	var hits []wire.Notification
	g := New(st, "me", nil, func(n wire.Notification) { hits = append(hits, n) })

	require.NoError(t, g.FromPost(wire.Post{
		ID: "p1", Author: "me", Content: "@me talking to myself", Timestamp: 100,
	}))
	require.Empty(t, hits)
}

func TestGenerator_FromInteraction_NotifiesOnlyTargetAuthor(t *testing.T) {
	st := newTestStore(t)
	var hits []wire.Notification
	g := New(st, "me", nil, func(n wire.Notification) { hits = append(hits, n) })

	require.NoError(t, g.FromInteraction(wire.Interaction{
		ID: "i1", Author: "alice", Kind: wire.InteractionLike, TargetPostID: "p1", TargetAuthor: "me", Timestamp: 100,
	}))
	require.Len(t, hits, 1)
	require.Equal(t, wire.NotifyLike, hits[0].Kind)

	require.NoError(t, g.FromInteraction(wire.Interaction{
		ID: "i2", Author: "bob", Kind: wire.InteractionLike, TargetPostID: "p2", TargetAuthor: "carol", Timestamp: 200,
	}))
	require.Len(t, hits, 1)
}

func TestGenerator_DedupedByActorPostKind(t *testing.T) {
	st := newTestStore(t)
	var hitCount int
	g := New(st, "me", nil, func(wire.Notification) { hitCount++ })

	post := wire.Post{ID: "p1", Author: "alice", Content: "@me again", Timestamp: 100}
	require.NoError(t, g.FromPost(post))
	require.NoError(t, g.FromPost(post))
	require.Equal(t, 1, hitCount)

	notes, err := st.Notifications(10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
}

func TestGenerator_SuppressesNotificationsFromMutedOrBlockedActors(t *testing.T) {
	st := newTestStore(t)
	var hits []wire.Notification
	suppress := func(actor string) bool { return actor == "alice" }
	g := New(st, "me", suppress, func(n wire.Notification) { hits = append(hits, n) })

	require.NoError(t, g.FromPost(wire.Post{
		ID: "p1", Author: "alice", Content: "@me nice point", Timestamp: 100,
	}))
	require.Empty(t, hits)

	require.NoError(t, g.FromInteraction(wire.Interaction{
		ID: "i1", Author: "alice", Kind: wire.InteractionLike, TargetPostID: "p2", TargetAuthor: "me", Timestamp: 200,
	}))
	require.Empty(t, hits)

	require.NoError(t, g.FromPost(wire.Post{
		ID: "p3", Author: "bob", Content: "@me hi", Timestamp: 300,
	}))
	require.Len(t, hits, 1)
}
