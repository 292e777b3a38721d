package store

import (
	"path/filepath"
	"testing"

	"github.com/klppl/socialnode/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertPost_IdempotentOnDuplicateID(t *testing.T) {
	s := newTestStore(t)
	p := &wire.Post{ID: "p1", Author: "a", Content: "hi", Timestamp: 10, Signature: "sig"}

	inserted1, err := s.InsertPost(p)
	require.NoError(t, err)
	require.True(t, inserted1)

	inserted2, err := s.InsertPost(p)
	require.NoError(t, err)
	require.False(t, inserted2, "second insert of the same id must be a no-op")

	got, err := s.GetPost("p1")
	require.NoError(t, err)
	require.Equal(t, p.Content, got.Content)

	n, err := s.CountPosts("a")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDeletePost_RequiresAuthorMatch(t *testing.T) {
	s := newTestStore(t)
	p := &wire.Post{ID: "p1", Author: "alice", Content: "hi", Timestamp: 10, Signature: "sig"}
	_, err := s.InsertPost(p)
	require.NoError(t, err)

	removed, err := s.DeletePost("p1", "mallory")
	require.NoError(t, err)
	require.False(t, removed, "delete must be rejected when declared author doesn't match stored author")

	got, err := s.GetPost("p1")
	require.NoError(t, err)
	require.NotNil(t, got)

	removed, err = s.DeletePost("p1", "alice")
	require.NoError(t, err)
	require.True(t, removed)

	got, err = s.GetPost("p1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPostsAfter_AscendingAndPaginated(t *testing.T) {
	s := newTestStore(t)
	for i, ts := range []int64{10, 20, 30, 40} {
		_, err := s.InsertPost(&wire.Post{ID: idFor(i), Author: "a", Content: "x", Timestamp: ts, Signature: "sig"})
		require.NoError(t, err)
	}

	posts, err := s.PostsAfter("a", 20, 10, 0)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, int64(30), posts[0].Timestamp)
	require.Equal(t, int64(40), posts[1].Timestamp)
}

func TestPostsNotIn_ReturnsMissingOnly(t *testing.T) {
	s := newTestStore(t)
	for i, ts := range []int64{10, 20, 30} {
		_, err := s.InsertPost(&wire.Post{ID: idFor(i), Author: "a", Content: "x", Timestamp: ts, Signature: "sig"})
		require.NoError(t, err)
	}
	known := map[string]struct{}{idFor(0): {}, idFor(2): {}}

	missing, err := s.PostsNotIn("a", known, 10, 0)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, idFor(1), missing[0].ID)
}

func TestBlock_UnfollowsTransactionally(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddFollow("me", "mallory", "", 1))

	following, err := s.IsFollowing("me", "mallory")
	require.NoError(t, err)
	require.True(t, following)

	require.NoError(t, s.Block("me", "mallory"))

	blocked, err := s.IsBlocked("mallory")
	require.NoError(t, err)
	require.True(t, blocked)

	following, err = s.IsFollowing("me", "mallory")
	require.NoError(t, err)
	require.False(t, following)
}

func TestRatchetState_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LoadRatchetState("peer1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SaveRatchetState("peer1", []byte("state-v1")))
	state, ok, err := s.LoadRatchetState("peer1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("state-v1"), state)

	require.NoError(t, s.SaveRatchetState("peer1", []byte("state-v2")))
	state, ok, err = s.LoadRatchetState("peer1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("state-v2"), state)

	require.NoError(t, s.DeleteRatchetState("peer1"))
	_, ok, err = s.LoadRatchetState("peer1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNotification_DedupedByActorPostKind(t *testing.T) {
	s := newTestStore(t)
	n := &wire.Notification{ID: "n1", Kind: wire.NotifyReply, Actor: "alice", PostID: "p1", Timestamp: 1}
	inserted, err := s.InsertNotification(n)
	require.NoError(t, err)
	require.True(t, inserted)

	n2 := &wire.Notification{ID: "n2", Kind: wire.NotifyReply, Actor: "alice", PostID: "p1", Timestamp: 2}
	inserted, err = s.InsertNotification(n2)
	require.NoError(t, err)
	require.False(t, inserted, "duplicate (actor, post, kind) must be deduped regardless of notification id")
}

func TestConversationID_OrderIndependent(t *testing.T) {
	require.Equal(t, ConversationID("alice", "bob"), ConversationID("bob", "alice"))
	require.NotEqual(t, ConversationID("alice", "bob"), ConversationID("alice", "carol"))
}

func idFor(i int) string {
	return string(rune('a' + i))
}
