package moderation

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

func TestFilter_MuteAndBlockTrackedInMemory(t *testing.T) {
	st := newTestStore(t)
	f, err := New(st)
	require.NoError(t, err)

	require.False(t, f.IsMuted("alice"))
	require.NoError(t, f.Mute("alice"))
	require.True(t, f.IsMuted("alice"))

	require.NoError(t, f.Unmute("alice"))
	require.False(t, f.IsMuted("alice"))

	require.NoError(t, st.AddFollow("me", "bob", "", 1))
	following, err := st.Following("me")
	require.NoError(t, err)
	require.Contains(t, following, "bob")

	require.NoError(t, f.Block("me", "bob"))
	require.True(t, f.IsBlocked("bob"))

	following, err = st.Following("me")
	require.NoError(t, err)
	require.NotContains(t, following, "bob")
}

func TestFilter_ShouldDropCoversBothMutedAndBlocked(t *testing.T) {
	st := newTestStore(t)
	f, err := New(st)
	require.NoError(t, err)

	require.NoError(t, f.Mute("carol"))
	require.NoError(t, f.Block("me", "dave"))

	require.True(t, f.ShouldDrop("carol"))
	require.True(t, f.ShouldDrop("dave"))
	require.False(t, f.ShouldDrop("erin"))
}

func TestFilter_FilterPostsRemovesMutedAndBlockedAuthors(t *testing.T) {
	st := newTestStore(t)
	f, err := New(st)
	require.NoError(t, err)
	require.NoError(t, f.Mute("carol"))

	posts := []wire.Post{
		{ID: "1", Author: "alice"},
		{ID: "2", Author: "carol"},
		{ID: "3", Author: "bob"},
	}
	filtered := f.FilterPosts(posts)
	require.Len(t, filtered, 2)
	for _, p := range filtered {
		require.NotEqual(t, "carol", p.Author)
	}
}

func TestFilter_ReloadPicksUpExistingStoreState(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Mute("alice"))
	require.NoError(t, st.Block("me", "bob"))

	f, err := New(st)
	require.NoError(t, err)
	require.True(t, f.IsMuted("alice"))
	require.True(t, f.IsBlocked("bob"))
}
