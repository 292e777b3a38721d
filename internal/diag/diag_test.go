package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/store"
	"github.com/stretchr/testify/require"
)

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

func TestServer_HealthzAndStatus(t *testing.T) {
	id := newTestIdentity(t)
	st := newTestStore(t)
	srv := New(id, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, id.Pubkey, resp.Pubkey)
}

func TestServer_StatsReflectsStoreState(t *testing.T) {
	id := newTestIdentity(t)
	st := newTestStore(t)
	require.NoError(t, st.AddFollow(id.Pubkey, "alice", "", 1))
	require.NoError(t, st.Mute("bob"))
	require.NoError(t, st.Block(id.Pubkey, "carol"))

	srv := New(id, st, nil)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.FollowingCount)
	require.Equal(t, 1, resp.MutedCount)
	require.Equal(t, 1, resp.BlockedCount)
}

func TestServer_OutboxDepth(t *testing.T) {
	id := newTestIdentity(t)
	st := newTestStore(t)
	require.NoError(t, st.EnqueueOutbox(&store.OutboxEntry{ID: "e1", Peer: "alice", Envelope: []byte("x"), CreatedAt: 1}))

	srv := New(id, st, nil)
	req := httptest.NewRequest(http.MethodGet, "/outbox", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp []outboxPeerDepth
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	require.Equal(t, "alice", resp[0].Peer)
	require.Equal(t, 1, resp[0].Depth)
}
