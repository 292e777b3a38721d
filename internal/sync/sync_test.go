package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestComputeMode(t *testing.T) {
	require.Equal(t, wire.ModeUpToDate, computeMode(5, 5, 100, 100, 0))
	require.Equal(t, wire.ModeTimestampCatchUp, computeMode(7, 5, 130, 100, 2))
	require.Equal(t, wire.ModeNeedIDDiff, computeMode(7, 5, 130, 100, 3))
	require.Equal(t, wire.ModeNeedIDDiff, computeMode(5, 5, 100, 90, 1))
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

func signedPost(t *testing.T, author *identity.Identity, id string, ts int64) wire.Post {
	t.Helper()
	p := wire.Post{ID: id, Author: author.Pubkey, Content: "c-" + id, Timestamp: ts}
	require.NoError(t, author.SignPost(&p))
	return p
}

func TestRequest_TimestampCatchUpFetchesNewPosts(t *testing.T) {
	author := newTestIdentity(t)
	serverStore := newTestStore(t)
	clientStore := newTestStore(t)

	p1 := signedPost(t, author, "p1", 10)
	p2 := signedPost(t, author, "p2", 20)
	p3 := signedPost(t, author, "p3", 30)
	for _, p := range []wire.Post{p1, p2, p3} {
		_, err := serverStore.InsertPost(&p)
		require.NoError(t, err)
	}
	_, err := clientStore.InsertPost(&p1)
	require.NoError(t, err)

	ep, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNSync})
	require.NoError(t, err)
	defer ep.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErrCh := make(chan error, 1)
	go func() {
		conn, err := ep.Accept(ctx)
		if err != nil {
			serveErrCh <- err
			return
		}
		defer conn.Close()
		serveErrCh <- Serve(conn, serverStore, Bounds{})
	}()

	clientEp, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNSync})
	require.NoError(t, err)
	defer clientEp.Close()

	result, err := Request(ctx, clientEp, ep.Addr().String(), author.Pubkey, clientStore, Bounds{}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, result.PostsInserted)
	require.NoError(t, <-serveErrCh)

	count, err := clientStore.CountPosts(author.Pubkey)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestRequest_UpToDateInsertsNothing(t *testing.T) {
	author := newTestIdentity(t)
	serverStore := newTestStore(t)
	clientStore := newTestStore(t)

	p1 := signedPost(t, author, "p1", 10)
	for _, s := range []*store.Store{serverStore, clientStore} {
		_, err := s.InsertPost(&p1)
		require.NoError(t, err)
	}

	ep, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNSync})
	require.NoError(t, err)
	defer ep.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErrCh := make(chan error, 1)
	go func() {
		conn, err := ep.Accept(ctx)
		if err != nil {
			serveErrCh <- err
			return
		}
		defer conn.Close()
		serveErrCh <- Serve(conn, serverStore, Bounds{})
	}()

	clientEp, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNSync})
	require.NoError(t, err)
	defer clientEp.Close()

	result, err := Request(ctx, clientEp, ep.Addr().String(), author.Pubkey, clientStore, Bounds{}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.PostsInserted)
	require.NoError(t, <-serveErrCh)
}

func TestRequest_NeedIDDiffRecoversFromDeletedGap(t *testing.T) {
	author := newTestIdentity(t)
	serverStore := newTestStore(t)
	clientStore := newTestStore(t)

	p1 := signedPost(t, author, "p1", 10)
	p2 := signedPost(t, author, "p2", 20)
	p3 := signedPost(t, author, "p3", 5) // older than client's newest, so it's a gap, not an append
	for _, p := range []wire.Post{p1, p2, p3} {
		_, err := serverStore.InsertPost(&p)
		require.NoError(t, err)
	}
	_, err := clientStore.InsertPost(&p1)
	require.NoError(t, err)
	_, err = clientStore.InsertPost(&p2)
	require.NoError(t, err)

	ep, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNSync})
	require.NoError(t, err)
	defer ep.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErrCh := make(chan error, 1)
	go func() {
		conn, err := ep.Accept(ctx)
		if err != nil {
			serveErrCh <- err
			return
		}
		defer conn.Close()
		serveErrCh <- Serve(conn, serverStore, Bounds{})
	}()

	clientEp, err := transport.Listen("127.0.0.1:0", []string{transport.ALPNSync})
	require.NoError(t, err)
	defer clientEp.Close()

	result, err := Request(ctx, clientEp, ep.Addr().String(), author.Pubkey, clientStore, Bounds{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.PostsInserted)
	require.NoError(t, <-serveErrCh)

	got, err := clientStore.GetPost("p3")
	require.NoError(t, err)
	require.NotNil(t, got)
}
