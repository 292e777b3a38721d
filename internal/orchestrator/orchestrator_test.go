package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/klppl/socialnode/internal/config"
	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/wire"
	"github.com/stretchr/testify/require"
)

func testConfig(bindAddr string) *config.Config {
	return &config.Config{
		BindAddr:             bindAddr,
		SyncTimeout:          3 * time.Second,
		SyncRetryAttempts:    2,
		SyncRetryBaseDelay:   50 * time.Millisecond,
		StartupConcurrency:   5,
		PeerReadinessPause:   10 * time.Millisecond,
		DripSyncPeerPace:     50 * time.Millisecond,
		DripSyncActiveRound:  200 * time.Millisecond,
		DripSyncIdleRound:    500 * time.Millisecond,
		SyncBatchSize:        200,
		SyncMaxFrameBytes:    10 << 20,
		SyncMaxKnownIDsBytes: 5 << 20,
		DMConnectTimeout:     3 * time.Second,
		DMAckTimeout:         3 * time.Second,
		DMOutboxInterval:     200 * time.Millisecond,
		DMMaxFrameBytes:      1 << 20,
		DMMaxSkip:            100,
		MaxPostContentBytes:  10000,
		MaxMediaPerPost:      10,
		MaxFutureDrift:       5 * time.Minute,
	}
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

func TestNode_StartupSyncPullsFollowedAuthorsPosts(t *testing.T) {
	idB := newTestIdentity(t)
	stB := newTestStore(t)

	post := &wire.Post{ID: "p1", Author: idB.Pubkey, Content: "hello from b", Timestamp: wire.NowMillis()}
	require.NoError(t, idB.SignPost(post))
	_, err := stB.InsertPost(post)
	require.NoError(t, err)

	nodeB, err := New(testConfig("127.0.0.1:0"), idB, stB, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go nodeB.Run(ctx)
	addrB := nodeB.Addr()

	idA := newTestIdentity(t)
	stA := newTestStore(t)
	require.NoError(t, stA.AddFollow(idA.Pubkey, idB.Pubkey, "", wire.NowMillis()))
	require.NoError(t, stA.SetPeerAddress(idB.Pubkey, addrB))

	events := make(chan struct {
		kind    string
		payload any
	}, 16)
	nodeA, err := New(testConfig("127.0.0.1:0"), idA, stA, func(kind string, payload any) {
		select {
		case events <- struct {
			kind    string
			payload any
		}{kind, payload}:
		default:
		}
	})
	require.NoError(t, err)
	go nodeA.Run(ctx)

	require.Eventually(t, func() bool {
		n, err := stA.CountPosts(idB.Pubkey)
		return err == nil && n == 1
	}, 5*time.Second, 50*time.Millisecond)
}
