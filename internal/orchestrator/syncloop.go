package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/klppl/socialnode/internal/sync"
)

// startupSync runs one sync attempt per followed author, bounded to
// cfg.StartupConcurrency concurrent sessions, each retried up to
// cfg.SyncRetryAttempts times with linear backoff.
func (n *Node) startupSync(ctx context.Context) {
	following, err := n.store.Following(n.self.Pubkey)
	if err != nil {
		slog.Error("startup sync: list follows", "error", err)
		return
	}
	if len(following) == 0 {
		return
	}

	sem := make(chan struct{}, n.cfg.StartupConcurrency)
	done := make(chan struct{}, len(following))
	for _, author := range following {
		author := author
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			n.syncWithRetry(ctx, author)
		}()
	}
	for range following {
		<-done
	}
	slog.Info("startup sync complete", "peers", len(following))
}

// syncWithRetry runs sync.Request against author, retrying up to
// cfg.SyncRetryAttempts times with a 5s*attempt linear backoff.
func (n *Node) syncWithRetry(ctx context.Context, author string) {
	addr, ok := n.store.PeerAddress(author)
	if !ok {
		slog.Debug("sync: no known address, skipping", "author", author)
		return
	}
	for attempt := 1; attempt <= n.cfg.SyncRetryAttempts; attempt++ {
		beforePostTS, _ := n.store.NewestPostTimestamp(author)
		beforeInteractionTS, _ := n.store.NewestInteractionTimestamp(author)

		attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.SyncTimeout)
		result, err := sync.Request(attemptCtx, n.ep, addr, author, n.store, n.syncBounds, n.filter.ShouldDrop)
		cancel()
		if err == nil {
			if result.PostsInserted > 0 || result.InteractionsInserted > 0 {
				n.applyNotificationsFor(author, beforePostTS, beforeInteractionTS)
			}
			n.onUIEvent("sync", result)
			return
		}
		slog.Debug("sync attempt failed", "author", author, "attempt", attempt, "error", err)
		if attempt == n.cfg.SyncRetryAttempts {
			slog.Warn("sync exhausted retries", "author", author, "attempts", attempt)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * n.cfg.SyncRetryBaseDelay):
		}
	}
}

// applyNotificationsFor re-derives notifications for whatever a sync
// session just pulled in from author, identified as everything newer than
// the newest item already stored before the session ran. The reconciler
// validates and persists items directly; this re-reads the freshly
// inserted rows rather than threading full Post/Interaction values back
// through sync.Result, keeping the sync package free of any notify
// dependency.
func (n *Node) applyNotificationsFor(author string, beforePostTS, beforeInteractionTS int64) {
	const maxPerRound = 1000
	posts, err := n.store.PostsAfter(author, beforePostTS, maxPerRound, 0)
	if err == nil {
		for _, p := range posts {
			_ = n.notifier.FromPost(p)
		}
	}
	interactions, err := n.store.InteractionsAfter(author, beforeInteractionTS, maxPerRound, 0)
	if err == nil {
		for _, in := range interactions {
			_ = n.notifier.FromInteraction(in)
		}
	}
}

// dripSyncLoop walks every followed author at a steady pace, re-running
// sync.Request for each; the round cadence shortens when any peer
// contributed new data and lengthens when a full round found nothing.
func (n *Node) dripSyncLoop(ctx context.Context) {
	for {
		following, err := n.store.Following(n.self.Pubkey)
		if err != nil {
			slog.Error("drip sync: list follows", "error", err)
			following = nil
		}

		anyWork := false
		for _, author := range following {
			select {
			case <-ctx.Done():
				return
			case <-time.After(n.cfg.DripSyncPeerPace):
			}
			addr, ok := n.store.PeerAddress(author)
			if !ok {
				continue
			}
			beforePostTS, _ := n.store.NewestPostTimestamp(author)
			beforeInteractionTS, _ := n.store.NewestInteractionTimestamp(author)

			attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.SyncTimeout)
			result, err := sync.Request(attemptCtx, n.ep, addr, author, n.store, n.syncBounds, n.filter.ShouldDrop)
			cancel()
			if err != nil {
				slog.Debug("drip sync failed", "author", author, "error", err)
				continue
			}
			if result.PostsInserted > 0 || result.InteractionsInserted > 0 || result.ProfileUpdated {
				anyWork = true
				n.applyNotificationsFor(author, beforePostTS, beforeInteractionTS)
				n.onUIEvent("sync", result)
			}
		}

		round := n.cfg.DripSyncIdleRound
		if anyWork {
			round = n.cfg.DripSyncActiveRound
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(round):
		}
	}
}
