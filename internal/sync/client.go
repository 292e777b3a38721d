package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
)

// Result reports how many items a sync session actually changed locally.
type Result struct {
	PostsInserted        int
	InteractionsInserted int
	ProfileUpdated       bool
}

// Request runs one full client-side sync session for author against peerAddr:
// dials ALPNSync, sends a SyncRequest built from local state, and depending on
// the returned SyncSummary either stops (up to date) or consumes the streamed
// delta, verifying and persisting each item; a known-id set is uploaded first
// only when a mode is NeedIDDiff.
// shouldDrop (muted OR blocked) is consulted before anything is dialed, since
// a sync session is always scoped to a single author; it may be nil.
func Request(ctx context.Context, ep *transport.Endpoint, peerAddr, author string, st *store.Store, bounds Bounds, shouldDrop func(string) bool) (Result, error) {
	bounds = bounds.withDefaults()
	var result Result

	if shouldDrop != nil && shouldDrop(author) {
		return result, nil
	}

	conn, err := ep.Dial(ctx, peerAddr, transport.ALPNSync)
	if err != nil {
		return result, fmt.Errorf("dial sync peer: %w", err)
	}
	defer conn.Close()

	postCount, err := st.CountPosts(author)
	if err != nil {
		return result, err
	}
	interactionCount, err := st.CountInteractions(author)
	if err != nil {
		return result, err
	}
	newestPost, err := st.NewestPostTimestamp(author)
	if err != nil {
		return result, err
	}
	newestInteraction, err := st.NewestInteractionTimestamp(author)
	if err != nil {
		return result, err
	}

	req := wire.SyncRequest{
		Author:              author,
		PostCount:           postCount,
		InteractionCount:    interactionCount,
		NewestPostTimestamp: newestPost,
		NewestInteractionTS: newestInteraction,
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return result, err
	}
	if err := transport.WriteFrame(conn.Stream, reqBytes); err != nil {
		return result, fmt.Errorf("write sync request: %w", err)
	}

	raw, err := transport.ReadFrame(conn.Stream, bounds.MaxFrameBytes)
	if err != nil {
		return result, fmt.Errorf("read sync summary: %w", err)
	}
	var summary wire.SyncSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return result, fmt.Errorf("unmarshal sync summary: %w", err)
	}

	if summary.Profile != nil {
		existing, err := st.GetProfile(author)
		if err != nil {
			return result, err
		}
		if existing == nil || summary.Profile.Timestamp > existing.Timestamp {
			if err := st.UpsertProfile(summary.Profile); err != nil {
				return result, err
			}
			result.ProfileUpdated = true
		}
	}

	if summary.PostMode == wire.ModeUpToDate && summary.InteractionMode == wire.ModeUpToDate {
		return result, nil
	}

	if summary.PostMode == wire.ModeNeedIDDiff || summary.InteractionMode == wire.ModeNeedIDDiff {
		postIDs, err := st.AllPostIDs(author)
		if err != nil {
			return result, err
		}
		interactionIDs, err := st.AllInteractionIDs(author)
		if err != nil {
			return result, err
		}
		payload, err := json.Marshal(knownIDs{PostIDs: postIDs, InteractionIDs: interactionIDs})
		if err != nil {
			return result, err
		}
		if len(payload) > bounds.MaxKnownIDBytes {
			return result, fmt.Errorf("known id set %d bytes exceeds max %d", len(payload), bounds.MaxKnownIDBytes)
		}
		if err := transport.WriteFrame(conn.Stream, payload); err != nil {
			return result, fmt.Errorf("write known ids: %w", err)
		}
	}

	inserted, err := consumeDeltaStream(conn, st, author, bounds)
	if err != nil {
		return result, err
	}
	result.PostsInserted = inserted.PostsInserted
	result.InteractionsInserted = inserted.InteractionsInserted
	return result, nil
}

// consumeDeltaStream reads two terminated delta streams (posts, then
// interactions) — mirroring the order Serve writes them in — verifying and
// persisting each item, skipping anything whose author doesn't match or
// whose signature fails rather than aborting the whole session.
func consumeDeltaStream(conn *transport.Conn, st *store.Store, author string, bounds Bounds) (Result, error) {
	var result Result
	bds := wire.DefaultBounds
	now := wire.NowMillis()

	for _, kind := range []string{"posts", "interactions"} {
		for {
			raw, err := transport.ReadFrame(conn.Stream, bounds.MaxFrameBytes)
			if err != nil {
				if err == io.EOF {
					return result, fmt.Errorf("delta stream (%s) closed early", kind)
				}
				return result, fmt.Errorf("read delta frame (%s): %w", kind, err)
			}
			if raw == nil {
				break // zero-length frame: terminator for this kind's stream
			}
			var frame wire.DeltaFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				return result, fmt.Errorf("unmarshal delta frame (%s): %w", kind, err)
			}
			for i := range frame.Posts {
				p := &frame.Posts[i]
				if p.Author != author {
					slog.Warn("dropping synced post with author mismatch", "expected", author, "got", p.Author)
					continue
				}
				if err := bds.ValidatePost(p, now); err != nil {
					slog.Warn("dropping invalid synced post", "id", p.ID, "error", err)
					continue
				}
				if err := identity.VerifyPost(p); err != nil {
					slog.Warn("dropping synced post with bad signature", "id", p.ID, "error", err)
					continue
				}
				ins, err := st.InsertPost(p)
				if err != nil {
					return result, fmt.Errorf("insert synced post: %w", err)
				}
				if ins {
					result.PostsInserted++
				}
			}
			for i := range frame.Interactions {
				in := &frame.Interactions[i]
				if in.Author != author {
					slog.Warn("dropping synced interaction with author mismatch", "expected", author, "got", in.Author)
					continue
				}
				if err := bds.ValidateInteraction(in, now); err != nil {
					slog.Warn("dropping invalid synced interaction", "id", in.ID, "error", err)
					continue
				}
				if err := identity.VerifyInteraction(in); err != nil {
					slog.Warn("dropping synced interaction with bad signature", "id", in.ID, "error", err)
					continue
				}
				ins, err := st.InsertInteraction(in)
				if err != nil {
					return result, fmt.Errorf("insert synced interaction: %w", err)
				}
				if ins {
					result.InteractionsInserted++
				}
			}
		}
	}
	return result, nil
}
