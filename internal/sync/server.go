package sync

import (
	"encoding/json"
	"fmt"

	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
)

// Serve handles one inbound sync session on conn (already accepted with
// ALPNSync negotiated). It reads the client's SyncRequest, replies with a
// SyncSummary, and — unless the client is already up to date — streams the
// phase-3 delta the client needs.
func Serve(conn *transport.Conn, st *store.Store, bounds Bounds) error {
	bounds = bounds.withDefaults()

	raw, err := transport.ReadFrame(conn.Stream, bounds.MaxFrameBytes)
	if err != nil {
		return fmt.Errorf("read sync request: %w", err)
	}
	var req wire.SyncRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("unmarshal sync request: %w", err)
	}

	serverPostCount, err := st.CountPosts(req.Author)
	if err != nil {
		return fmt.Errorf("count posts: %w", err)
	}
	serverInteractionCount, err := st.CountInteractions(req.Author)
	if err != nil {
		return fmt.Errorf("count interactions: %w", err)
	}
	serverNewestPost, err := st.NewestPostTimestamp(req.Author)
	if err != nil {
		return fmt.Errorf("newest post ts: %w", err)
	}
	serverNewestInteraction, err := st.NewestInteractionTimestamp(req.Author)
	if err != nil {
		return fmt.Errorf("newest interaction ts: %w", err)
	}
	postsAfterClient, err := st.CountPostsAfter(req.Author, req.NewestPostTimestamp)
	if err != nil {
		return fmt.Errorf("count posts after: %w", err)
	}
	interactionsAfterClient, err := st.CountInteractionsAfter(req.Author, req.NewestInteractionTS)
	if err != nil {
		return fmt.Errorf("count interactions after: %w", err)
	}

	postMode := computeMode(serverPostCount, req.PostCount, serverNewestPost, req.NewestPostTimestamp, postsAfterClient)
	interactionMode := computeMode(serverInteractionCount, req.InteractionCount, serverNewestInteraction, req.NewestInteractionTS, interactionsAfterClient)

	profile, err := st.GetProfile(req.Author)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}

	summary := wire.SyncSummary{
		ServerPostCount:        serverPostCount,
		ServerInteractionCount: serverInteractionCount,
		PostsAfterCount:        postsAfterClient,
		InteractionsAfterCount: interactionsAfterClient,
		PostMode:               postMode,
		InteractionMode:        interactionMode,
		Profile:                profile,
	}
	summaryBytes, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := transport.WriteFrame(conn.Stream, summaryBytes); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	if postMode == wire.ModeUpToDate && interactionMode == wire.ModeUpToDate {
		return nil
	}

	var knownPostIDs, knownInteractionIDs map[string]struct{}
	if postMode == wire.ModeNeedIDDiff || interactionMode == wire.ModeNeedIDDiff {
		raw, err := transport.ReadFrame(conn.Stream, bounds.MaxKnownIDBytes)
		if err != nil {
			return fmt.Errorf("read known ids: %w", err)
		}
		var known knownIDs
		if err := json.Unmarshal(raw, &known); err != nil {
			return fmt.Errorf("unmarshal known ids: %w", err)
		}
		knownPostIDs = toSet(known.PostIDs)
		knownInteractionIDs = toSet(known.InteractionIDs)
	}

	if err := streamPostDeltas(conn, st, req, postMode, knownPostIDs, bounds); err != nil {
		return fmt.Errorf("stream post deltas: %w", err)
	}
	if err := streamInteractionDeltas(conn, st, req, interactionMode, knownInteractionIDs, bounds); err != nil {
		return fmt.Errorf("stream interaction deltas: %w", err)
	}
	return nil
}

func streamPostDeltas(conn *transport.Conn, st *store.Store, req wire.SyncRequest, mode wire.SyncMode, known map[string]struct{}, bounds Bounds) error {
	// A terminator is written unconditionally below — the caller always
	// reads a posts stream followed by an interactions stream, regardless of
	// whether this particular kind needed a catch-up.
	offset := 0
	for mode != wire.ModeUpToDate {
		var batch []wire.Post
		var err error
		if mode == wire.ModeTimestampCatchUp {
			batch, err = st.PostsAfter(req.Author, req.NewestPostTimestamp, bounds.BatchSize, offset)
		} else {
			batch, err = st.PostsNotIn(req.Author, known, bounds.BatchSize, offset)
		}
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		frame := wire.DeltaFrame{Posts: batch}
		payload, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		if err := transport.WriteFrame(conn.Stream, payload); err != nil {
			return err
		}
		offset += len(batch)
		if len(batch) < bounds.BatchSize {
			break
		}
	}
	return transport.WriteFrame(conn.Stream, nil)
}

func streamInteractionDeltas(conn *transport.Conn, st *store.Store, req wire.SyncRequest, mode wire.SyncMode, known map[string]struct{}, bounds Bounds) error {
	offset := 0
	for mode != wire.ModeUpToDate {
		var batch []wire.Interaction
		var err error
		if mode == wire.ModeTimestampCatchUp {
			batch, err = st.InteractionsAfter(req.Author, req.NewestInteractionTS, bounds.BatchSize, offset)
		} else {
			batch, err = st.InteractionsNotIn(req.Author, known, bounds.BatchSize, offset)
		}
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		frame := wire.DeltaFrame{Interactions: batch}
		payload, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		if err := transport.WriteFrame(conn.Stream, payload); err != nil {
			return err
		}
		offset += len(batch)
		if len(batch) < bounds.BatchSize {
			break
		}
	}
	return transport.WriteFrame(conn.Stream, nil)
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
