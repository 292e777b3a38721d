// Package sync is the Reconciler: a three-phase per-author protocol that
// brings two nodes' copies of one author's posts and interactions back into
// agreement after a period of disconnection. It generalizes klistr's
// internal/nostr relay-pool reconnect/backoff idiom to a point-to-point
// protocol over this node's own QUIC transport, since there is no relay
// here to hold the authoritative copy — any two nodes holding the same
// author's feed reconcile directly with each other.
package sync

import (
	"github.com/klppl/socialnode/internal/wire"
)

// DefaultBatchSize is the number of posts or interactions streamed per
// DeltaFrame during phase 3.
const DefaultBatchSize = 200

// DefaultMaxFrameBytes bounds a single phase-3 DeltaFrame.
const DefaultMaxFrameBytes = 10 << 20

// DefaultMaxKnownIDsBytes bounds the phase-2 known-id upload.
const DefaultMaxKnownIDsBytes = 5 << 20

// knownIDs is phase 2's client→server message, sent only when the summary's
// mode is ModeNeedIDDiff: the client's full id sets, so the server can
// compute exactly which ids the client is missing (including ones the
// client's local deletions or reordering would otherwise hide from a
// timestamp-only comparison).
type knownIDs struct {
	PostIDs        []string `json:"post_ids"`
	InteractionIDs []string `json:"interaction_ids"`
}

// Bounds configures the frame-size and batch-size limits a sync session
// enforces. Zero-value fields fall back to the package defaults.
type Bounds struct {
	BatchSize       int
	MaxFrameBytes   int
	MaxKnownIDBytes int
}

func (b Bounds) withDefaults() Bounds {
	if b.BatchSize <= 0 {
		b.BatchSize = DefaultBatchSize
	}
	if b.MaxFrameBytes <= 0 {
		b.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if b.MaxKnownIDBytes <= 0 {
		b.MaxKnownIDBytes = DefaultMaxKnownIDsBytes
	}
	return b
}

// computeMode classifies how a server's author-local state relates to a
// client's summary:
//   - up to date: counts and newest timestamps already match.
//   - timestamp catch-up: every item the client is missing is strictly newer
//     than the client's newest known timestamp, so a simple "all items after
//     X" scan catches the client up with no id-set exchange.
//   - need id diff: the gap can't be explained by pure append (a delete, a
//     reorder, or an out-of-order gossip delivery happened), so the client
//     must upload its full known-id set for an exact diff.
func computeMode(serverCount, clientCount int, serverNewest, clientNewest int64, countAfterClientNewest int) wire.SyncMode {
	if clientCount == serverCount && clientNewest == serverNewest {
		return wire.ModeUpToDate
	}
	missing := serverCount - clientCount
	if missing >= 0 && countAfterClientNewest == missing && clientNewest <= serverNewest {
		return wire.ModeTimestampCatchUp
	}
	return wire.ModeNeedIDDiff
}
