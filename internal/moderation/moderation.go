// Package moderation applies the mute/block filter that every inbound and
// outbound surface consults: gossip receipt, sync deltas, DM acceptance,
// feed queries, and notification generation.
package moderation

import (
	"fmt"
	"sync"

	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/wire"
)

// Filter keeps an in-memory mirror of the store's mute/block sets so the
// hot paths (one check per gossip message, per sync session, per DM) never
// round-trip to sqlite. Mirrors gossip's peerCircuit in keeping fast-path
// state in memory and only the state-changing calls touching the store.
type Filter struct {
	store *store.Store

	mu      sync.RWMutex
	muted   map[string]struct{}
	blocked map[string]struct{}
}

// New loads the current mute/block sets from st and returns a ready Filter.
func New(st *store.Store) (*Filter, error) {
	f := &Filter{store: st, muted: map[string]struct{}{}, blocked: map[string]struct{}{}}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Filter) reload() error {
	muted, err := f.store.Mutes()
	if err != nil {
		return fmt.Errorf("load mutes: %w", err)
	}
	blocked, err := f.store.Blocks()
	if err != nil {
		return fmt.Errorf("load blocks: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = toSet(muted)
	f.blocked = toSet(blocked)
	return nil
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, item := range items {
		m[item] = struct{}{}
	}
	return m
}

// Mute hides pubkey's content locally without touching the follow graph.
func (f *Filter) Mute(pubkey string) error {
	if err := f.store.Mute(pubkey); err != nil {
		return err
	}
	f.mu.Lock()
	f.muted[pubkey] = struct{}{}
	f.mu.Unlock()
	return nil
}

// Unmute reverses Mute.
func (f *Filter) Unmute(pubkey string) error {
	if err := f.store.Unmute(pubkey); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.muted, pubkey)
	f.mu.Unlock()
	return nil
}

// Block hides pubkey's content, forces an unfollow, and marks the peer's
// DM/gossip connections for rejection — all under the store's single
// transaction (internal/store.Block), matching the moderation.rs contract
// that blocking and unfollowing commit atomically.
func (f *Filter) Block(localPubkey, pubkey string) error {
	if err := f.store.Block(localPubkey, pubkey); err != nil {
		return err
	}
	f.mu.Lock()
	f.blocked[pubkey] = struct{}{}
	f.mu.Unlock()
	return nil
}

// Unblock reverses Block's block-list entry. The forced unfollow is not
// undone.
func (f *Filter) Unblock(pubkey string) error {
	if err := f.store.Unblock(pubkey); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.blocked, pubkey)
	f.mu.Unlock()
	return nil
}

// IsMuted reports whether pubkey is muted, from the in-memory mirror.
func (f *Filter) IsMuted(pubkey string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.muted[pubkey]
	return ok
}

// IsBlocked reports whether pubkey is blocked, from the in-memory mirror.
// This is the callback shape (func(string) bool) that gossip.Bridge and
// dm.Engine accept for their isBlocked hook; sync.Request takes ShouldDrop
// in the same shape instead.
func (f *Filter) IsBlocked(pubkey string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.blocked[pubkey]
	return ok
}

// ShouldDrop reports whether content authored by pubkey should be dropped
// on receipt — gossip fan-in, sync deltas, and feed assembly all use this
// single rule: blocked takes precedence, muted also hides content but
// without severing the underlying follow.
func (f *Filter) ShouldDrop(pubkey string) bool {
	return f.IsBlocked(pubkey) || f.IsMuted(pubkey)
}

// FilterPosts removes posts authored by a muted or blocked pubkey.
func (f *Filter) FilterPosts(posts []wire.Post) []wire.Post {
	out := posts[:0:0]
	for _, p := range posts {
		if f.ShouldDrop(p.Author) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SuppressNotification reports whether a notification whose actor is
// pubkey should be discarded instead of surfaced.
func (f *Filter) SuppressNotification(actorPubkey string) bool {
	return f.ShouldDrop(actorPubkey)
}
