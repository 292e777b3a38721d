// Package notify derives local notifications from received posts and
// interactions: mentions, replies, quotes of the local user's content, and
// interactions targeting it. Notifications are never broadcast — they are a
// purely local side effect of receiving content through gossip or sync.
package notify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/wire"
)

// Generator watches incoming posts and interactions for the local pubkey
// and records deduped notifications, emitting a best-effort UI event for
// each newly inserted one. Mirrors klistr's LogBroadcaster: state mutation
// happens under the store's own guarantees, then a non-blocking fan-out.
type Generator struct {
	store    *store.Store
	self     string
	suppress func(actorPubkey string) bool
	onHit    func(wire.Notification)
}

// New returns a Generator for selfPubkey. suppress (muted OR blocked actors)
// and onHit may both be nil.
func New(st *store.Store, selfPubkey string, suppress func(string) bool, onHit func(wire.Notification)) *Generator {
	if suppress == nil {
		suppress = func(string) bool { return false }
	}
	if onHit == nil {
		onHit = func(wire.Notification) {}
	}
	return &Generator{store: st, self: selfPubkey, suppress: suppress, onHit: onHit}
}

// mentionToken is the convention for an inline mention: "@<hex pubkey>"
// appearing anywhere in a post's content.
func mentionToken(pubkey string) string {
	return "@" + pubkey
}

// FromPost inspects a newly received post and records a notification for
// each way it references the local user: a mention in its content, a
// reply to one of the local user's posts, or a quote of one. A post can
// trigger more than one kind (e.g. a reply that also mentions).
func (g *Generator) FromPost(p wire.Post) error {
	if p.Author == g.self || g.suppress(p.Author) {
		return nil
	}
	var kinds []string
	if strings.Contains(p.Content, mentionToken(g.self)) {
		kinds = append(kinds, wire.NotifyMention)
	}
	if p.ReplyToAuthor == g.self {
		kinds = append(kinds, wire.NotifyReply)
	}
	if p.QuoteOfAuthor == g.self {
		kinds = append(kinds, wire.NotifyQuote)
	}
	for _, kind := range kinds {
		if err := g.record(kind, p.Author, p.ID, p.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// FromInteraction records a notification when in targets a post authored
// by the local user.
func (g *Generator) FromInteraction(in wire.Interaction) error {
	if in.Author == g.self || in.TargetAuthor != g.self || g.suppress(in.Author) {
		return nil
	}
	return g.record(in.Kind, in.Author, in.TargetPostID, in.Timestamp)
}

func (g *Generator) record(kind, actor, postID string, timestamp int64) error {
	n := &wire.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Actor:     actor,
		PostID:    postID,
		Timestamp: timestamp,
	}
	inserted, err := g.store.InsertNotification(n)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if inserted {
		g.onHit(*n)
	}
	return nil
}
