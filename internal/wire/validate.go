package wire

import (
	"fmt"
	"time"
)

// Bounds gates post/interaction content against the size and time limits
// a message may carry.
type Bounds struct {
	MaxContentBytes int
	MaxMedia        int
	MaxFutureDrift  time.Duration
}

// DefaultBounds are the spec's literal numbers. The gossip bridge and the
// sync client validate against them; config-derived Bounds are not threaded
// through.
var DefaultBounds = Bounds{
	MaxContentBytes: 10000,
	MaxMedia:        10,
	MaxFutureDrift:  5 * time.Minute,
}

// ValidatePost checks a post against size and timestamp bounds. now is
// milliseconds since epoch, passed explicitly so callers can test
// deterministically and so a single "now" is used across a batch.
func (b Bounds) ValidatePost(p *Post, nowMillis int64) error {
	if len(p.Content) > b.MaxContentBytes {
		return fmt.Errorf("post %s: content length %d exceeds max %d", p.ID, len(p.Content), b.MaxContentBytes)
	}
	if len(p.Media) > b.MaxMedia {
		return fmt.Errorf("post %s: %d media references exceeds max %d", p.ID, len(p.Media), b.MaxMedia)
	}
	maxFuture := nowMillis + b.MaxFutureDrift.Milliseconds()
	if p.Timestamp > maxFuture {
		return fmt.Errorf("post %s: timestamp %d exceeds allowed future drift (now=%d, max=%d)", p.ID, p.Timestamp, nowMillis, maxFuture)
	}
	return nil
}

// ValidateInteraction checks an interaction's timestamp bound. Interactions
// have no content/media so only the future-drift check applies.
func (b Bounds) ValidateInteraction(in *Interaction, nowMillis int64) error {
	maxFuture := nowMillis + b.MaxFutureDrift.Milliseconds()
	if in.Timestamp > maxFuture {
		return fmt.Errorf("interaction %s: timestamp %d exceeds allowed future drift (now=%d, max=%d)", in.ID, in.Timestamp, nowMillis, maxFuture)
	}
	return nil
}

// NowMillis returns the current time as milliseconds since epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
