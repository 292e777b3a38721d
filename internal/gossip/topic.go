// Package gossip is the node's publish/subscribe overlay: one topic per
// author, delivering newly-authored posts and interactions to connected
// followers with at-least-once, best-effort semantics. It generalizes
// klistr's internal/nostr relay-pool/publisher idiom (per-destination circuit
// breakers, rate-limited fan-out, panic-isolated handlers) from a
// multi-relay WebSocket firehose to this node's own QUIC transport, since
// gossip here has no third-party relay to connect through: followers dial
// the author directly, and the author fans out to each connected follower
// (author-topic gossip).
package gossip

import (
	"crypto/sha256"
	"encoding/hex"
)

// topicPrefix domain-separates the topic derivation from any other use of
// SHA-256 over a pubkey elsewhere in the node.
const topicPrefix = "iroh-social-feed-v1:"

// TopicForAuthor derives the gossip topic id for an author's feed: the
// SHA-256 of a versioned, domain-separated string containing the author's
// hex pubkey.
func TopicForAuthor(authorPubkeyHex string) string {
	h := sha256.Sum256([]byte(topicPrefix + authorPubkeyHex))
	return hex.EncodeToString(h[:])
}
