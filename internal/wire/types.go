// Package wire defines the on-the-wire JSON types exchanged by the sync,
// gossip, and DM protocols, plus the size/time bounds that gate them.
package wire

// Post is an authored piece of content.
type Post struct {
	ID            string   `json:"id"`
	Author        string   `json:"author"`
	Content       string   `json:"content"`
	Timestamp     int64    `json:"timestamp"` // milliseconds since epoch
	Media         []string `json:"media,omitempty"`
	ReplyTo       string   `json:"reply_to,omitempty"`
	ReplyToAuthor string   `json:"reply_to_author,omitempty"`
	QuoteOf       string   `json:"quote_of,omitempty"`
	QuoteOfAuthor string   `json:"quote_of_author,omitempty"`
	Signature     string   `json:"signature"`
}

// Interaction kinds. Only Like exists today; the type is a string (not an
// enum) so a future kind doesn't require a wire-format version bump.
const (
	InteractionLike = "like"
)

// Interaction is a reaction to a post.
type Interaction struct {
	ID           string `json:"id"`
	Author       string `json:"author"`
	Kind         string `json:"kind"`
	TargetPostID string `json:"target_post_id"`
	TargetAuthor string `json:"target_author"`
	Timestamp    int64  `json:"timestamp"`
	Signature    string `json:"signature"`
}

// Profile is a per-pubkey display profile.
type Profile struct {
	Pubkey      string `json:"pubkey"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	Avatar      string `json:"avatar,omitempty"`
	Private     bool   `json:"private"`
	Timestamp   int64  `json:"timestamp"`
}

// FollowEdge is a (follower, followee) relationship.
type FollowEdge struct {
	Follower  string `json:"follower"`
	Followee  string `json:"followee"`
	Alias     string `json:"alias,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// FollowerInfo is the symmetric follower-side record updated by gossip
// neighbor events: first-seen, last-seen, and online status.
type FollowerInfo struct {
	Pubkey     string `json:"pubkey"`
	FirstSeen  int64  `json:"first_seen"`
	LastSeen   int64  `json:"last_seen"`
	Online     bool   `json:"online"`
}

// StoredDM is a persisted direct message.
type StoredDM struct {
	ID             string   `json:"id"` // UUID
	ConversationID string   `json:"conversation_id"`
	From           string   `json:"from"`
	To             string   `json:"to"`
	Content        string   `json:"content"`
	Timestamp      int64    `json:"timestamp"`
	Media          []string `json:"media,omitempty"`
	Read           bool     `json:"read"`
	Delivered      bool     `json:"delivered"`
	ReplyTo        string   `json:"reply_to,omitempty"`
}

// Notification is a local, never-broadcast record generated when content
// mentions, replies to, quotes, or targets the local user.
type Notification struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"` // mention, reply, quote, like
	Actor     string `json:"actor"`
	PostID    string `json:"post_id"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
}

// Notification kinds.
const (
	NotifyMention = "mention"
	NotifyReply   = "reply"
	NotifyQuote   = "quote"
	NotifyLike    = "like"
)

// ─── Sync protocol ──────────────────────────────────────────────────────

// SyncMode is the three-way classification a server computes for a follower.
type SyncMode string

const (
	ModeUpToDate        SyncMode = "up_to_date"
	ModeTimestampCatchUp SyncMode = "timestamp_catch_up"
	ModeNeedIDDiff       SyncMode = "need_id_diff"
)

// SyncRequest is phase 1's client→server message.
type SyncRequest struct {
	Author               string `json:"author"`
	PostCount             int    `json:"post_count"`
	InteractionCount      int    `json:"interaction_count"`
	NewestPostTimestamp   int64  `json:"newest_post_ts"`
	NewestInteractionTS   int64  `json:"newest_interaction_ts"`
}

// SyncSummary is phase 1's server→client response.
type SyncSummary struct {
	ServerPostCount         int      `json:"server_post_count"`
	ServerInteractionCount  int      `json:"server_interaction_count"`
	PostsAfterCount         int      `json:"posts_after_count"`
	InteractionsAfterCount  int      `json:"interactions_after_count"`
	PostMode                SyncMode `json:"post_mode"`
	InteractionMode         SyncMode `json:"interaction_mode"`
	Profile                 *Profile `json:"profile,omitempty"`
}

// DeltaFrame is one frame of phase 3's streamed delta. Exactly one of Posts
// or Interactions is populated; an empty frame (both nil) is the terminator
// and is never actually sent — the stream simply writes a zero-length frame
// instead of a DeltaFrame value.
type DeltaFrame struct {
	Posts        []Post        `json:"posts,omitempty"`
	Interactions []Interaction `json:"interactions,omitempty"`
}

// ─── Gossip protocol ────────────────────────────────────────────────────

// GossipMessageType discriminates the GossipMessage union.
type GossipMessageType string

const (
	GossipNewPost          GossipMessageType = "new_post"
	GossipDeletePost       GossipMessageType = "delete_post"
	GossipProfileUpdate    GossipMessageType = "profile_update"
	GossipNewInteraction   GossipMessageType = "new_interaction"
	GossipDeleteInteraction GossipMessageType = "delete_interaction"
)

// GossipMessage is the tagged union broadcast on author topics.
type GossipMessage struct {
	Type              GossipMessageType `json:"type"`
	Post              *Post             `json:"post,omitempty"`
	Interaction       *Interaction      `json:"interaction,omitempty"`
	Profile           *Profile          `json:"profile,omitempty"`
	DeleteID          string            `json:"delete_id,omitempty"`
	DeleteAuthor      string            `json:"delete_author,omitempty"`
}

// ─── DM protocol ────────────────────────────────────────────────────────

// DmHandshakeType discriminates the DmHandshake union.
type DmHandshakeType string

const (
	DmHandshakeInit     DmHandshakeType = "init"
	DmHandshakeResponse DmHandshakeType = "response"
)

// DmHandshake carries a Noise IK handshake message over the DM ALPN.
type DmHandshake struct {
	Type         DmHandshakeType `json:"type"`
	SenderPubkey string          `json:"sender_pubkey"`
	NoiseMessage []byte          `json:"noise_message"`
}

// RatchetHeader is the per-message Double Ratchet header.
type RatchetHeader struct {
	DHPublic          string `json:"dh_public"` // hex
	MessageNumber     uint32 `json:"msg_num"`
	PreviousChainLen  uint32 `json:"prev_chain_len"`
}

// EncryptedEnvelope is the wire object sent on a DM bidirectional stream.
type EncryptedEnvelope struct {
	SenderPubkey  string        `json:"sender_pubkey"`
	RatchetHeader RatchetHeader `json:"ratchet_header"`
	Ciphertext    []byte        `json:"ciphertext"`
}

// DMPayloadType discriminates the plaintext payload carried inside an
// EncryptedEnvelope's ciphertext.
type DMPayloadType string

const (
	DMPayloadMessage   DMPayloadType = "message"
	DMPayloadTyping    DMPayloadType = "typing"
	DMPayloadRead      DMPayloadType = "read"
	DMPayloadDelivered DMPayloadType = "delivered"
)

// DMPayload is the plaintext structure encrypted inside a DM envelope.
type DMPayload struct {
	Type      DMPayloadType `json:"type"`
	Message   *StoredDM     `json:"message,omitempty"`
	MessageID string        `json:"message_id,omitempty"` // for Read/Delivered
}

// AckBytes is the literal two-byte ACK written by a DM envelope's receiver.
var AckBytes = []byte("ok")
