package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/klppl/socialnode/internal/wire"
)

// conversationIDVersion prefixes the derived conversation id so a future
// change to the derivation scheme can coexist with old rows.
const conversationIDVersion = "v1"

// ConversationID derives a stable conversation id for a pubkey pair: the
// versioned SHA-256 of the pair sorted lexicographically, so it does not
// depend on who is "from" and who is "to".
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	h := sha256.Sum256([]byte(pair[0] + ":" + pair[1]))
	return conversationIDVersion + ":" + hex.EncodeToString(h[:])
}

// InsertDM persists a direct message, ignoring the write if its id already
// exists, and ensures the owning conversation row exists.
func (s *Store) InsertDM(msg *wire.StoredDM, localPubkey string) (inserted bool, err error) {
	peer := msg.To
	if msg.From != localPubkey {
		peer = msg.From
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO dm_conversations (id, peer) VALUES (?, ?)`,
		msg.ConversationID, peer,
	); err != nil {
		return false, fmt.Errorf("ensure conversation: %w", err)
	}

	mediaJSON, err := json.Marshal(nonNil(msg.Media))
	if err != nil {
		return false, fmt.Errorf("marshal media: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO dm_messages (id, conversation_id, from_pubkey, to_pubkey, content, timestamp, media, read, delivered, reply_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.From, msg.To, msg.Content, msg.Timestamp, string(mediaJSON),
		msg.Read, msg.Delivered, msg.ReplyTo,
	)
	if err != nil {
		return false, fmt.Errorf("insert dm: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkDMDelivered sets the delivered flag on a stored DM by id.
func (s *Store) MarkDMDelivered(messageID string) error {
	_, err := s.db.Exec(`UPDATE dm_messages SET delivered = 1 WHERE id = ?`, messageID)
	return err
}

// MarkDMRead sets the read flag on a stored DM by id.
func (s *Store) MarkDMRead(messageID string) error {
	_, err := s.db.Exec(`UPDATE dm_messages SET read = 1 WHERE id = ?`, messageID)
	return err
}

// ConversationMessages returns all messages in a conversation, ascending by
// timestamp.
func (s *Store) ConversationMessages(conversationID string) ([]wire.StoredDM, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, from_pubkey, to_pubkey, content, timestamp, media, read, delivered, reply_to
		 FROM dm_messages WHERE conversation_id = ? ORDER BY timestamp ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []wire.StoredDM
	for rows.Next() {
		var m wire.StoredDM
		var mediaJSON string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.From, &m.To, &m.Content, &m.Timestamp,
			&mediaJSON, &m.Read, &m.Delivered, &m.ReplyTo); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(mediaJSON), &m.Media)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ─── Ratchet sessions ───────────────────────────────────────────────────────

// SaveRatchetState persists the opaque serialized ratchet state for a peer,
// overwriting any prior state. Called after every encrypt and decrypt
// — the ratchet is never cached in memory across operations.
func (s *Store) SaveRatchetState(peerPubkey string, state []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO dm_ratchet_sessions (peer_pubkey, state) VALUES (?, ?)
		 ON CONFLICT(peer_pubkey) DO UPDATE SET state=excluded.state`,
		peerPubkey, state,
	)
	return err
}

// LoadRatchetState returns the serialized ratchet state for peerPubkey, or
// (nil, false) if no session exists yet.
func (s *Store) LoadRatchetState(peerPubkey string) ([]byte, bool, error) {
	var state []byte
	err := s.db.QueryRow(`SELECT state FROM dm_ratchet_sessions WHERE peer_pubkey = ?`, peerPubkey).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// DeleteRatchetState removes a peer's session, forcing a fresh Noise IK
// handshake on next contact (session recovery).
func (s *Store) DeleteRatchetState(peerPubkey string) error {
	_, err := s.db.Exec(`DELETE FROM dm_ratchet_sessions WHERE peer_pubkey = ?`, peerPubkey)
	return err
}

// ─── Outbox ─────────────────────────────────────────────────────────────────

// OutboxEntry is a queued, undelivered DM envelope.
type OutboxEntry struct {
	ID              string
	Peer            string
	Envelope        []byte
	CreatedAt       int64
	OriginMessageID string
}

// EnqueueOutbox queues an envelope for later delivery to peer.
func (s *Store) EnqueueOutbox(e *OutboxEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO dm_outbox (id, peer, envelope, created_at, origin_message_id) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Peer, e.Envelope, e.CreatedAt, e.OriginMessageID,
	)
	return err
}

// OutboxForPeer returns all queued entries for peer, oldest first.
func (s *Store) OutboxForPeer(peer string) ([]OutboxEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, peer, envelope, created_at, origin_message_id FROM dm_outbox WHERE peer = ? ORDER BY created_at ASC`, peer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Peer, &e.Envelope, &e.CreatedAt, &e.OriginMessageID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OutboxPeers returns the distinct set of peers with queued entries.
func (s *Store) OutboxPeers() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT peer FROM dm_outbox`)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

// DeleteOutboxEntry removes a delivered entry by id.
func (s *Store) DeleteOutboxEntry(id string) error {
	_, err := s.db.Exec(`DELETE FROM dm_outbox WHERE id = ?`, id)
	return err
}
