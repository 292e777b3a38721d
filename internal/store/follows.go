package store

import (
	"github.com/klppl/socialnode/internal/wire"
)

// AddFollow records that follower follows followee.
func (s *Store) AddFollow(follower, followee, alias string, timestamp int64) error {
	_, err := s.db.Exec(
		`INSERT INTO follows (follower, followee, alias, timestamp) VALUES (?, ?, ?, ?)
		 ON CONFLICT(follower, followee) DO UPDATE SET alias=excluded.alias`,
		follower, followee, alias, timestamp,
	)
	return err
}

// RemoveFollow removes a follow relationship.
func (s *Store) RemoveFollow(follower, followee string) error {
	_, err := s.db.Exec(`DELETE FROM follows WHERE follower = ? AND followee = ?`, follower, followee)
	return err
}

// IsFollowing reports whether follower already follows followee.
func (s *Store) IsFollowing(follower, followee string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM follows WHERE follower = ? AND followee = ?`, follower, followee).Scan(&n)
	return n > 0, err
}

// Following returns every pubkey follower follows.
func (s *Store) Following(follower string) ([]string, error) {
	rows, err := s.db.Query(`SELECT followee FROM follows WHERE follower = ?`, follower)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

// FollowEdges returns the full follow edges for follower (includes alias and
// timestamp, used by the orchestrator to resubscribe with context).
func (s *Store) FollowEdges(follower string) ([]wire.FollowEdge, error) {
	rows, err := s.db.Query(`SELECT follower, followee, alias, timestamp FROM follows WHERE follower = ?`, follower)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []wire.FollowEdge
	for rows.Next() {
		var e wire.FollowEdge
		if err := rows.Scan(&e.Follower, &e.Followee, &e.Alias, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Followers (gossip-observed, unauthenticated) ──────────────────────────

// UpsertFollowerSeen records a follower-topic neighbor join/heartbeat: sets
// first_seen on first observation, always refreshes last_seen, and sets
// online per the caller's observation.
func (s *Store) UpsertFollowerSeen(pubkey string, now int64, online bool) error {
	_, err := s.db.Exec(
		`INSERT INTO followers (pubkey, first_seen, last_seen, online) VALUES (?, ?, ?, ?)
		 ON CONFLICT(pubkey) DO UPDATE SET last_seen=excluded.last_seen, online=excluded.online`,
		pubkey, now, now, online,
	)
	return err
}

// SetFollowerOnline updates only the online flag for an already-known
// follower topic neighbor (used on NeighborDown, which still updates
// last_seen but shouldn't reset first_seen).
func (s *Store) SetFollowerOnline(pubkey string, now int64, online bool) error {
	_, err := s.db.Exec(`UPDATE followers SET last_seen = ?, online = ? WHERE pubkey = ?`, now, online, pubkey)
	return err
}

// Followers returns every observed follower-topic neighbor.
func (s *Store) Followers() ([]wire.FollowerInfo, error) {
	rows, err := s.db.Query(`SELECT pubkey, first_seen, last_seen, online FROM followers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []wire.FollowerInfo
	for rows.Next() {
		var f wire.FollowerInfo
		if err := rows.Scan(&f.Pubkey, &f.FirstSeen, &f.LastSeen, &f.Online); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ─── Peer address book ──────────────────────────────────────────────────────

// SetPeerAddress records the dialable network address for a pubkey.
func (s *Store) SetPeerAddress(pubkey, addr string) error {
	_, err := s.db.Exec(
		`INSERT INTO peer_addresses (pubkey, addr) VALUES (?, ?)
		 ON CONFLICT(pubkey) DO UPDATE SET addr=excluded.addr`,
		pubkey, addr,
	)
	return err
}

// PeerAddress returns the last-known dialable address for pubkey.
func (s *Store) PeerAddress(pubkey string) (string, bool) {
	var addr string
	err := s.db.QueryRow(`SELECT addr FROM peer_addresses WHERE pubkey = ?`, pubkey).Scan(&addr)
	if err != nil {
		return "", false
	}
	return addr, true
}
