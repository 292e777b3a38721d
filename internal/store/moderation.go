package store

// Mute hides a pubkey's content locally while leaving the follow relationship
// intact.
func (s *Store) Mute(pubkey string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO mutes (pubkey) VALUES (?)`, pubkey)
	return err
}

// Unmute reverses Mute.
func (s *Store) Unmute(pubkey string) error {
	_, err := s.db.Exec(`DELETE FROM mutes WHERE pubkey = ?`, pubkey)
	return err
}

// IsMuted reports whether pubkey is muted.
func (s *Store) IsMuted(pubkey string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM mutes WHERE pubkey = ?`, pubkey).Scan(&n)
	return n > 0, err
}

// Mutes returns every muted pubkey.
func (s *Store) Mutes() ([]string, error) {
	rows, err := s.db.Query(`SELECT pubkey FROM mutes`)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

// Block hides a pubkey's content, refuses its DM connections, and forces an
// unfollow — all three effects committed as one transaction so a crash
// between steps can never leave a blocked peer still followed.
func (s *Store) Block(localPubkey, pubkey string) error {
	return s.withLock(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`INSERT OR IGNORE INTO blocks (pubkey) VALUES (?)`, pubkey); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM follows WHERE follower = ? AND followee = ?`, localPubkey, pubkey); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Unblock reverses Block's block-list entry (the forced unfollow is not
// undone — the user must re-follow explicitly).
func (s *Store) Unblock(pubkey string) error {
	_, err := s.db.Exec(`DELETE FROM blocks WHERE pubkey = ?`, pubkey)
	return err
}

// IsBlocked reports whether pubkey is blocked.
func (s *Store) IsBlocked(pubkey string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM blocks WHERE pubkey = ?`, pubkey).Scan(&n)
	return n > 0, err
}

// Blocks returns every blocked pubkey.
func (s *Store) Blocks() ([]string, error) {
	rows, err := s.db.Query(`SELECT pubkey FROM blocks`)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}
