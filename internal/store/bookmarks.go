package store

// Bookmark saves a post id to pubkey's local bookmark list.
func (s *Store) Bookmark(pubkey, postID string, timestamp int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO bookmarks (pubkey, post_id, timestamp) VALUES (?, ?, ?)`,
		pubkey, postID, timestamp,
	)
	return err
}

// Unbookmark removes a post id from pubkey's bookmark list.
func (s *Store) Unbookmark(pubkey, postID string) error {
	_, err := s.db.Exec(`DELETE FROM bookmarks WHERE pubkey = ? AND post_id = ?`, pubkey, postID)
	return err
}

// IsBookmarked reports whether pubkey has bookmarked postID.
func (s *Store) IsBookmarked(pubkey, postID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bookmarks WHERE pubkey = ? AND post_id = ?`, pubkey, postID).Scan(&n)
	return n > 0, err
}

// Bookmarks returns pubkey's bookmarked post ids, newest first.
func (s *Store) Bookmarks(pubkey string) ([]string, error) {
	rows, err := s.db.Query(`SELECT post_id FROM bookmarks WHERE pubkey = ? ORDER BY timestamp DESC`, pubkey)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}
