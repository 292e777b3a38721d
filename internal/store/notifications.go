package store

import "github.com/klppl/socialnode/internal/wire"

// InsertNotification records a local notification, deduped by
// (actor, post_id, kind). Returns whether a new row was
// inserted.
func (s *Store) InsertNotification(n *wire.Notification) (inserted bool, err error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO notifications (id, kind, actor, post_id, timestamp, read) VALUES (?, ?, ?, ?, ?, 0)`,
		n.ID, n.Kind, n.Actor, n.PostID, n.Timestamp,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// Notifications returns notifications newest-first, up to limit.
func (s *Store) Notifications(limit int) ([]wire.Notification, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, actor, post_id, timestamp, read FROM notifications ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []wire.Notification
	for rows.Next() {
		var n wire.Notification
		if err := rows.Scan(&n.ID, &n.Kind, &n.Actor, &n.PostID, &n.Timestamp, &n.Read); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead marks a single notification read.
func (s *Store) MarkNotificationRead(id string) error {
	_, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	return err
}
