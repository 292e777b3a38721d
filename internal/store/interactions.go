package store

import (
	"database/sql"
	"fmt"

	"github.com/klppl/socialnode/internal/wire"
)

// InsertInteraction inserts an interaction, ignoring the write if the id
// already exists (INSERT-OR-IGNORE idempotency).
func (s *Store) InsertInteraction(in *wire.Interaction) (inserted bool, err error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO interactions (id, author, kind, target_post_id, target_author, timestamp, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Author, in.Kind, in.TargetPostID, in.TargetAuthor, in.Timestamp, in.Signature,
	)
	if err != nil {
		return false, fmt.Errorf("insert interaction: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteInteraction removes an interaction (an "unlike") by id, but only if
// the stored author matches the declared author.
func (s *Store) DeleteInteraction(id, declaredAuthor string) (removed bool, err error) {
	res, err := s.db.Exec(`DELETE FROM interactions WHERE id = ? AND author = ?`, id, declaredAuthor)
	if err != nil {
		return false, fmt.Errorf("delete interaction: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetInteraction returns an interaction by id, or (nil, nil) if absent.
func (s *Store) GetInteraction(id string) (*wire.Interaction, error) {
	var in wire.Interaction
	err := s.db.QueryRow(
		`SELECT id, author, kind, target_post_id, target_author, timestamp, signature FROM interactions WHERE id = ?`, id,
	).Scan(&in.ID, &in.Author, &in.Kind, &in.TargetPostID, &in.TargetAuthor, &in.Timestamp, &in.Signature)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// CountInteractions returns the number of stored interactions by author.
func (s *Store) CountInteractions(author string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions WHERE author = ?`, author).Scan(&n)
	return n, err
}

// NewestInteractionTimestamp returns the newest stored interaction
// timestamp for author, or 0 if none exist.
func (s *Store) NewestInteractionTimestamp(author string) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(timestamp) FROM interactions WHERE author = ?`, author).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// CountInteractionsAfter returns the count of author's interactions
// strictly newer than afterTS.
func (s *Store) CountInteractionsAfter(author string, afterTS int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions WHERE author = ? AND timestamp > ?`, author, afterTS).Scan(&n)
	return n, err
}

// InteractionsAfter returns up to limit interactions by author newer than
// afterTS, ascending by timestamp.
func (s *Store) InteractionsAfter(author string, afterTS int64, limit, offset int) ([]wire.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, author, kind, target_post_id, target_author, timestamp, signature
		 FROM interactions WHERE author = ? AND timestamp > ? ORDER BY timestamp ASC LIMIT ? OFFSET ?`,
		author, afterTS, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanInteractions(rows)
}

// InteractionsNotIn returns up to limit interactions by author whose id is
// not in knownIDs, ascending by timestamp.
func (s *Store) InteractionsNotIn(author string, knownIDs map[string]struct{}, limit, offset int) ([]wire.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, author, kind, target_post_id, target_author, timestamp, signature
		 FROM interactions WHERE author = ? ORDER BY timestamp ASC`, author)
	if err != nil {
		return nil, err
	}
	all, err := scanInteractions(rows)
	if err != nil {
		return nil, err
	}
	var missing []wire.Interaction
	for _, in := range all {
		if _, known := knownIDs[in.ID]; !known {
			missing = append(missing, in)
		}
	}
	if offset >= len(missing) {
		return nil, nil
	}
	end := offset + limit
	if end > len(missing) {
		end = len(missing)
	}
	return missing[offset:end], nil
}

// AllInteractionIDs returns every stored interaction id for author, ascending
// by timestamp.
func (s *Store) AllInteractionIDs(author string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM interactions WHERE author = ? ORDER BY timestamp ASC`, author)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

// InteractionsForTarget returns all interactions of the given kind targeting
// postID — used to compute like counts and to notify the post's author.
func (s *Store) InteractionsForTarget(postID, kind string) ([]wire.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, author, kind, target_post_id, target_author, timestamp, signature
		 FROM interactions WHERE target_post_id = ? AND kind = ?`, postID, kind)
	if err != nil {
		return nil, fmt.Errorf("interactions for target: %w", err)
	}
	return scanInteractions(rows)
}

func scanInteractions(rows *sql.Rows) ([]wire.Interaction, error) {
	defer rows.Close()
	var out []wire.Interaction
	for rows.Next() {
		var in wire.Interaction
		if err := rows.Scan(&in.ID, &in.Author, &in.Kind, &in.TargetPostID, &in.TargetAuthor, &in.Timestamp, &in.Signature); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
