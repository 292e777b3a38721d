package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/klppl/socialnode/internal/wire"
)

// InsertPost inserts a post, ignoring the write if the id already exists.
// Reports whether a new row was actually inserted, giving callers the
// idempotency (inserting twice must be
// observationally unchanged, and sync/gossip both need to know whether a
// delta is new so they don't double-count "work done").
func (s *Store) InsertPost(p *wire.Post) (inserted bool, err error) {
	mediaJSON, err := json.Marshal(nonNil(p.Media))
	if err != nil {
		return false, fmt.Errorf("marshal media: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO posts (id, author, content, timestamp, media, reply_to, reply_to_author, quote_of, quote_of_author, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Author, p.Content, p.Timestamp, string(mediaJSON),
		p.ReplyTo, p.ReplyToAuthor, p.QuoteOf, p.QuoteOfAuthor, p.Signature,
	)
	if err != nil {
		return false, fmt.Errorf("insert post: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeletePost removes a post by id, but only if the stored author matches the
// declared author — this is the delete-forgery guard.
// Returns whether a row was actually removed.
func (s *Store) DeletePost(id, declaredAuthor string) (removed bool, err error) {
	res, err := s.db.Exec(`DELETE FROM posts WHERE id = ? AND author = ?`, id, declaredAuthor)
	if err != nil {
		return false, fmt.Errorf("delete post: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetPost returns a post by id, or (nil, nil) if it does not exist.
func (s *Store) GetPost(id string) (*wire.Post, error) {
	row := s.db.QueryRow(
		`SELECT id, author, content, timestamp, media, reply_to, reply_to_author, quote_of, quote_of_author, signature
		 FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// CountPosts returns the number of stored posts by author.
func (s *Store) CountPosts(author string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM posts WHERE author = ?`, author).Scan(&n)
	return n, err
}

// NewestPostTimestamp returns the newest stored post timestamp for author,
// or 0 if none exist.
func (s *Store) NewestPostTimestamp(author string) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(timestamp) FROM posts WHERE author = ?`, author).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// CountPostsAfter returns the number of author's posts strictly newer than
// afterTS — used to validate the TimestampCatchUp invariant server-side.
func (s *Store) CountPostsAfter(author string, afterTS int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM posts WHERE author = ? AND timestamp > ?`, author, afterTS).Scan(&n)
	return n, err
}

// PostsAfter returns up to limit posts by author with timestamp > afterTS,
// ascending by timestamp, starting at offset — used for TimestampCatchUp
// pagination (batches of up to 200).
func (s *Store) PostsAfter(author string, afterTS int64, limit, offset int) ([]wire.Post, error) {
	rows, err := s.db.Query(
		`SELECT id, author, content, timestamp, media, reply_to, reply_to_author, quote_of, quote_of_author, signature
		 FROM posts WHERE author = ? AND timestamp > ? ORDER BY timestamp ASC LIMIT ? OFFSET ?`,
		author, afterTS, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

// PostsNotIn returns up to limit posts by author whose id is not in
// knownIDs, ascending by timestamp, starting at offset — used for
// NeedIdDiff pagination.
func (s *Store) PostsNotIn(author string, knownIDs map[string]struct{}, limit, offset int) ([]wire.Post, error) {
	// SQLite has no good way to bind a potentially-large set; filter in Go
	// rather than building a dynamic IN clause with thousands of placeholders.
	rows, err := s.db.Query(
		`SELECT id, author, content, timestamp, media, reply_to, reply_to_author, quote_of, quote_of_author, signature
		 FROM posts WHERE author = ? ORDER BY timestamp ASC`, author)
	if err != nil {
		return nil, err
	}
	all, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	var missing []wire.Post
	for _, p := range all {
		if _, known := knownIDs[p.ID]; !known {
			missing = append(missing, p)
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

// AllPostIDs returns every stored post id for author, ascending by
// timestamp — the known-id list a client uploads in sync phase 2.
func (s *Store) AllPostIDs(author string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM posts WHERE author = ? ORDER BY timestamp ASC`, author)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

func scanPost(row *sql.Row) (*wire.Post, error) {
	var p wire.Post
	var mediaJSON string
	if err := row.Scan(&p.ID, &p.Author, &p.Content, &p.Timestamp, &mediaJSON,
		&p.ReplyTo, &p.ReplyToAuthor, &p.QuoteOf, &p.QuoteOfAuthor, &p.Signature); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(mediaJSON), &p.Media)
	return &p, nil
}

func scanPosts(rows *sql.Rows) ([]wire.Post, error) {
	defer rows.Close()
	var out []wire.Post
	for rows.Next() {
		var p wire.Post
		var mediaJSON string
		if err := rows.Scan(&p.ID, &p.Author, &p.Content, &p.Timestamp, &mediaJSON,
			&p.ReplyTo, &p.ReplyToAuthor, &p.QuoteOf, &p.QuoteOfAuthor, &p.Signature); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(mediaJSON), &p.Media)
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanStringRows(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
