// Package store is the node's durable local store: authored content,
// interactions, DM ciphertext and session state, and the follow graph. It
// generalizes klistr's internal/db package (same connection-handling and
// migration idiom) to this node's schema.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a single SQLite connection (a pool capped at one open
// connection, which database/sql serializes). The mutex is taken only by
// compound operations run through withLock. PostsAfter and InteractionsAfter
// return one LIMIT/OFFSET page per call; PostsNotIn and InteractionsNotIn
// read the author's full id set in one query and do not paginate.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) a SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// A single node process owns this file; one connection avoids SQLite's
	// writer-starves-writer contention entirely rather than tuning around it.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`,

	`CREATE TABLE IF NOT EXISTS profiles (
		pubkey       TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		bio          TEXT NOT NULL DEFAULT '',
		avatar       TEXT NOT NULL DEFAULT '',
		private      INTEGER NOT NULL DEFAULT 0,
		timestamp    INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS posts (
		id               TEXT PRIMARY KEY,
		author           TEXT NOT NULL,
		content          TEXT NOT NULL,
		timestamp        INTEGER NOT NULL,
		media            TEXT NOT NULL DEFAULT '[]',
		reply_to         TEXT NOT NULL DEFAULT '',
		reply_to_author  TEXT NOT NULL DEFAULT '',
		quote_of         TEXT NOT NULL DEFAULT '',
		quote_of_author  TEXT NOT NULL DEFAULT '',
		signature        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS posts_author_ts ON posts(author, timestamp)`,
	`CREATE INDEX IF NOT EXISTS posts_ts ON posts(timestamp)`,

	`CREATE TABLE IF NOT EXISTS interactions (
		id             TEXT PRIMARY KEY,
		author         TEXT NOT NULL,
		kind           TEXT NOT NULL,
		target_post_id TEXT NOT NULL,
		target_author  TEXT NOT NULL,
		timestamp      INTEGER NOT NULL,
		signature      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS interactions_target_kind ON interactions(target_post_id, kind)`,
	`CREATE INDEX IF NOT EXISTS interactions_author_ts ON interactions(author, timestamp)`,

	`CREATE TABLE IF NOT EXISTS follows (
		follower  TEXT NOT NULL,
		followee  TEXT NOT NULL,
		alias     TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		UNIQUE(follower, followee)
	)`,
	`CREATE INDEX IF NOT EXISTS follows_followee ON follows(followee)`,

	`CREATE TABLE IF NOT EXISTS followers (
		pubkey     TEXT PRIMARY KEY,
		first_seen INTEGER NOT NULL,
		last_seen  INTEGER NOT NULL,
		online     INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS dm_conversations (
		id         TEXT PRIMARY KEY,
		peer       TEXT NOT NULL UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS dm_messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		from_pubkey     TEXT NOT NULL,
		to_pubkey       TEXT NOT NULL,
		content         TEXT NOT NULL,
		timestamp       INTEGER NOT NULL,
		media           TEXT NOT NULL DEFAULT '[]',
		read            INTEGER NOT NULL DEFAULT 0,
		delivered       INTEGER NOT NULL DEFAULT 0,
		reply_to        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS dm_messages_conv_ts ON dm_messages(conversation_id, timestamp)`,

	`CREATE TABLE IF NOT EXISTS dm_outbox (
		id                  TEXT PRIMARY KEY,
		peer                TEXT NOT NULL,
		envelope            BLOB NOT NULL,
		created_at          INTEGER NOT NULL,
		origin_message_id   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS dm_outbox_peer ON dm_outbox(peer)`,

	`CREATE TABLE IF NOT EXISTS dm_ratchet_sessions (
		peer_pubkey TEXT PRIMARY KEY,
		state       BLOB NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS bookmarks (
		pubkey     TEXT NOT NULL,
		post_id    TEXT NOT NULL,
		timestamp  INTEGER NOT NULL,
		UNIQUE(pubkey, post_id)
	)`,

	`CREATE TABLE IF NOT EXISTS mutes (
		pubkey TEXT PRIMARY KEY
	)`,

	`CREATE TABLE IF NOT EXISTS blocks (
		pubkey TEXT PRIMARY KEY
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id        TEXT PRIMARY KEY,
		kind      TEXT NOT NULL,
		actor     TEXT NOT NULL,
		post_id   TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		read      INTEGER NOT NULL DEFAULT 0,
		UNIQUE(actor, post_id, kind)
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_ts ON notifications(timestamp)`,

	`CREATE TABLE IF NOT EXISTS peer_addresses (
		pubkey TEXT PRIMARY KEY,
		addr   TEXT NOT NULL
	)`,
}

// Migrate runs all pending schema migrations. Idempotent: re-running on an
// already-migrated database is a no-op.
func (s *Store) Migrate() error {
	slog.Info("running database migrations")
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	slog.Info("migrations complete")
	return nil
}

// withLock runs fn while holding the store's mutex. Use for compound
// operations that must not interleave with a concurrent caller (e.g.
// Block's transaction that records the block and removes the follow rows);
// single-statement queries go through
// *sql.DB directly since database/sql already serializes against a
// single-connection pool.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
