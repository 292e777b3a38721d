package store

import (
	"database/sql"

	"github.com/klppl/socialnode/internal/wire"
)

// UpsertProfile inserts or replaces a pubkey's profile.
func (s *Store) UpsertProfile(p *wire.Profile) error {
	_, err := s.db.Exec(
		`INSERT INTO profiles (pubkey, display_name, bio, avatar, private, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pubkey) DO UPDATE SET
		   display_name=excluded.display_name, bio=excluded.bio, avatar=excluded.avatar,
		   private=excluded.private, timestamp=excluded.timestamp
		 WHERE excluded.timestamp >= profiles.timestamp`,
		p.Pubkey, p.DisplayName, p.Bio, p.Avatar, p.Private, p.Timestamp,
	)
	return err
}

// GetProfile returns the profile for pubkey, or (nil, nil) if none exists.
func (s *Store) GetProfile(pubkey string) (*wire.Profile, error) {
	var p wire.Profile
	err := s.db.QueryRow(
		`SELECT pubkey, display_name, bio, avatar, private, timestamp FROM profiles WHERE pubkey = ?`, pubkey,
	).Scan(&p.Pubkey, &p.DisplayName, &p.Bio, &p.Avatar, &p.Private, &p.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
