package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

// CreateApiKey stores an API key record. The secret itself never reaches
// the store, only its salted hash.
func (s *Store) CreateApiKey(ctx context.Context, key *model.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	if key.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, owner_id, prefix, salt, hash, active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key.ID, key.OwnerID, key.Prefix, key.Salt, key.Hash, active,
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetApiKeyByPrefix looks a key up by its public prefix.
func (s *Store) GetApiKeyByPrefix(ctx context.Context, prefix string) (*model.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, prefix, salt, hash, active, last_used
		FROM api_keys WHERE prefix = ?`, prefix)

	var (
		key      model.ApiKey
		active   int
		lastUsed sql.NullInt64
	)
	err := row.Scan(&key.ID, &key.OwnerID, &key.Prefix, &key.Salt, &key.Hash, &active, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rverrors.NotFound("unknown api key")
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	key.Active = active != 0
	if lastUsed.Valid {
		key.LastUsed = time.Unix(lastUsed.Int64, 0)
	}
	return &key, nil
}

// TouchApiKey records a successful use of the key.
func (s *Store) TouchApiKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "UPDATE api_keys SET last_used = ? WHERE id = ?", time.Now().Unix(), id); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// DeactivateApiKey revokes a key without deleting its audit trail.
func (s *Store) DeactivateApiKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "UPDATE api_keys SET active = 0 WHERE id = ?", id); err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return nil
}
