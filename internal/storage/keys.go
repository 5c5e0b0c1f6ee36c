package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seatworks/seatidp/pkg/models"
)

// CreateSigningKey inserts a keypair. If key.IsActive is set, all other keys
// are deactivated in the same transaction so that exactly one key is active.
func (s *Store) CreateSigningKey(ctx context.Context, key *models.SigningKeypair) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	var expiresAt interface{}
	if key.ExpiresAt != nil {
		expiresAt = key.ExpiresAt.UTC().Format(time.RFC3339)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if key.IsActive {
		if _, err := tx.ExecContext(ctx, `UPDATE signing_keys SET is_active = 0`); err != nil {
			return fmt.Errorf("failed to deactivate keys: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO signing_keys (key_id, algorithm, public_key, private_key, is_active, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.KeyID, key.Algorithm, key.PublicKey, key.PrivateKey, key.IsActive,
		expiresAt, key.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create signing key: %w", err)
	}

	return tx.Commit()
}

// GetSigningKey retrieves a keypair by its key ID.
func (s *Store) GetSigningKey(ctx context.Context, keyID string) (*models.SigningKeypair, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key_id, algorithm, public_key, private_key, is_active, expires_at, created_at
		 FROM signing_keys WHERE key_id = ?`, keyID)
	return scanSigningKey(row)
}

// GetActiveSigningKey returns the active, non-expired keypair.
func (s *Store) GetActiveSigningKey(ctx context.Context) (*models.SigningKeypair, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key_id, algorithm, public_key, private_key, is_active, expires_at, created_at
		 FROM signing_keys
		 WHERE is_active = 1 AND (expires_at IS NULL OR expires_at > ?)`,
		time.Now().UTC().Format(time.RFC3339))
	return scanSigningKey(row)
}

// ListSigningKeys returns all keypairs, newest first.
func (s *Store) ListSigningKeys(ctx context.Context) ([]*models.SigningKeypair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_id, algorithm, public_key, private_key, is_active, expires_at, created_at
		 FROM signing_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list signing keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.SigningKeypair
	for rows.Next() {
		key, err := scanSigningKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ActivateSigningKey deactivates all keys and activates the target in one
// transaction, so readers never observe zero or two active keys.
func (s *Store) ActivateSigningKey(ctx context.Context, keyID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM signing_keys WHERE key_id = ?`, keyID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check signing key: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `UPDATE signing_keys SET is_active = 0`); err != nil {
		return fmt.Errorf("failed to deactivate keys: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE signing_keys SET is_active = 1 WHERE key_id = ?`, keyID); err != nil {
		return fmt.Errorf("failed to activate key: %w", err)
	}

	return tx.Commit()
}

// DeleteSigningKey removes an inactive keypair. Deleting the active keypair
// fails with ErrInvalidState.
func (s *Store) DeleteSigningKey(ctx context.Context, keyID string) error {
	key, err := s.GetSigningKey(ctx, keyID)
	if err != nil {
		return err
	}
	if key.IsActive {
		return ErrInvalidState
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM signing_keys WHERE key_id = ?`, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete signing key: %w", err)
	}
	return requireAffected(result)
}

func scanSigningKey(row rowScanner) (*models.SigningKeypair, error) {
	var key models.SigningKeypair
	var expiresAt sql.NullString
	var createdAt string

	err := row.Scan(&key.KeyID, &key.Algorithm, &key.PublicKey, &key.PrivateKey, &key.IsActive, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan signing key: %w", err)
	}

	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339, expiresAt.String)
		key.ExpiresAt = &t
	}
	key.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &key, nil
}
