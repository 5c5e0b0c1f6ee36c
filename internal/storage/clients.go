package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seatworks/seatidp/pkg/models"
)

// CreateClient inserts a new OAuth2 client.
func (s *Store) CreateClient(ctx context.Context, c *models.Client) error {
	uris, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect uris: %w", err)
	}
	scopes, err := json.Marshal(c.AllowedScopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO oauth_clients (client_id, secret_hash, name, description, redirect_uris, allowed_scopes, is_active, skip_consent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.SecretHash, c.Name, c.Description, string(uris), string(scopes),
		c.IsActive, c.SkipConsent, c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

// GetClient retrieves a client by its client_id.
func (s *Store) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT client_id, secret_hash, name, COALESCE(description, ''), redirect_uris, allowed_scopes, is_active, skip_consent, created_at
		 FROM oauth_clients WHERE client_id = ?`, clientID)
	return scanClient(row)
}

// ListClients returns all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*models.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, secret_hash, name, COALESCE(description, ''), redirect_uris, allowed_scopes, is_active, skip_consent, created_at
		 FROM oauth_clients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// UpdateClient updates the mutable fields of a client.
func (s *Store) UpdateClient(ctx context.Context, c *models.Client) error {
	uris, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect uris: %w", err)
	}
	scopes, err := json.Marshal(c.AllowedScopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE oauth_clients SET name = ?, description = ?, redirect_uris = ?, allowed_scopes = ?, is_active = ?, skip_consent = ?
		 WHERE client_id = ?`,
		c.Name, c.Description, string(uris), string(scopes), c.IsActive, c.SkipConsent, c.ClientID)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return requireAffected(result)
}

// UpdateClientSecret replaces the stored secret digest.
func (s *Store) UpdateClientSecret(ctx context.Context, clientID, secretHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE oauth_clients SET secret_hash = ? WHERE client_id = ?`, secretHash, clientID)
	if err != nil {
		return fmt.Errorf("failed to update client secret: %w", err)
	}
	return requireAffected(result)
}

// DeleteClient removes a client. Issued codes and tokens cascade.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oauth_clients WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return requireAffected(result)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	var uris, scopes, createdAt string

	err := row.Scan(&c.ClientID, &c.SecretHash, &c.Name, &c.Description, &uris, &scopes, &c.IsActive, &c.SkipConsent, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan client: %w", err)
	}

	if err := json.Unmarshal([]byte(uris), &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal redirect uris: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &c.AllowedScopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &c, nil
}

func requireAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
