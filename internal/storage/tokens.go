package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seatworks/seatidp/pkg/models"
)

// CreateAuthCode persists a freshly issued authorization code.
func (s *Store) CreateAuthCode(ctx context.Context, code *models.AuthorizationCode) error {
	scopes, err := json.Marshal(code.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auth_codes (id, client_id, user_id, redirect_uri, scopes, nonce, revoked, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.ID, code.ClientID, code.UserID, code.RedirectURI, string(scopes), code.Nonce,
		code.Revoked, code.ExpiresAt.UTC().Format(time.RFC3339), code.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create auth code: %w", err)
	}
	return nil
}

// GetAuthCode retrieves an authorization code by ID.
func (s *Store) GetAuthCode(ctx context.Context, id string) (*models.AuthorizationCode, error) {
	var code models.AuthorizationCode
	var scopes, nonce sql.NullString
	var expiresAt, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, user_id, redirect_uri, scopes, nonce, revoked, expires_at, created_at
		 FROM auth_codes WHERE id = ?`, id).
		Scan(&code.ID, &code.ClientID, &code.UserID, &code.RedirectURI, &scopes, &nonce, &code.Revoked, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auth code: %w", err)
	}

	if scopes.Valid {
		if err := json.Unmarshal([]byte(scopes.String), &code.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
	}
	code.Nonce = nonce.String
	code.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	code.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &code, nil
}

// RevokeAuthCode marks a code as used. Idempotent.
func (s *Store) RevokeAuthCode(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE auth_codes SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke auth code: %w", err)
	}
	return nil
}

// CreateAccessToken persists the record backing an issued JWT.
func (s *Store) CreateAccessToken(ctx context.Context, token *models.AccessToken) error {
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO access_tokens (id, client_id, user_id, scopes, revoked, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token.ID, token.ClientID, token.UserID, string(scopes), token.Revoked,
		token.ExpiresAt.UTC().Format(time.RFC3339), token.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create access token: %w", err)
	}
	return nil
}

// GetAccessToken retrieves an access token record by ID.
func (s *Store) GetAccessToken(ctx context.Context, id string) (*models.AccessToken, error) {
	var token models.AccessToken
	var scopes sql.NullString
	var expiresAt, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, user_id, scopes, revoked, expires_at, created_at
		 FROM access_tokens WHERE id = ?`, id).
		Scan(&token.ID, &token.ClientID, &token.UserID, &scopes, &token.Revoked, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	if scopes.Valid {
		if err := json.Unmarshal([]byte(scopes.String), &token.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
	}
	token.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	token.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &token, nil
}

// RevokeAccessToken marks an access token as revoked. Idempotent.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE access_tokens SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	return nil
}

// CreateRefreshToken persists a refresh token chained to its access token.
func (s *Store) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, access_token_id, revoked, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		token.ID, token.AccessTokenID, token.Revoked,
		token.ExpiresAt.UTC().Format(time.RFC3339), token.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken retrieves a refresh token by ID.
func (s *Store) GetRefreshToken(ctx context.Context, id string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	var expiresAt, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, access_token_id, revoked, expires_at, created_at
		 FROM refresh_tokens WHERE id = ?`, id).
		Scan(&token.ID, &token.AccessTokenID, &token.Revoked, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	token.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	token.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &token, nil
}

// RevokeRefreshToken marks a refresh token as revoked. Idempotent.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// FindRefreshTokenByAccessToken returns the refresh token chained to the given
// access token, if any.
func (s *Store) FindRefreshTokenByAccessToken(ctx context.Context, accessTokenID string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	var expiresAt, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, access_token_id, revoked, expires_at, created_at
		 FROM refresh_tokens WHERE access_token_id = ?`, accessTokenID).
		Scan(&token.ID, &token.AccessTokenID, &token.Revoked, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	token.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	token.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &token, nil
}
