package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seatworks/seatidp/pkg/models"
)

// CreateUser inserts a directory user row.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	squads, err := json.Marshal(u.Squads)
	if err != nil {
		return fmt.Errorf("failed to marshal squads: %w", err)
	}

	var updatedAt interface{}
	if u.UpdatedAt != nil {
		updatedAt = u.UpdatedAt.UTC().Format(time.RFC3339)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, password_hash, admin, active, main_character_id, character_name, corporation_id, alliance_id, squads, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.PasswordHash, u.Admin, u.Active, u.MainCharacterID, u.CharacterName, u.CorporationID, u.AllianceID,
		string(squads), updatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	u.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert id: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByName retrieves a user by their unique directory name.
func (s *Store) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	return s.getUser(ctx, `WHERE name = ?`, name)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	var u models.User
	var charName sql.NullString
	var squads string
	var updatedAt sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, password_hash, admin, active, main_character_id, character_name, corporation_id, alliance_id, squads, updated_at
		 FROM users `+where, arg).
		Scan(&u.ID, &u.Name, &u.PasswordHash, &u.Admin, &u.Active, &u.MainCharacterID, &charName,
			&u.CorporationID, &u.AllianceID, &squads, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.CharacterName = charName.String
	if err := json.Unmarshal([]byte(squads), &u.Squads); err != nil {
		return nil, fmt.Errorf("failed to unmarshal squads: %w", err)
	}
	if updatedAt.Valid {
		t, _ := time.Parse(time.RFC3339, updatedAt.String)
		u.UpdatedAt = &t
	}

	return &u, nil
}

// UpdateUser rewrites every mutable user field.
func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	squads, err := json.Marshal(u.Squads)
	if err != nil {
		return fmt.Errorf("failed to marshal squads: %w", err)
	}

	var updatedAt interface{}
	if u.UpdatedAt != nil {
		updatedAt = u.UpdatedAt.UTC().Format(time.RFC3339)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, password_hash = ?, admin = ?, active = ?, main_character_id = ?,
		 character_name = ?, corporation_id = ?, alliance_id = ?, squads = ?, updated_at = ?
		 WHERE id = ?`,
		u.Name, u.PasswordHash, u.Admin, u.Active, u.MainCharacterID, u.CharacterName,
		u.CorporationID, u.AllianceID, string(squads), updatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireAffected(result)
}

// ListUsers returns all directory users.
func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	users := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// CreateSession inserts a browser session row.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.ExpiresAt.UTC().Format(time.RFC3339), sess.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID, treating an expired session as absent.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	var expiresAt, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if time.Now().After(sess.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// DeleteSession invalidates a browser session. Idempotent.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteSessionsForUser invalidates every session belonging to a user.
func (s *Store) DeleteSessionsForUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

// CreatePendingAuth persists consent state for an in-flight authorization.
func (s *Store) CreatePendingAuth(ctx context.Context, p *models.PendingAuthorization) error {
	scopes, err := json.Marshal(p.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_auth (id, client_id, user_id, redirect_uri, scopes, state, nonce, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ClientID, p.UserID, p.RedirectURI, string(scopes), p.State, p.Nonce,
		p.ExpiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create pending auth: %w", err)
	}
	return nil
}

// TakePendingAuth retrieves and deletes an in-flight authorization in one
// step, so approval state cannot be replayed.
func (s *Store) TakePendingAuth(ctx context.Context, id string) (*models.PendingAuthorization, error) {
	var p models.PendingAuthorization
	var scopes string
	var state, nonce sql.NullString
	var expiresAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, user_id, redirect_uri, scopes, state, nonce, expires_at
		 FROM pending_auth WHERE id = ?`, id).
		Scan(&p.ID, &p.ClientID, &p.UserID, &p.RedirectURI, &scopes, &state, &nonce, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending auth: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_auth WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to consume pending auth: %w", err)
	}

	if err := json.Unmarshal([]byte(scopes), &p.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	p.State = state.String
	p.Nonce = nonce.String
	p.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)

	if time.Now().After(p.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &p, nil
}
