package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seatworks/seatidp/pkg/models"
)

// CreateSamlProvider inserts a new SAML service provider registration.
func (s *Store) CreateSamlProvider(ctx context.Context, sp *models.SamlProvider) error {
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO saml_providers (name, entity_id, acs_url, slo_url, certificate, metadata_url, name_id_format, is_active, idp_certificate, idp_private_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.Name, sp.EntityID, sp.ACSURL, sp.SLOURL, sp.Certificate, sp.MetadataURL,
		sp.NameIDFormat, sp.IsActive, sp.IdPCertificate, sp.IdPPrivateKey,
		sp.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create saml provider: %w", err)
	}

	sp.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert id: %w", err)
	}
	return nil
}

// GetSamlProvider retrieves a service provider by its row ID.
func (s *Store) GetSamlProvider(ctx context.Context, id int64) (*models.SamlProvider, error) {
	row := s.db.QueryRowContext(ctx, samlProviderSelect+` WHERE id = ?`, id)
	return scanSamlProvider(row)
}

// GetSamlProviderByEntityID retrieves a service provider by its entity ID.
func (s *Store) GetSamlProviderByEntityID(ctx context.Context, entityID string) (*models.SamlProvider, error) {
	row := s.db.QueryRowContext(ctx, samlProviderSelect+` WHERE entity_id = ?`, entityID)
	return scanSamlProvider(row)
}

// ListSamlProviders returns all registered service providers.
func (s *Store) ListSamlProviders(ctx context.Context) ([]*models.SamlProvider, error) {
	rows, err := s.db.QueryContext(ctx, samlProviderSelect+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list saml providers: %w", err)
	}
	defer rows.Close()

	var providers []*models.SamlProvider
	for rows.Next() {
		sp, err := scanSamlProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, sp)
	}
	return providers, rows.Err()
}

// UpdateSamlProvider updates a provider's mutable fields. The IdP keypair is
// immutable for the lifetime of the registration.
func (s *Store) UpdateSamlProvider(ctx context.Context, sp *models.SamlProvider) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE saml_providers SET name = ?, entity_id = ?, acs_url = ?, slo_url = ?, certificate = ?, metadata_url = ?, name_id_format = ?, is_active = ?
		 WHERE id = ?`,
		sp.Name, sp.EntityID, sp.ACSURL, sp.SLOURL, sp.Certificate, sp.MetadataURL,
		sp.NameIDFormat, sp.IsActive, sp.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to update saml provider: %w", err)
	}
	return requireAffected(result)
}

// DeleteSamlProvider removes a service provider registration.
func (s *Store) DeleteSamlProvider(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM saml_providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete saml provider: %w", err)
	}
	return requireAffected(result)
}

const samlProviderSelect = `SELECT id, name, entity_id, acs_url, COALESCE(slo_url, ''), COALESCE(certificate, ''), COALESCE(metadata_url, ''), name_id_format, is_active, idp_certificate, idp_private_key, created_at
	 FROM saml_providers`

func scanSamlProvider(row rowScanner) (*models.SamlProvider, error) {
	var sp models.SamlProvider
	var createdAt string

	err := row.Scan(&sp.ID, &sp.Name, &sp.EntityID, &sp.ACSURL, &sp.SLOURL, &sp.Certificate,
		&sp.MetadataURL, &sp.NameIDFormat, &sp.IsActive, &sp.IdPCertificate, &sp.IdPPrivateKey, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan saml provider: %w", err)
	}

	sp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sp, nil
}
