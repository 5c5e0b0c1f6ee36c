// Package models contains shared data structures used across the identity provider.
package models

import (
	"strings"
	"time"
)

// User is the host-directory projection of an account. Identity claims are
// derived from it per request and never persisted.
type User struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	PasswordHash    string     `json:"-"`
	Admin           bool       `json:"admin"`
	Active          bool       `json:"active"`
	MainCharacterID *int64     `json:"main_character_id,omitempty"`
	CharacterName   string     `json:"character_name,omitempty"`
	CorporationID   *int64     `json:"corporation_id,omitempty"`
	AllianceID      *int64     `json:"alliance_id,omitempty"`
	Squads          []string   `json:"squads"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// Client is a registered OAuth2 relying party.
type Client struct {
	ClientID      string    `json:"client_id"`
	SecretHash    string    `json:"-"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	RedirectURIs  []string  `json:"redirect_uris"`
	AllowedScopes []string  `json:"allowed_scopes"`
	IsActive      bool      `json:"is_active"`
	SkipConsent   bool      `json:"skip_consent"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether the client may be granted the given scope.
func (c *Client) AllowsScope(scope string) bool {
	for _, s := range c.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AuthorizationCode is a single-use grant tying a user approval to a client.
type AuthorizationCode struct {
	ID          string
	ClientID    string
	UserID      int64
	RedirectURI string
	Scopes      []string
	Nonce       string
	Revoked     bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// AccessToken is the persisted record backing an issued JWT; the JWT's jti
// claim carries the ID.
type AccessToken struct {
	ID        string
	ClientID  string
	UserID    int64
	Scopes    []string
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RefreshToken is chained to the access token it was issued alongside.
type RefreshToken struct {
	ID            string
	AccessTokenID string
	Revoked       bool
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// SigningKeypair holds one JWT signing key. At most one keypair is active at
// any time; the active keypair must not be deleted.
type SigningKeypair struct {
	KeyID      string     `json:"key_id"`
	Algorithm  string     `json:"algorithm"`
	PublicKey  string     `json:"public_key"`
	PrivateKey string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SamlProvider is a registered SAML 2.0 service provider, together with the
// per-application keypair this IdP signs assertions for it with.
type SamlProvider struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	EntityID       string    `json:"entity_id"`
	ACSURL         string    `json:"acs_url"`
	SLOURL         string    `json:"slo_url,omitempty"`
	Certificate    string    `json:"certificate,omitempty"`
	MetadataURL    string    `json:"metadata_url,omitempty"`
	NameIDFormat   string    `json:"name_id_format"`
	IsActive       bool      `json:"is_active"`
	IdPCertificate string    `json:"idp_certificate"`
	IdPPrivateKey  string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// PendingAuthorization is server-side consent state between the authorize
// request and the user's approval, keyed by an opaque browser cookie.
type PendingAuthorization struct {
	ID          string
	ClientID    string
	UserID      int64
	RedirectURI string
	Scopes      []string
	State       string
	Nonce       string
	ExpiresAt   time.Time
}

// Session maps a browser cookie to an authenticated user.
type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenResponse is the OAuth2 token endpoint success body (RFC 6749 Section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// DiscoveryDocument is the OIDC provider metadata (OIDC Discovery 1.0).
type DiscoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	RevocationEndpoint               string   `json:"revocation_endpoint,omitempty"`
	ScopesSupported                  []string `json:"scopes_supported"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	ResponseModesSupported           []string `json:"response_modes_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// JoinScopes renders a scope set as the space-delimited wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// SplitScopes parses the space-delimited wire form, dropping empty entries.
func SplitScopes(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
