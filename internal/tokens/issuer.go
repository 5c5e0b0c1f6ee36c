// Package tokens issues and validates the OAuth2 token family: authorization
// codes, JWT access tokens, opaque refresh tokens, and OIDC ID tokens.
package tokens

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/identity"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/pkg/models"
)

// Grant validation failures. Handlers translate these to invalid_grant.
var (
	ErrInvalidCode    = errors.New("authorization code is invalid, expired, or already used")
	ErrInvalidRefresh = errors.New("refresh token is invalid, expired, or revoked")
	ErrUserInactive   = errors.New("user account is deactivated")
)

// Config carries token lifetimes.
type Config struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
}

// Issuer mints and redeems tokens against persistent state.
type Issuer struct {
	store  *storage.Store
	jwt    *crypto.JWTService
	claims *identity.Provider
	cfg    Config
	log    *logrus.Entry
}

// NewIssuer creates a token issuer.
func NewIssuer(store *storage.Store, jwtService *crypto.JWTService, claims *identity.Provider, cfg Config, log *logrus.Entry) *Issuer {
	return &Issuer{
		store:  store,
		jwt:    jwtService,
		claims: claims,
		cfg:    cfg,
		log:    log,
	}
}

// IssueCode persists a single-use authorization code for an approved request.
func (i *Issuer) IssueCode(ctx context.Context, client *models.Client, userID int64, redirectURI string, scopes []string, nonce string) (*models.AuthorizationCode, error) {
	code := &models.AuthorizationCode{
		ID:          crypto.RandomToken(32),
		ClientID:    client.ClientID,
		UserID:      userID,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		Nonce:       nonce,
		ExpiresAt:   time.Now().Add(i.cfg.AuthCodeTTL),
	}
	if err := i.store.CreateAuthCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// RedeemCode validates an authorization code for the given client and redirect
// URI and revokes it. A code is exchanged exactly once; the revoke happens
// before tokens are issued so a replay can never succeed.
func (i *Issuer) RedeemCode(ctx context.Context, code, clientID, redirectURI string) (*models.AuthorizationCode, error) {
	stored, err := i.store.GetAuthCode(ctx, code)
	if err != nil {
		return nil, ErrInvalidCode
	}
	if stored.Revoked || time.Now().After(stored.ExpiresAt) {
		return nil, ErrInvalidCode
	}
	if stored.ClientID != clientID || stored.RedirectURI != redirectURI {
		return nil, ErrInvalidCode
	}

	if err := i.store.RevokeAuthCode(ctx, code); err != nil {
		return nil, err
	}
	return stored, nil
}

// IssueTokens mints an access token, a chained refresh token, and — when the
// openid scope was granted — an ID token. The JWT header carries the active
// key's kid and the signer matches that key's algorithm.
func (i *Issuer) IssueTokens(ctx context.Context, client *models.Client, user *models.User, scopes []string, nonce string) (*models.TokenResponse, error) {
	now := time.Now()

	access := &models.AccessToken{
		ID:        uuid.NewString(),
		ClientID:  client.ClientID,
		UserID:    user.ID,
		Scopes:    scopes,
		ExpiresAt: now.Add(i.cfg.AccessTokenTTL),
	}
	if err := i.store.CreateAccessToken(ctx, access); err != nil {
		return nil, err
	}

	accessJWT, err := i.jwt.Sign(ctx, jwt.MapClaims{
		"iss":   i.jwt.Issuer(),
		"aud":   client.ClientID,
		"sub":   i.claims.ClaimsFor(user)["sub"],
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   access.ExpiresAt.Unix(),
		"jti":   access.ID,
		"scope": models.JoinScopes(scopes),
	})
	if err != nil {
		return nil, err
	}

	refresh := &models.RefreshToken{
		ID:            crypto.RandomToken(32),
		AccessTokenID: access.ID,
		ExpiresAt:     now.Add(i.cfg.RefreshTokenTTL),
	}
	if err := i.store.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, err
	}

	resp := &models.TokenResponse{
		AccessToken:  accessJWT,
		TokenType:    "Bearer",
		ExpiresIn:    int64(i.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: refresh.ID,
		Scope:        models.JoinScopes(scopes),
	}

	if hasScope(scopes, "openid") {
		idToken, err := i.issueIDToken(ctx, client, user, scopes, nonce, now)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	i.log.WithFields(logrus.Fields{
		"client_id": client.ClientID,
		"user_id":   user.ID,
		"scopes":    models.JoinScopes(scopes),
		"jti":       access.ID,
	}).Info("issued token set")

	return resp, nil
}

// issueIDToken merges scope-filtered identity claims onto the registered
// claims (OIDC Core Section 2).
func (i *Issuer) issueIDToken(ctx context.Context, client *models.Client, user *models.User, scopes []string, nonce string, now time.Time) (string, error) {
	claims := jwt.MapClaims{}
	for name, value := range i.claims.Filter(scopes, i.claims.ClaimsFor(user)) {
		claims[name] = value
	}
	claims["iss"] = i.jwt.Issuer()
	claims["aud"] = client.ClientID
	claims["iat"] = now.Unix()
	claims["nbf"] = now.Unix()
	claims["exp"] = now.Add(i.cfg.AccessTokenTTL).Unix()
	claims["jti"] = uuid.NewString()
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return i.jwt.Sign(ctx, claims)
}

// Refresh rotates a refresh token: the old token is revoked and a fresh
// access/refresh/ID triple is issued with the original grant's scopes. The
// refresh token, its originating access token, and the owning user must all
// still be live.
func (i *Issuer) Refresh(ctx context.Context, client *models.Client, refreshToken string) (*models.TokenResponse, error) {
	rt, err := i.store.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	if rt.Revoked || time.Now().After(rt.ExpiresAt) {
		return nil, ErrInvalidRefresh
	}

	access, err := i.store.GetAccessToken(ctx, rt.AccessTokenID)
	if err != nil || access.Revoked {
		return nil, ErrInvalidRefresh
	}
	if access.ClientID != client.ClientID {
		return nil, ErrInvalidRefresh
	}

	user, err := i.store.GetUser(ctx, access.UserID)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	if !user.Active {
		return nil, ErrUserInactive
	}

	// Rotate before issuing so a concurrent replay of the old token fails.
	if err := i.store.RevokeRefreshToken(ctx, rt.ID); err != nil {
		return nil, err
	}
	if err := i.store.RevokeAccessToken(ctx, access.ID); err != nil {
		return nil, err
	}

	return i.IssueTokens(ctx, client, user, access.Scopes, "")
}

// Revoke logically revokes a token as presented on the wire: the opaque id
// of a refresh token, or the JWT form of an access token (resolved to its
// record through the jti claim). Revoking either side kills the chained
// other. Unknown tokens are a no-op; revocation is idempotent (RFC 7009
// Section 2.2).
func (i *Issuer) Revoke(ctx context.Context, token string) {
	if rt, err := i.store.GetRefreshToken(ctx, token); err == nil {
		_ = i.store.RevokeRefreshToken(ctx, rt.ID)
		_ = i.store.RevokeAccessToken(ctx, rt.AccessTokenID)
		return
	}

	id := token
	if claims, err := i.jwt.Verify(ctx, token); err == nil {
		if jti, _ := claims["jti"].(string); jti != "" {
			id = jti
		}
	}
	at, err := i.store.GetAccessToken(ctx, id)
	if err != nil {
		return
	}
	_ = i.store.RevokeAccessToken(ctx, at.ID)
	if rt, err := i.store.FindRefreshTokenByAccessToken(ctx, at.ID); err == nil {
		_ = i.store.RevokeRefreshToken(ctx, rt.ID)
	}
}

// ValidateAccess verifies a bearer JWT and checks its persisted record. A jti
// with no backing row counts as revoked: absence of proof of validity is
// treated as revocation.
func (i *Issuer) ValidateAccess(ctx context.Context, tokenString string) (*models.AccessToken, error) {
	claims, err := i.jwt.Verify(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, errors.New("token has no jti")
	}

	access, err := i.store.GetAccessToken(ctx, jti)
	if err != nil {
		return nil, errors.New("token has been revoked")
	}
	if access.Revoked || time.Now().After(access.ExpiresAt) {
		return nil, errors.New("token has been revoked")
	}
	return access, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
