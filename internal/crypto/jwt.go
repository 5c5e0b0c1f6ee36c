package crypto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/seatworks/seatidp/pkg/models"
)

// SigningMethodFor maps an algorithm name to its JWT signing method. The
// signer is always chosen by the key's algorithm, never hardcoded to one
// family.
func SigningMethodFor(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "RS256":
		return jwt.SigningMethodRS256, nil
	case "RS384":
		return jwt.SigningMethodRS384, nil
	case "RS512":
		return jwt.SigningMethodRS512, nil
	case "ES256":
		return jwt.SigningMethodES256, nil
	case "ES384":
		return jwt.SigningMethodES384, nil
	case "ES512":
		return jwt.SigningMethodES512, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", alg)
	}
}

// JWTService signs and verifies JWTs against the key manager's keys.
type JWTService struct {
	keys   *KeyManager
	issuer string
}

// NewJWTService creates a new JWT service
func NewJWTService(keys *KeyManager, issuer string) *JWTService {
	return &JWTService{
		keys:   keys,
		issuer: issuer,
	}
}

// Issuer returns the configured issuer URL.
func (s *JWTService) Issuer() string {
	return s.issuer
}

// Sign signs the claims with the active keypair. The header carries the key's
// kid and the signing method matches the key's algorithm.
func (s *JWTService) Sign(ctx context.Context, claims jwt.MapClaims) (string, error) {
	key, err := s.keys.ActiveKeypair(ctx)
	if err != nil {
		return "", err
	}

	method, err := SigningMethodFor(key.Algorithm)
	if err != nil {
		return "", err
	}

	privateKey, err := ParsePrivateKeyPEM(key.PrivateKey)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = key.KeyID

	return token.SignedString(privateKey)
}

// Verify parses and verifies a token issued by this service. The verification
// key is selected by the token's kid; an unknown kid falls back to the active
// key. Time-bound claims get a 60 second leeway.
func (s *JWTService) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		alg, _ := token.Header["alg"].(string)
		if _, err := SigningMethodFor(alg); err != nil {
			return nil, err
		}

		kid, _ := token.Header["kid"].(string)
		key, err := s.lookupKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		if key.Algorithm != alg {
			return nil, fmt.Errorf("algorithm mismatch for key %s", kid)
		}

		return ParsePublicKeyPEM(key.PublicKey)
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithLeeway(60*time.Second),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims format")
	}
	return claims, nil
}

func (s *JWTService) lookupKey(ctx context.Context, kid string) (*models.SigningKeypair, error) {
	if kid == "" {
		return s.keys.ActiveKeypair(ctx)
	}
	key, err := s.keys.Get(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("unknown key id %s", kid)
	}
	return key, nil
}
