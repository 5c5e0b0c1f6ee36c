package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatworks/seatidp/internal/storage"
)

func newTestKeyManager(t *testing.T, alg string) *KeyManager {
	t.Helper()
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	km, err := NewKeyManager(store, alg)
	require.NoError(t, err)
	return km
}

func TestActiveKeypairGeneratedLazily(t *testing.T) {
	km := newTestKeyManager(t, "RS256")
	ctx := context.Background()

	key, err := km.ActiveKeypair(ctx)
	require.NoError(t, err)
	assert.Equal(t, "RS256", key.Algorithm)
	assert.True(t, key.IsActive)
	assert.NotEmpty(t, key.KeyID)

	// Second call returns the same key, not a new one.
	again, err := km.ActiveKeypair(ctx)
	require.NoError(t, err)
	assert.Equal(t, key.KeyID, again.KeyID)
}

func TestActivateSwitchesActiveKey(t *testing.T) {
	km := newTestKeyManager(t, "RS256")
	ctx := context.Background()

	first, err := km.ActiveKeypair(ctx)
	require.NoError(t, err)

	second, err := km.Generate(ctx, "ES256")
	require.NoError(t, err)
	assert.False(t, second.IsActive)

	require.NoError(t, km.Activate(ctx, second.KeyID))

	active, err := km.ActiveKeypair(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.KeyID, active.KeyID)
	assert.NotEqual(t, first.KeyID, active.KeyID)
}

func TestDeleteActiveKeypairRefused(t *testing.T) {
	km := newTestKeyManager(t, "RS256")
	ctx := context.Background()

	key, err := km.ActiveKeypair(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, km.Delete(ctx, key.KeyID), storage.ErrInvalidState)
}

func TestPublicJWKSContainsOnlyActiveKey(t *testing.T) {
	km := newTestKeyManager(t, "ES256")
	ctx := context.Background()

	active, err := km.ActiveKeypair(ctx)
	require.NoError(t, err)
	_, err = km.Generate(ctx, "RS256")
	require.NoError(t, err)

	jwks, err := km.PublicJWKS(ctx)
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, active.KeyID, jwks.Keys[0].Kid)
	assert.Equal(t, "EC", jwks.Keys[0].Kty)
	assert.Equal(t, "ES256", jwks.Keys[0].Alg)
	assert.Empty(t, jwks.Keys[0].N)
}

func TestJWTRoundTrip(t *testing.T) {
	for _, alg := range []string{"RS256", "ES256", "ES512"} {
		t.Run(alg, func(t *testing.T) {
			km := newTestKeyManager(t, alg)
			svc := NewJWTService(km, "https://idp.example")
			ctx := context.Background()

			now := time.Now()
			tokenString, err := svc.Sign(ctx, jwt.MapClaims{
				"iss": "https://idp.example",
				"sub": "42",
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			})
			require.NoError(t, err)

			claims, err := svc.Verify(ctx, tokenString)
			require.NoError(t, err)
			assert.Equal(t, "42", claims["sub"])
		})
	}
}

func TestJWTHeaderCarriesKeyID(t *testing.T) {
	km := newTestKeyManager(t, "RS256")
	svc := NewJWTService(km, "https://idp.example")
	ctx := context.Background()

	active, err := km.ActiveKeypair(ctx)
	require.NoError(t, err)

	tokenString, err := svc.Sign(ctx, jwt.MapClaims{
		"iss": "https://idp.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	require.NoError(t, err)
	assert.Equal(t, active.KeyID, parsed.Header["kid"])
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	km := newTestKeyManager(t, "RS256")
	svc := NewJWTService(km, "https://idp.example")
	ctx := context.Background()

	tokenString, err := svc.Sign(ctx, jwt.MapClaims{
		"iss": "https://evil.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	_, err = svc.Verify(ctx, tokenString)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	km := newTestKeyManager(t, "RS256")
	svc := NewJWTService(km, "https://idp.example")
	ctx := context.Background()

	// Beyond the 60 second leeway.
	tokenString, err := svc.Sign(ctx, jwt.MapClaims{
		"iss": "https://idp.example",
		"exp": time.Now().Add(-5 * time.Minute).Unix(),
	})
	require.NoError(t, err)

	_, err = svc.Verify(ctx, tokenString)
	assert.Error(t, err)
}

func TestVerifyOldKeyAfterRotation(t *testing.T) {
	// Rotation must not break verification of tokens signed by the old key
	// while it still exists: the kid lookup finds it.
	km := newTestKeyManager(t, "RS256")
	svc := NewJWTService(km, "https://idp.example")
	ctx := context.Background()

	tokenString, err := svc.Sign(ctx, jwt.MapClaims{
		"iss": "https://idp.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	next, err := km.Generate(ctx, "ES256")
	require.NoError(t, err)
	require.NoError(t, km.Activate(ctx, next.KeyID))

	_, err = svc.Verify(ctx, tokenString)
	assert.NoError(t, err)
}

func TestSupportedAlgorithm(t *testing.T) {
	assert.True(t, SupportedAlgorithm("RS256"))
	assert.True(t, SupportedAlgorithm("ES512"))
	assert.False(t, SupportedAlgorithm("HS256"))
	assert.False(t, SupportedAlgorithm("none"))
}

func TestJWKPublicKeyRoundTrip(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	rsaJWK := JWKFromRSAPublicKey(&rsaKey.PublicKey, "kid-rsa", "RS256")
	require.NoError(t, ValidateJWK(rsaJWK))
	pub, err := rsaJWK.ToPublicKey()
	require.NoError(t, err)
	assert.True(t, rsaKey.PublicKey.Equal(pub.(*rsa.PublicKey)))

	ecJWK := JWKFromECPublicKey(&ecKey.PublicKey, "kid-ec", "ES256")
	require.NoError(t, ValidateJWK(ecJWK))
	pub, err = ecJWK.ToPublicKey()
	require.NoError(t, err)
	assert.True(t, ecKey.PublicKey.Equal(pub.(*ecdsa.PublicKey)))
}

func TestJWKValidationRejectsIncompleteKeys(t *testing.T) {
	assert.Error(t, ValidateJWK(JWK{}))
	assert.Error(t, ValidateJWK(JWK{Kty: "RSA", N: "abc"}))
	assert.Error(t, ValidateJWK(JWK{Kty: "EC", Crv: "P-256"}))
	assert.Error(t, ValidateJWK(JWK{Kty: "oct"}))

	oct := JWK{Kty: "oct"}
	_, err := oct.ToPublicKey()
	assert.Error(t, err)
}

func TestSecretHashing(t *testing.T) {
	secret := RandomToken(32)
	assert.Len(t, secret, 64)

	hash := HashSecret(secret)
	assert.True(t, VerifySecret(secret, hash))
	assert.False(t, VerifySecret(secret+"x", hash))
	assert.False(t, VerifySecret("", hash))
}
