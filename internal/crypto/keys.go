// Package crypto manages the identity provider's signing key lifecycle and
// JWT issuance/verification.
package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"sync"

	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/pkg/models"
)

// Supported JWT signing algorithms and their key parameters.
var algorithmParams = map[string]struct {
	rsaBits int
	curve   elliptic.Curve
}{
	"RS256": {rsaBits: 2048},
	"RS384": {rsaBits: 3072},
	"RS512": {rsaBits: 4096},
	"ES256": {curve: elliptic.P256()},
	"ES384": {curve: elliptic.P384()},
	"ES512": {curve: elliptic.P521()},
}

// SupportedAlgorithm reports whether alg names a supported signing algorithm.
func SupportedAlgorithm(alg string) bool {
	_, ok := algorithmParams[alg]
	return ok
}

// KeyManager owns the set of signing keypairs and the read cache for the
// active key. The cache is invalidated synchronously with any activation
// write, so readers never observe a stale active key after a rotation commits.
type KeyManager struct {
	store            *storage.Store
	defaultAlgorithm string

	mu     sync.RWMutex
	active *models.SigningKeypair
}

// NewKeyManager creates a key manager with the configured default algorithm.
func NewKeyManager(store *storage.Store, defaultAlgorithm string) (*KeyManager, error) {
	if !SupportedAlgorithm(defaultAlgorithm) {
		return nil, fmt.Errorf("unsupported algorithm: %s", defaultAlgorithm)
	}
	return &KeyManager{
		store:            store,
		defaultAlgorithm: defaultAlgorithm,
	}, nil
}

// ActiveKeypair returns the current active keypair, generating one with the
// default algorithm if none exists.
func (m *KeyManager) ActiveKeypair(ctx context.Context) (*models.SigningKeypair, error) {
	m.mu.RLock()
	if m.active != nil {
		key := m.active
		m.mu.RUnlock()
		return key, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another writer may have filled the cache while we waited
	if m.active != nil {
		return m.active, nil
	}

	key, err := m.store.GetActiveSigningKey(ctx)
	if err == storage.ErrNotFound {
		key, err = m.generate(ctx, m.defaultAlgorithm, true)
	}
	if err != nil {
		return nil, err
	}

	m.active = key
	return key, nil
}

// Generate creates and persists a new keypair for the given algorithm. The
// keypair is stored inactive; an administrator activates it explicitly.
func (m *KeyManager) Generate(ctx context.Context, algorithm string) (*models.SigningKeypair, error) {
	return m.generate(ctx, algorithm, false)
}

func (m *KeyManager) generate(ctx context.Context, algorithm string, active bool) (*models.SigningKeypair, error) {
	params, ok := algorithmParams[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}

	var privateKey interface{}
	var err error
	if params.curve != nil {
		privateKey, err = ecdsa.GenerateKey(params.curve, rand.Reader)
	} else {
		privateKey, err = rsa.GenerateKey(rand.Reader, params.rsaBits)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", algorithm, err)
	}

	privatePEM, publicPEM, err := encodeKeypairPEM(privateKey)
	if err != nil {
		return nil, err
	}

	key := &models.SigningKeypair{
		KeyID:      generateKeyID(),
		Algorithm:  algorithm,
		PublicKey:  publicPEM,
		PrivateKey: privatePEM,
		IsActive:   active,
	}

	if err := m.store.CreateSigningKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Activate atomically deactivates all other keys and activates the target.
// Returns storage.ErrNotFound if the key does not exist.
func (m *KeyManager) Activate(ctx context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.ActivateSigningKey(ctx, keyID); err != nil {
		return err
	}
	m.active = nil
	return nil
}

// Delete removes an inactive keypair. Deleting the active keypair fails with
// storage.ErrInvalidState.
func (m *KeyManager) Delete(ctx context.Context, keyID string) error {
	return m.store.DeleteSigningKey(ctx, keyID)
}

// List returns all keypairs.
func (m *KeyManager) List(ctx context.Context) ([]*models.SigningKeypair, error) {
	return m.store.ListSigningKeys(ctx)
}

// Get returns a single keypair by ID.
func (m *KeyManager) Get(ctx context.Context, keyID string) (*models.SigningKeypair, error) {
	return m.store.GetSigningKey(ctx, keyID)
}

// PublicJWKS exports the active keypair's public key in JWKS form.
func (m *KeyManager) PublicJWKS(ctx context.Context) (JWKS, error) {
	key, err := m.ActiveKeypair(ctx)
	if err != nil {
		return JWKS{}, err
	}

	jwk, err := JWKFromKeypair(key)
	if err != nil {
		return JWKS{}, err
	}

	return JWKS{Keys: []JWK{jwk}}, nil
}

// generateKeyID creates a random 128-bit key identifier
func generateKeyID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// encodeKeypairPEM serializes a private key to PKCS#8 PEM and its public half
// to PKIX PEM.
func encodeKeypairPEM(privateKey interface{}) (string, string, error) {
	privateDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})

	var publicKey interface{}
	switch k := privateKey.(type) {
	case *rsa.PrivateKey:
		publicKey = &k.PublicKey
	case *ecdsa.PrivateKey:
		publicKey = &k.PublicKey
	default:
		return "", "", fmt.Errorf("unsupported private key type %T", privateKey)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	return string(privatePEM), string(publicPEM), nil
}

// ParsePrivateKeyPEM parses a PKCS#8 PEM private key.
func ParsePrivateKeyPEM(pemData string) (interface{}, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// ParsePublicKeyPEM parses a PKIX PEM public key.
func ParsePublicKeyPEM(pemData string) (interface{}, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
