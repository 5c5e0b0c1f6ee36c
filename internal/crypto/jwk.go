package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/seatworks/seatidp/pkg/models"
)

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"`           // Key Type
	Use string `json:"use,omitempty"` // Public Key Use
	Kid string `json:"kid,omitempty"` // Key ID
	Alg string `json:"alg,omitempty"` // Algorithm

	// RSA specific
	N string `json:"n,omitempty"` // Modulus
	E string `json:"e,omitempty"` // Exponent

	// EC specific
	Crv string `json:"crv,omitempty"` // Curve
	X   string `json:"x,omitempty"`   // X Coordinate
	Y   string `json:"y,omitempty"`   // Y Coordinate
}

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKFromKeypair exports the public half of a stored keypair as a JWK.
func JWKFromKeypair(key *models.SigningKeypair) (JWK, error) {
	publicKey, err := ParsePublicKeyPEM(key.PublicKey)
	if err != nil {
		return JWK{}, err
	}

	switch pub := publicKey.(type) {
	case *rsa.PublicKey:
		return JWKFromRSAPublicKey(pub, key.KeyID, key.Algorithm), nil
	case *ecdsa.PublicKey:
		return JWKFromECPublicKey(pub, key.KeyID, key.Algorithm), nil
	default:
		return JWK{}, fmt.Errorf("unsupported public key type %T", publicKey)
	}
}

// JWKFromRSAPublicKey creates a JWK from an RSA public key
func JWKFromRSAPublicKey(pub *rsa.PublicKey, kid, alg string) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: alg,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// JWKFromECPublicKey creates a JWK from an EC public key
func JWKFromECPublicKey(pub *ecdsa.PublicKey, kid, alg string) JWK {
	var crv string
	switch pub.Curve {
	case elliptic.P256():
		crv = "P-256"
	case elliptic.P384():
		crv = "P-384"
	case elliptic.P521():
		crv = "P-521"
	}

	// Coordinates are fixed-width per RFC 7518 Section 6.2.1
	size := (pub.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	return JWK{
		Kty: "EC",
		Use: "sig",
		Kid: kid,
		Alg: alg,
		Crv: crv,
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}
}

// ToPublicKey converts a JWK to a Go public key
func (jwk *JWK) ToPublicKey() (interface{}, error) {
	switch jwk.Kty {
	case "RSA":
		return jwk.toRSAPublicKey()
	case "EC":
		return jwk.toECPublicKey()
	default:
		return nil, fmt.Errorf("unsupported key type: %s", jwk.Kty)
	}
}

func (jwk *JWK) toRSAPublicKey() (*rsa.PublicKey, error) {
	if jwk.N == "" || jwk.E == "" {
		return nil, errors.New("missing RSA key parameters")
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := 0
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{N: n, E: e}, nil
}

func (jwk *JWK) toECPublicKey() (*ecdsa.PublicKey, error) {
	if jwk.X == "" || jwk.Y == "" || jwk.Crv == "" {
		return nil, errors.New("missing EC key parameters")
	}

	var curve elliptic.Curve
	switch jwk.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %s", jwk.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}

	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// ValidateJWK performs basic validation on a JWK
func ValidateJWK(jwk JWK) error {
	if jwk.Kty == "" {
		return errors.New("missing key type (kty)")
	}

	switch jwk.Kty {
	case "RSA":
		if jwk.N == "" || jwk.E == "" {
			return errors.New("RSA key missing n or e parameter")
		}
	case "EC":
		if jwk.Crv == "" || jwk.X == "" || jwk.Y == "" {
			return errors.New("EC key missing crv, x, or y parameter")
		}
	default:
		return fmt.Errorf("unsupported key type: %s", jwk.Kty)
	}

	return nil
}
