package saml

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"

	idpcrypto "github.com/seatworks/seatidp/internal/crypto"
)

const idpCertValidity = 10 * 365 * 24 * time.Hour

// GenerateIdPCredentials creates the per-application signing identity: an
// RSA-2048 key and a self-signed SHA-256 certificate valid for ten years.
// Each SAML application gets its own keypair at registration and keeps it
// for life; there is no rotation, only delete-and-recreate.
// The certificate is returned as bare base64 DER (no PEM armoring), the key
// as PKCS#8 PEM.
func GenerateIdPCredentials(commonName string) (certificate, privateKey string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"SeatIdP"},
		},
		NotBefore:             now,
		NotAfter:              now.Add(idpCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	return base64.StdEncoding.EncodeToString(certDER), string(keyPEM), nil
}

// ParseCertificate parses a stored certificate, accepting either bare base64
// DER or a full PEM block. SP metadata and manual registration both feed
// this, and the two formats are seen in the wild about equally.
func ParseCertificate(stored string) (*x509.Certificate, error) {
	trimmed := strings.TrimSpace(stored)

	if strings.Contains(trimmed, "-----BEGIN") {
		block, _ := pem.Decode([]byte(trimmed))
		if block == nil {
			return nil, fmt.Errorf("no PEM block found")
		}
		return x509.ParseCertificate(block.Bytes)
	}

	// Bare base64, possibly wrapped across lines.
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, trimmed)

	der, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// ParseRSAPrivateKey parses a stored PKCS#8 PEM private key, requiring RSA.
func ParseRSAPrivateKey(stored string) (*rsa.PrivateKey, error) {
	key, err := idpcrypto.ParsePrivateKeyPEM(stored)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not RSA")
	}
	return rsaKey, nil
}
