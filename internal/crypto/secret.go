package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// RandomToken returns a hex-encoded random string of 2*n characters.
func RandomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

// HashSecret returns the SHA-256 hex digest of a secret. Client secrets and
// admin tokens are stored in this form, never in plaintext.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifySecret compares a plaintext secret against a stored digest in
// constant time.
func VerifySecret(secret, storedHash string) bool {
	digest := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}
