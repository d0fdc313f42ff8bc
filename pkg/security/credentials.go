package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
)

// Alphabets for generated credentials. Passwords avoid shell- and
// URL-hostile characters because they end up inside connection strings.
const (
	passwordAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	accessKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
)

// GeneratePassword returns a CSPRNG-derived password of n characters.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("password length must be positive, got %d", n)
	}
	return randomString(passwordAlphabet, n)
}

// GenerateAccessKey returns a 20-character access key identifier.
func GenerateAccessKey() (string, error) {
	return randomString(accessKeyAlphabet, 20)
}

// GenerateSecretKey returns a 40-character secret key.
func GenerateSecretKey() (string, error) {
	return randomString(passwordAlphabet, 40)
}

// GenerateBootstrapToken returns a one-time 32-byte token encoded as
// URL-safe base64. The caller stores only its hash.
func GenerateBootstrapToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate bootstrap token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// GenerateFederationToken returns a long-lived 32-byte token encoded as
// URL-safe base64.
func GenerateFederationToken() (string, error) {
	return GenerateBootstrapToken()
}

// HashToken returns the hex SHA-256 digest of a token. Tokens are stored
// hashed; the plaintext is shown exactly once.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyTokenHash compares a plaintext token against a stored hash in
// constant time.
func VerifyTokenHash(token, storedHash string) bool {
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

func randomString(alphabet string, n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
