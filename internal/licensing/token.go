package licensing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenPrefix marks all Gatekey license tokens.
	TokenPrefix = "gk_"
	// tokenBytes is the random payload size; 32 bytes = 64 hex chars.
	tokenBytes = 32

	// SentinelTestToken is accepted by verification only in test mode,
	// without touching storage.
	SentinelTestToken = "TEST-TOKEN-FOR-DEVELOPMENT"

	// TestCode is the pure-bypass purchase code: in test mode it yields the
	// sentinel token and never creates a record.
	TestCode = "TEST-CODE"
	// MockCodePrefix marks purchase codes that fabricate a license record
	// with placeholder metadata in test mode.
	MockCodePrefix = "MOCK-"
)

// GenerateToken returns a new random opaque bearer token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(buf), nil
}

// HashToken computes the one-way adaptive hash stored in place of the token.
// bcrypt keeps exfiltrated hashes resistant to offline brute force.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// TokenMatchesHash tests a presented token against a stored hash using
// bcrypt's own comparison, never a fast string equality.
func TokenMatchesHash(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
