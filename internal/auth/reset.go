package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// ResetTokenTTL is how long a password-reset link stays usable.
const ResetTokenTTL = time.Hour

const resetTokenBytes = 32

// NewResetToken returns a random URL-safe token for a reset link together
// with the hash to store. Only the hash is persisted; the raw token goes
// into the email and nowhere else.
func NewResetToken() (raw, hash string, err error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("auth: generating reset token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashResetToken(raw), nil
}

// HashResetToken returns the hex SHA-256 of a raw reset token. A fast hash
// is fine here: the input is 256 random bits, not a guessable password.
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
