package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/arklim/auth-session-service/internal/core/domain"
)

// refreshTokenBytes gives 256 bits of entropy per refresh token.
const refreshTokenBytes = 32

// GenerateSecureToken returns a base64 URL-safe random string using the specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RefreshToken is a freshly minted opaque refresh token. Only Hash is persisted.
type RefreshToken struct {
	Value     string
	Hash      string
	ExpiresAt time.Time
}

// MintRefreshToken returns "<userID>.<random>" together with its keyed hash.
func (c *TokenCodec) MintRefreshToken(userID string) (RefreshToken, error) {
	if strings.TrimSpace(userID) == "" || strings.Contains(userID, ".") {
		return RefreshToken{}, fmt.Errorf("refresh token: invalid user id %q", userID)
	}

	secret, err := GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return RefreshToken{}, err
	}

	value := userID + "." + secret
	return RefreshToken{
		Value:     value,
		Hash:      c.HashRefreshToken(value),
		ExpiresAt: c.now().Add(c.cfg.RefreshTTL),
	}, nil
}

// HashRefreshToken computes the hex HMAC-SHA256 stored in place of the token.
func (c *TokenCodec) HashRefreshToken(token string) string {
	mac := hmac.New(sha256.New, c.cfg.RefreshSecret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseRefreshToken extracts the user id a refresh token claims to belong to.
func ParseRefreshToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	idx := strings.LastIndexByte(token, '.')
	if idx <= 0 || idx == len(token)-1 {
		return "", fmt.Errorf("%w: malformed refresh token", ErrTokenInvalid)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token[idx+1:])
	if err != nil || len(raw) != refreshTokenBytes {
		return "", fmt.Errorf("%w: malformed refresh token", ErrTokenInvalid)
	}

	return token[:idx], nil
}

// VerifyRefreshToken checks that token is well-formed, belongs to record, equals the stored
// active token and has not passed the stored expiry.
func (c *TokenCodec) VerifyRefreshToken(token string, record domain.UserRecord) error {
	userID, err := ParseRefreshToken(token)
	if err != nil {
		return err
	}
	if userID != record.ID {
		return fmt.Errorf("%w: refresh token issued to another user", ErrTokenInvalid)
	}
	if record.RefreshTokenHash == "" {
		return fmt.Errorf("%w: no active refresh token", ErrTokenMismatch)
	}

	presented := c.HashRefreshToken(strings.TrimSpace(token))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(record.RefreshTokenHash)) != 1 {
		return ErrTokenMismatch
	}

	if record.RefreshTokenExpiresAt == nil || !record.RefreshTokenExpiresAt.After(c.now()) {
		return ErrTokenExpired
	}

	return nil
}
