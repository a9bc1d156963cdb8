package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/auth-session-service/internal/core/domain"
)

const (
	accessAudience = "session-access"
	resetAudience  = "credential-reset"
	resetKeyLabel  = "credential-reset"

	minSecretLength = 16
)

var (
	// ErrTokenInvalid covers malformed tokens, signature failures and wrong token classes.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMismatch is returned when a refresh token is not the one currently stored for its user.
	ErrTokenMismatch = errors.New("token superseded")
)

// AccessTokenClaims is the payload of a signed access token.
type AccessTokenClaims struct {
	UserID string `json:"uid"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into the domain view.
func (c *AccessTokenClaims) Identity() domain.Identity {
	id := domain.Identity{UserID: c.UserID, Name: c.Name, TokenID: c.ID}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// ResetTokenClaims is the payload of a recovery grant.
// Fingerprint binds the grant to the credential hash current at issue time.
type ResetTokenClaims struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fpr"`
	jwt.RegisteredClaims
}

// CodecConfig holds the secrets and lifetimes of every token class.
type CodecConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	ResetSecret   []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
}

// TokenCodec mints and verifies access, refresh and reset tokens. It holds no mutable state.
type TokenCodec struct {
	cfg CodecConfig
	now func() time.Time
}

// NewTokenCodec validates cfg. An empty ResetSecret is derived from RefreshSecret.
func NewTokenCodec(cfg CodecConfig) (*TokenCodec, error) {
	if len(cfg.AccessSecret) < minSecretLength {
		return nil, fmt.Errorf("access secret must be at least %d bytes", minSecretLength)
	}
	if len(cfg.RefreshSecret) < minSecretLength {
		return nil, fmt.Errorf("refresh secret must be at least %d bytes", minSecretLength)
	}
	if subtle.ConstantTimeCompare(cfg.AccessSecret, cfg.RefreshSecret) == 1 {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 10 * time.Minute
	}
	if len(cfg.ResetSecret) == 0 {
		mac := hmac.New(sha256.New, cfg.RefreshSecret)
		mac.Write([]byte(resetKeyLabel))
		cfg.ResetSecret = mac.Sum(nil)
	}

	return &TokenCodec{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the clock used for minting and expiry checks.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// MintAccessToken signs {uid, name, iat, exp, jti} with the access secret.
func (c *TokenCodec) MintAccessToken(userID, name string) (string, *AccessTokenClaims, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil, errors.New("jwt: user id required")
	}

	now := c.now()
	claims := &AccessTokenClaims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{accessAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.AccessTTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.AccessSecret)
	if err != nil {
		return "", nil, fmt.Errorf("jwt: sign access token: %w", err)
	}
	return signed, claims, nil
}

// VerifyAccessToken returns ErrTokenExpired or ErrTokenInvalid, wrapping the parser error for logging.
func (c *TokenCodec) VerifyAccessToken(token string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if err := c.parse(token, claims, c.cfg.AccessSecret, accessAudience); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing uid or jti", ErrTokenInvalid)
	}
	return claims, nil
}

// MintResetToken issues a short-lived grant bound to the record's current credential hash.
func (c *TokenCodec) MintResetToken(record domain.UserRecord) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.cfg.ResetTTL)
	claims := &ResetTokenClaims{
		Name:        record.Name,
		Fingerprint: c.credentialFingerprint(record.CredentialHash),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   record.ID,
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{resetAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.ResetSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign reset token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// VerifyResetToken checks signature, audience and expiry. Callers must still call MatchesCredential.
func (c *TokenCodec) VerifyResetToken(token string) (*ResetTokenClaims, error) {
	claims := &ResetTokenClaims{}
	if err := c.parse(token, claims, c.cfg.ResetSecret, resetAudience); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.Fingerprint == "" {
		return nil, fmt.Errorf("%w: missing subject or fingerprint", ErrTokenInvalid)
	}
	return claims, nil
}

// MatchesCredential reports whether the grant was issued against credentialHash.
// Any credential update changes the hash, which makes a grant single-use.
func (c *TokenCodec) MatchesCredential(claims *ResetTokenClaims, credentialHash string) bool {
	if claims == nil {
		return false
	}
	expected := c.credentialFingerprint(credentialHash)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(claims.Fingerprint)) == 1
}

func (c *TokenCodec) credentialFingerprint(credentialHash string) string {
	mac := hmac.New(sha256.New, c.cfg.ResetSecret)
	mac.Write([]byte(credentialHash))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *TokenCodec) parse(token string, claims jwt.Claims, secret []byte, audience string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}
