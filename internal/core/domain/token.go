package domain

import "time"

// TokenPair is the result of a successful login or refresh. It is never persisted;
// only a keyed hash of RefreshToken reaches the credential store.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// Identity is the decoded, verified content of an access token.
type Identity struct {
	UserID    string
	Name      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RecoveryGrant is returned by a correct recovery answer instead of the stored credential.
type RecoveryGrant struct {
	User       PublicIdentity
	ResetToken string
	ExpiresAt  time.Time
}

// TokenRevocation captures an access token that must be rejected before its natural expiry.
type TokenRevocation struct {
	JTI       string
	UserID    string
	ExpiresAt time.Time
	RevokedAt time.Time
}

// IsExpired reports whether the revoked token would fail verification on its own.
func (r TokenRevocation) IsExpired(at time.Time) bool {
	return !r.ExpiresAt.After(at)
}

// TTL returns how long the revocation has to be remembered.
func (r TokenRevocation) TTL(at time.Time) time.Duration {
	if r.IsExpired(at) {
		return 0
	}
	return r.ExpiresAt.Sub(at)
}
