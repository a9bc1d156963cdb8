package domain

import "time"

// EventType names a domain event. Kafka topics are derived from it.
type EventType string

const (
	EventUserRegistered    EventType = "user.registered"
	EventSessionStarted    EventType = "session.started"
	EventSessionRefreshed  EventType = "session.refreshed"
	EventSessionEnded      EventType = "session.ended"
	EventTokenRevoked      EventType = "token.revoked"
	EventCredentialChanged EventType = "credential.changed"
	EventRecoveryGranted   EventType = "recovery.granted"
	EventCredentialReset   EventType = "credential.reset"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	Type() EventType
	Key() string
}

// UserRegisteredEvent is emitted once a new record has been inserted.
type UserRegisteredEvent struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	HasRecovery  bool      `json:"has_recovery"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (e UserRegisteredEvent) Type() EventType { return EventUserRegistered }
func (e UserRegisteredEvent) Key() string     { return e.UserID }

// SessionEvent covers login, refresh and logout transitions.
type SessionEvent struct {
	Kind       EventType `json:"-"`
	UserID     string    `json:"user_id"`
	TokenID    string    `json:"token_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e SessionEvent) Type() EventType { return e.Kind }
func (e SessionEvent) Key() string     { return e.UserID }

// TokenRevokedEvent carries a revocation to every instance of the service.
type TokenRevokedEvent struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	RevokedAt time.Time `json:"revoked_at"`
}

func (e TokenRevokedEvent) Type() EventType { return EventTokenRevoked }
func (e TokenRevokedEvent) Key() string     { return e.JTI }

// Revocation converts the event back into a registry entry.
func (e TokenRevokedEvent) Revocation() TokenRevocation {
	return TokenRevocation{JTI: e.JTI, UserID: e.UserID, ExpiresAt: e.ExpiresAt, RevokedAt: e.RevokedAt}
}

// CredentialEvent covers credential changes, recovery grants and resets.
type CredentialEvent struct {
	Kind           EventType  `json:"-"`
	UserID         string     `json:"user_id"`
	SessionsEnded  bool       `json:"sessions_ended"`
	OccurredAt     time.Time  `json:"occurred_at"`
	GrantExpiresAt *time.Time `json:"grant_expires_at,omitempty"`
}

func (e CredentialEvent) Type() EventType { return e.Kind }
func (e CredentialEvent) Key() string     { return e.UserID }
