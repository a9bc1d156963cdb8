package domain

import "time"

// UserRecord is the persisted identity and credential state of one user.
// Secret-bearing fields hold hashes only.
type UserRecord struct {
	ID                    string
	Name                  string
	CredentialHash        string
	RecoveryQuestion      string
	RecoveryAnswerHash    string
	RefreshTokenHash      string
	RefreshTokenExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasRecovery reports whether a recovery question and answer were configured.
func (u UserRecord) HasRecovery() bool {
	return u.RecoveryQuestion != "" && u.RecoveryAnswerHash != ""
}

// Public strips every secret-bearing field.
func (u UserRecord) Public() PublicIdentity {
	return PublicIdentity{ID: u.ID, Name: u.Name}
}

// PublicIdentity is the only view of a user that leaves the service.
type PublicIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
