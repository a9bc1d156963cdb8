package port

// SecretHasher hashes and verifies credentials and recovery answers.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
}
