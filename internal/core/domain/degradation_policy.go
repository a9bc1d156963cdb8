package domain

import "strings"

// DegradationPolicyMode decides what an access check does when the revocation backend cannot answer.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient lets the request through when revocation state is unknown.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict rejects the request when revocation state is unknown.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationPolicy wraps the configured mode.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy defaults to lenient for anything but strict.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises configuration input.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	if strings.EqualFold(strings.TrimSpace(value), string(DegradationPolicyModeStrict)) {
		return DegradationPolicyModeStrict
	}
	return DegradationPolicyModeLenient
}

func (p DegradationPolicy) Mode() DegradationPolicyMode {
	return p.mode
}

// AllowsUnknownRevocation reports whether a token may be accepted when the registry lookup failed.
func (p DegradationPolicy) AllowsUnknownRevocation() bool {
	return p.mode != DegradationPolicyModeStrict
}
