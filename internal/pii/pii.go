// Package pii implements the per-field PII policy engine selected by the
// pii_policy_profile config setting. The actual detection ruleset is an
// external collaborator; this package owns only the deterministic
// field-level transform once a field has been flagged, using the
// familiar "map of string to small config struct, applied by a
// registry" shape.
package pii

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Action is the transform applied to a field classified as PII.
type Action string

const (
	ActionPassThrough Action = "PASS_THROUGH"
	ActionTruncate    Action = "TRUNCATE"
	ActionHash        Action = "HASH"
	ActionTokenize    Action = "TOKENIZE"
	ActionRedact      Action = "REDACT"
)

// FieldPolicy configures the action taken for one field name.
type FieldPolicy struct {
	Action       Action
	TruncateToN  int // used only when Action == ActionTruncate
}

// Profile is a named collection of per-field policies, selected at boot
// by the pii_policy_profile config key.
type Profile struct {
	Name     string
	Fields   map[string]FieldPolicy
	Default  Action // applied to fields absent from Fields
	tokenKey []byte // HMAC key for deterministic TOKENIZE
}

// NewProfile builds a Profile. tokenKey seeds deterministic tokenization
// so the same raw value always maps to the same token within a profile,
// without the token being reversible.
func NewProfile(name string, tokenKey []byte, fields map[string]FieldPolicy, defaultAction Action) *Profile {
	if fields == nil {
		fields = map[string]FieldPolicy{}
	}
	return &Profile{Name: name, Fields: fields, Default: defaultAction, tokenKey: tokenKey}
}

// DefaultProfile passes every field through unmodified. Used when
// pii_policy_profile is unset; the classifier collaborator is expected
// to supply a stricter profile in production deployments.
func DefaultProfile() *Profile {
	return NewProfile("default", nil, nil, ActionPassThrough)
}

// Apply transforms value according to the policy for fieldName.
func (p *Profile) Apply(fieldName, value string) string {
	policy, ok := p.Fields[fieldName]
	action := p.Default
	if ok {
		action = policy.Action
	}

	switch action {
	case ActionPassThrough:
		return value
	case ActionTruncate:
		n := policy.TruncateToN
		if n <= 0 || n >= len(value) {
			return value
		}
		return value[:n]
	case ActionHash:
		sum := sha256.Sum256([]byte(value))
		return hex.EncodeToString(sum[:])
	case ActionTokenize:
		return p.tokenize(fieldName, value)
	case ActionRedact:
		return "[REDACTED]"
	default:
		return value
	}
}

// tokenize derives a deterministic, non-reversible token from fieldName
// and value using HMAC-SHA256, so repeated occurrences of the same raw
// value resolve to the same token within a profile.
func (p *Profile) tokenize(fieldName, value string) string {
	mac := hmac.New(sha256.New, p.tokenKey)
	fmt.Fprintf(mac, "%s:%s", fieldName, value)
	return "tok_" + hex.EncodeToString(mac.Sum(nil))[:24]
}
