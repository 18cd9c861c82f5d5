package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultProfile_PassesThrough(t *testing.T) {
	p := DefaultProfile()
	assert.Equal(t, "alice@example.com", p.Apply("email", "alice@example.com"))
}

func TestApply_Truncate(t *testing.T) {
	p := NewProfile("t", nil, map[string]FieldPolicy{
		"content": {Action: ActionTruncate, TruncateToN: 5},
	}, ActionPassThrough)
	assert.Equal(t, "hello", p.Apply("content", "hello world"))
}

func TestApply_Hash(t *testing.T) {
	p := NewProfile("t", nil, map[string]FieldPolicy{
		"email": {Action: ActionHash},
	}, ActionPassThrough)
	h1 := p.Apply("email", "alice@example.com")
	h2 := p.Apply("email", "alice@example.com")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestApply_Redact(t *testing.T) {
	p := NewProfile("t", nil, map[string]FieldPolicy{
		"ssn": {Action: ActionRedact},
	}, ActionPassThrough)
	assert.Equal(t, "[REDACTED]", p.Apply("ssn", "123-45-6789"))
}

func TestApply_TokenizeIsDeterministicAndDistinct(t *testing.T) {
	p := NewProfile("t", []byte("key"), map[string]FieldPolicy{
		"author": {Action: ActionTokenize},
	}, ActionPassThrough)

	t1 := p.Apply("author", "alice")
	t2 := p.Apply("author", "alice")
	t3 := p.Apply("author", "bob")

	assert.Equal(t, t1, t2)
	assert.NotEqual(t, t1, t3)
	assert.Contains(t, t1, "tok_")
}
