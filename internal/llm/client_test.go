package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/apperr"
)

func TestNewClient_NoAPIKey_ReturnsLLMUnavailable(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClient("", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrLLMUnavailable))
}

func TestNewClient_EnvVarTakesPrecedenceOverArgument(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	client, err := NewClient("from-argument", "")
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5", string(client.model))
}

func TestNewClient_DefaultsModelWhenEmpty(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "key")
	client, err := NewClient("", "")
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5", string(client.model))
}

func TestExtractJSON_StripsMarkdownFence(t *testing.T) {
	in := "```json\n[\"a\", \"b\"]\n```"
	assert.Equal(t, `["a", "b"]`, extractJSON(in))
}

func TestExtractJSON_PassesThroughPlainJSON(t *testing.T) {
	in := `{"foo": "bar"}`
	assert.Equal(t, in, extractJSON(in))
}

func TestExtractJSON_TrimsSurroundingWhitespace(t *testing.T) {
	in := "  \n[1,2,3]\n  "
	assert.Equal(t, "[1,2,3]", extractJSON(in))
}
