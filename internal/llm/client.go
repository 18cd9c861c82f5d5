// Package llm wraps the Anthropic API as Athena's LLM collaborator:
// query expansion (retrieval.QueryExpander), cascade synthesis
// (cascade.Synthesizer), and Stage-B consolidation validation
// (consolidation.Validator). Absent entirely, every caller degrades
// gracefully: query expansion off, Tier 3 disabled, proposals marked
// unvalidated.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/consolidation"
	"github.com/shawkridge/athena/internal/retrieval"
)

// Client is the Anthropic-backed LLM collaborator.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient builds a Client against apiKey (ANTHROPIC_API_KEY in the
// environment takes precedence, matching the rest of the pack's
// Anthropic integrations). Returns apperr.ErrLLMUnavailable if no key
// is available anywhere.
func NewClient(apiKey, model string) (*Client, error) {
	if env := os.Getenv("ANTHROPIC_API_KEY"); env != "" {
		apiKey = env
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no ANTHROPIC_API_KEY configured", apperr.ErrLLMUnavailable)
	}
	if model == "" {
		model = "claude-haiku-4-5"
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}, nil
}

// Expand implements retrieval.QueryExpander: asks the model for n
// alternative phrasings of query, returned as a JSON array of strings.
func (c *Client) Expand(ctx context.Context, query string, n int) ([]string, error) {
	prompt := fmt.Sprintf(expandPromptTemplate, n, query)
	text, err := c.completeWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var variants []string
	if err := json.Unmarshal([]byte(extractJSON(text)), &variants); err != nil {
		return nil, fmt.Errorf("%w: query expansion returned malformed JSON: %v", apperr.ErrLLMUnavailable, err)
	}
	return variants, nil
}

// Synthesize implements cascade.Synthesizer: asks the model to produce
// a grounded answer from hits, carrying planning-phase guidance when
// planningPhase is set.
func (c *Client) Synthesize(ctx context.Context, query string, hits []retrieval.RetrievalHit, planningPhase bool) (string, error) {
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "[%d] (source_ids=%v, layer=%s)\n%s\n\n", i+1, h.Provenance.SourceIDs, h.Provenance.Layer, h.ContentExcerpt)
	}
	mode := "answer the query directly"
	if planningPhase {
		mode = "answer the query and recommend next steps, since the caller is in a planning/refactoring phase"
	}
	prompt := fmt.Sprintf(synthesizePromptTemplate, query, sb.String(), mode)
	return c.completeWithRetry(ctx, prompt)
}

// Validate implements consolidation.Validator: asks the model to
// accept, merge or reject each proposed cluster, grounded in its
// source events, and parses the response against a fixed JSON schema.
// Any proposal absent from a malformed or incomplete response is
// reported back as REJECT by the caller.
func (c *Client) Validate(ctx context.Context, proposals []consolidation.Proposal) ([]consolidation.ValidationResult, error) {
	var sb strings.Builder
	for _, p := range proposals {
		fmt.Fprintf(&sb, "proposal %d (%s): %q\nsource_ids=%v entities=%v cohesion=%.2f\n\n",
			p.Index, p.Kind, p.Content, p.SourceIDs, p.Entities, p.Cohesion)
	}
	prompt := fmt.Sprintf(validatePromptTemplate, sb.String())
	text, err := c.completeOnce(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ProposalIndex int    `json:"proposal_index"`
		Verdict       string `json:"verdict"`
		Reason        string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &raw); err != nil {
		return nil, fmt.Errorf("%w: validation response malformed: %v", apperr.ErrLLMUnavailable, err)
	}
	results := make([]consolidation.ValidationResult, 0, len(raw))
	for _, r := range raw {
		results = append(results, consolidation.ValidationResult{
			ProposalIndex: r.ProposalIndex,
			Verdict:       consolidation.ValidationVerdict(r.Verdict),
			Reason:        r.Reason,
		})
	}
	return results, nil
}

func (c *Client) completeOnce(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if !isRetryable(err) {
			return "", fmt.Errorf("%w: %v", apperr.ErrLLMUnavailable, err)
		}
		return "", fmt.Errorf("%w: %v", apperr.ErrUnavailable, err)
	}
	if len(message.Content) == 0 {
		return "", fmt.Errorf("%w: empty response", apperr.ErrLLMUnavailable)
	}
	block := message.Content[0]
	if block.Type != "text" {
		return "", fmt.Errorf("%w: unexpected block type %q", apperr.ErrLLMUnavailable, block.Type)
	}
	return block.Text, nil
}

// completeWithRetry wraps completeOnce in a short exponential backoff,
// for call sites with no retry of their own (consolidation's Validate
// path is retried by the caller instead).
func (c *Client) completeWithRetry(ctx context.Context, prompt string) (string, error) {
	var out string
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
	err := backoff.Retry(func() error {
		text, err := c.completeOnce(ctx, prompt)
		if err != nil {
			if errors.Is(err, apperr.ErrLLMUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = text
		return nil
	}, policy)
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return "", perm.Err
		}
		return "", err
	}
	return out, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// extractJSON trims a model response down to its first top-level JSON
// value, tolerating the markdown code fences models commonly wrap
// structured output in.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

const expandPromptTemplate = `Generate %d alternative phrasings of the following search query, preserving its meaning but varying vocabulary and structure. Respond with only a JSON array of strings, no other text.

Query: %s`

const synthesizePromptTemplate = `Query: %s

Retrieved context:
%s
Using only the context above, %s. Cite source indices in brackets like [1]. Do not introduce facts the context doesn't support.`

const validatePromptTemplate = `Review the following candidate memory consolidation proposals. For each, decide ACCEPT (promote as-is), MERGE (promote, noting it overlaps prior knowledge), or REJECT (insufficiently grounded or low quality). Respond with only a JSON array of objects shaped {"proposal_index": int, "verdict": "ACCEPT"|"MERGE"|"REJECT", "reason": string}, one per proposal, no other text.

%s`
