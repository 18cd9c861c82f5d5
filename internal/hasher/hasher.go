// Package hasher computes deterministic content hashes used for
// idempotent dedup during consolidation: build a stable delimited
// string from the fields that define identity, then sha256 it. ID,
// ConsolidationStatus, and ConsolidatedAt are excluded since they are
// assigned after the content exists.
package hasher

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shawkridge/athena/internal/types"
)

// ContentHash hashes every field of e that defines its identity.
// Excludes ID, ConsolidationStatus, ConsolidatedAt.
func ContentHash(e *types.EpisodicEvent) [32]byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s|%d",
		int64(e.ProjectID), e.SessionID, string(e.EventType), string(e.CodeEventType),
		e.Content, string(e.Outcome), e.FilePath, e.Timestamp.UnixNano())
	fmt.Fprintf(&b, "|%s|%s|%s|%s|%s",
		e.Context.Cwd, strings.Join(e.Context.Files, ","), e.Context.Task, e.Context.Phase, e.Context.Branch)
	fmt.Fprintf(&b, "|%s|%s|%s|%s", e.SymbolName, e.SymbolType, e.Language, e.Diff)
	fmt.Fprintf(&b, "|%s|%s", e.GitCommit, e.GitAuthor)
	fmt.Fprintf(&b, "|%d|%d|%d|%d",
		e.Metrics.DurationMs, e.Metrics.FilesChanged, e.Metrics.LinesAdded, e.Metrics.LinesDeleted)
	testPassed := "nil"
	if e.TestPassed != nil {
		testPassed = strconv.FormatBool(*e.TestPassed)
	}
	fmt.Fprintf(&b, "|%s|%s|%s|%s", e.TestName, testPassed, e.ErrorType, e.StackTrace)
	fmt.Fprintf(&b, "|%s|%s|%s",
		canonicalFloatMap(e.Quality.PerformanceMetrics),
		strconv.FormatFloat(e.Quality.CodeQualityScore, 'f', -1, 64),
		strconv.FormatFloat(e.Quality.Confidence, 'f', -1, 64))
	return sha256.Sum256([]byte(b.String()))
}

// canonicalFloatMap renders a float map in sorted-key order so it hashes
// the same regardless of map iteration order.
func canonicalFloatMap(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(m[k], 'f', -1, 64))
	}
	return b.String()
}

// CanonicalString builds a deterministic, order-independent serialization
// of a string-keyed field map, suitable for hashing semantic memories,
// procedures, and other content where field order must not affect the
// resulting hash. Keys are sorted before joining.
func CanonicalString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\x1f') // unit separator, avoids collision with field content
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// Hash sha256-hashes an arbitrary canonical string, e.g. the output of
// CanonicalString.
func Hash(canonical string) [32]byte {
	return sha256.Sum256([]byte(canonical))
}

// HexString renders a content hash as a lowercase hex string for logging
// and storage keys.
func HexString(h [32]byte) string {
	return fmt.Sprintf("%x", h)
}

// EqualHash reports whether two events are content-identical, i.e.
// candidates for dedup during promotion.
func EqualHash(a, b [32]byte) bool {
	return a == b
}
