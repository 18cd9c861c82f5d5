package types

import "time"

// MemoryType classifies a semantic memory's epistemic kind.
type MemoryType string

const (
	MemoryFact       MemoryType = "FACT"
	MemoryConcept    MemoryType = "CONCEPT"
	MemoryRelation   MemoryType = "RELATION"
	MemoryConstraint MemoryType = "CONSTRAINT"
)

// MaxSemanticContentBytes is the invariant cap on SemanticMemory.Content.
const MaxSemanticContentBytes = 16 * 1024

// SemanticMemory is a consolidated fact or concept, embedded for hybrid
// retrieval. Every semantic memory must cite at least one source episodic
// event, unless explicitly marked derived (empty SourceEventIDs with
// DerivedFromID set).
type SemanticMemory struct {
	ID              ID
	ProjectID       ID
	Content         string // <= 16 KiB
	Embedding       []float32
	MemoryType      MemoryType
	SourceEventIDs  []ID
	DerivedFromID   ID // 0 if not derived from another memory
	Confidence      float64
	CreatedAt       time.Time
	LastAccessed    time.Time
	AccessCount     int64
	LexicalToken    string // derived index token, not user-visible
}

// IsDerived reports whether the memory was promoted without a direct
// episodic citation (e.g. inferred from other semantic memories).
func (m *SemanticMemory) IsDerived() bool {
	return len(m.SourceEventIDs) == 0 && m.DerivedFromID != 0
}
