package types

// MetaMemoryEntry holds statistics and gaps about the memory system
// itself, attached to a specific layer+id via SubjectRef.
type MetaMemoryEntry struct {
	ID               ID
	ProjectID        ID
	Subject          SubjectRef
	QualityBaseline  float64
	ObservedQuality  float64
	Contradictions   []Contradiction
	Uncertainties    []string
	ExpertiseScore   float64 // 0..1
}

// Contradiction pairs two semantic memories whose content appears to
// conflict under the contradiction predicate.
type Contradiction struct {
	MemoryAID ID
	MemoryBID ID
	Reason    string
}

// GapReport summarizes meta-memory's view of coverage quality for a
// project.
type GapReport struct {
	Contradictions []Contradiction
	Uncertainties  []string
	Ambiguities    []string
	CoverageScore  float64 // 0..1
}

// LayerQualityBaseline gives the default source_quality weight used by
// the hybrid retrieval confidence formula for hits from a given layer,
// absent a more specific observed-quality override.
var LayerQualityBaseline = map[Layer]float64{
	LayerEpisodic:    0.85,
	LayerSemantic:    0.80,
	LayerProcedural:  0.75,
	LayerGraph:       0.70,
	LayerProspective: 0.65,
	LayerMeta:        0.70,
}
