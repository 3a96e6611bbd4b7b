package model

import "time"

// Report is the scored evaluation returned to the caller
type Report struct {
	OverallScore         float64             `json:"overall_score"` // 0..100, one decimal
	Breakdown            Breakdown           `json:"breakdown"`
	PerRequirementStatus []RequirementStatus `json:"per_requirement_status"`
	Timestamp            time.Time           `json:"timestamp"`

	Timings *Timings `json:"_timings,omitempty"` // Advisory stage durations, never part of scoring
}

// Breakdown aggregates requirement outcomes
type Breakdown struct {
	OverallScore        float64 `json:"overall_score"`
	RequirementsMet     int     `json:"requirements_met"`
	RequirementsPartial int     `json:"requirements_partial"`
	RequirementsMissing int     `json:"requirements_missing"` // FAIL or UNKNOWN
	CriticalFailures    int     `json:"critical_failures"`    // Critical requirements that are missing
}

// RequirementStatus is the report entry for a single rubric item
type RequirementStatus struct {
	RequirementID  string  `json:"requirement_id"`
	Description    string  `json:"description"`
	Category       string  `json:"category"`
	Status         Status  `json:"status"`
	Confidence     float64 `json:"confidence"`
	EvidenceQuote  string  `json:"evidence_quote"`
	Feedback       string  `json:"feedback"` // The judge's reasoning
	PointsEarned   float64 `json:"points_earned"`
	PointsPossible float64 `json:"points_possible"`
}

// Timings holds per-stage wall-clock durations in milliseconds
type Timings struct {
	FileRead           int64 `json:"file_read_ms"`
	ChunkExtraction    int64 `json:"chunk_extraction_ms"`
	RubricCompilation  int64 `json:"rubric_compilation_ms"`
	Embeddings         int64 `json:"embeddings_ms"`
	EvidenceExtraction int64 `json:"evidence_extraction_ms"`
	ReportGeneration   int64 `json:"report_generation_ms"`
	Total              int64 `json:"total_ms"`
}

// Stage names used for timing, logging and metrics
const (
	StageFileRead           = "file_read"
	StageChunkExtraction    = "chunk_extraction"
	StageRubricCompilation  = "rubric_compilation"
	StageEmbeddings         = "embeddings"
	StageEvidenceExtraction = "evidence_extraction"
	StageReportGeneration   = "report_generation"
)

// Set stores the duration of a named stage
func (t *Timings) Set(stage string, d time.Duration) {
	ms := d.Milliseconds()
	switch stage {
	case StageFileRead:
		t.FileRead = ms
	case StageChunkExtraction:
		t.ChunkExtraction = ms
	case StageRubricCompilation:
		t.RubricCompilation = ms
	case StageEmbeddings:
		t.Embeddings = ms
	case StageEvidenceExtraction:
		t.EvidenceExtraction = ms
	case StageReportGeneration:
		t.ReportGeneration = ms
	}
}
