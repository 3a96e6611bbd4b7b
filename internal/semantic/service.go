// Package semantic is the client side of the semantic-evaluation
// collaborator: rubric compilation, chunk embedding, vector search and
// evidence judgment. The collaborator itself is opaque; this package only
// speaks its request/response protocol.
package semantic

import (
	"context"

	"github.com/ppiankov/nbgrade/internal/model"
)

// Service is the semantic-evaluation collaborator.
// Implementations must be safe for concurrent use.
type Service interface {
	// Name identifies the backend, e.g. "http" or "openai"
	Name() string

	// Health reports collaborator liveness
	Health(ctx context.Context) (map[string]any, error)

	// CompileRubric extracts the ordered requirement list from assignment text
	CompileRubric(ctx context.Context, assignmentText string) ([]model.Requirement, error)

	// EmbedChunks returns one vector per input text, in input order
	EmbedChunks(ctx context.Context, texts []string) ([][]float64, error)

	// SearchChunks ranks chunks against query and returns at most k results
	SearchChunks(ctx context.Context, query string, embeddings [][]float64, metas []model.ChunkMeta, k int) ([]SearchResult, error)

	// ExtractEvidence judges whether the candidate chunks satisfy the requirement
	ExtractEvidence(ctx context.Context, requirement string, chunks []string) (Judgment, error)
}

// SearchResult is one ranked chunk returned by SearchChunks
type SearchResult struct {
	Rank  int     `json:"rank"`  // 1-based
	Index int     `json:"index"` // Position in the chunk list
	Score float64 `json:"score"` // Similarity, higher is closer
}

// Judgment is the collaborator's verdict for one requirement
type Judgment struct {
	Status        model.Status
	Confidence    float64
	EvidenceQuote string
	Reasoning     string
}

// judgmentWire is the JSON shape of a judgment on the wire
type judgmentWire struct {
	Status        string  `json:"status"`
	Confidence    float64 `json:"confidence"`
	EvidenceQuote string  `json:"evidence_quote"`
	Reasoning     string  `json:"reasoning"`
}

func (w judgmentWire) judgment() Judgment {
	return Judgment{
		Status:        model.ParseStatus(w.Status),
		Confidence:    clamp01(w.Confidence),
		EvidenceQuote: w.EvidenceQuote,
		Reasoning:     w.Reasoning,
	}
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
