// Package evidence gathers one judgment per rubric requirement by fanning
// out search and evidence-extraction calls to the semantic collaborator.
package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ppiankov/nbgrade/internal/metrics"
	"github.com/ppiankov/nbgrade/internal/model"
	"github.com/ppiankov/nbgrade/internal/semantic"
)

// DefaultTopK is the number of chunks retrieved per requirement
const DefaultTopK = 3

// Collaborator is the subset of semantic.Service the orchestrator calls
type Collaborator interface {
	SearchChunks(ctx context.Context, query string, embeddings [][]float64, metas []model.ChunkMeta, k int) ([]semantic.SearchResult, error)
	ExtractEvidence(ctx context.Context, requirement string, chunks []string) (semantic.Judgment, error)
}

// Orchestrator runs one task per requirement with bounded concurrency
type Orchestrator struct {
	collab     Collaborator
	maxWorkers int // <= 0 means one slot per requirement
	topK       int
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMaxWorkers bounds concurrent tasks
func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) { o.maxWorkers = n }
}

// WithTopK sets how many chunks each requirement retrieves
func WithTopK(k int) Option {
	return func(o *Orchestrator) { o.topK = k }
}

// WithLogger sets the logger for task failures
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records result statuses
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator over collab
func NewOrchestrator(collab Collaborator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		collab: collab,
		topK:   DefaultTopK,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.topK <= 0 {
		o.topK = DefaultTopK
	}
	return o
}

// Gather returns exactly one EvidenceResult per requirement, in rubric order.
// A failing requirement yields an UNKNOWN result and never affects siblings.
// embeddings must be aligned 1:1 with chunks.
func (o *Orchestrator) Gather(ctx context.Context, rubric []model.Requirement, chunks []model.Chunk, embeddings [][]float64) []model.EvidenceResult {
	results := make([]model.EvidenceResult, len(rubric))
	if len(rubric) == 0 {
		return results
	}

	metas := model.ChunkMetas(chunks)

	slots := o.maxWorkers
	if slots <= 0 || slots > len(rubric) {
		slots = len(rubric)
	}
	semaphore := make(chan struct{}, slots)

	var wg sync.WaitGroup
	for i, req := range rubric {
		wg.Add(1)
		go func(idx int, r model.Requirement) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[idx] = o.fail(r, ctx.Err())
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			res, err := o.evaluate(ctx, r, chunks, embeddings, metas)
			if err != nil {
				results[idx] = o.fail(r, err)
				return
			}
			o.metrics.CountEvidence(string(res.Status))
			results[idx] = res
		}(i, req)
	}

	wg.Wait()

	return results
}

// evaluate runs search then judgment for one requirement
func (o *Orchestrator) evaluate(ctx context.Context, req model.Requirement, chunks []model.Chunk, embeddings [][]float64, metas []model.ChunkMeta) (model.EvidenceResult, error) {
	hits, err := o.collab.SearchChunks(ctx, req.Description, embeddings, metas, o.topK)
	if err != nil {
		return model.EvidenceResult{}, fmt.Errorf("search chunks: %w", err)
	}

	texts := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Index < 0 || hit.Index >= len(chunks) {
			continue
		}
		texts = append(texts, chunks[hit.Index].Text)
	}

	judgment, err := o.collab.ExtractEvidence(ctx, req.Description, texts)
	if err != nil {
		return model.EvidenceResult{}, fmt.Errorf("extract evidence: %w", err)
	}

	return model.EvidenceResult{
		RequirementID: req.ID,
		Status:        model.ParseStatus(string(judgment.Status)),
		Confidence:    judgment.Confidence,
		EvidenceQuote: judgment.EvidenceQuote,
		Reasoning:     judgment.Reasoning,
	}, nil
}

func (o *Orchestrator) fail(req model.Requirement, err error) model.EvidenceResult {
	o.logger.Warn("evidence gathering failed",
		"requirement", req.ID,
		"error", err)
	o.metrics.CountEvidence(string(model.StatusUnknown))
	return model.UnknownEvidence(req.ID, err)
}
