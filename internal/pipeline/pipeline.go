// Package pipeline sequences a notebook evaluation: validation, chunking,
// rubric compilation, embedding, evidence gathering and scoring.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/nbgrade/internal/evidence"
	"github.com/ppiankov/nbgrade/internal/extract"
	"github.com/ppiankov/nbgrade/internal/metrics"
	"github.com/ppiankov/nbgrade/internal/model"
	"github.com/ppiankov/nbgrade/internal/score"
	"github.com/ppiankov/nbgrade/internal/semantic"
	"github.com/ppiankov/nbgrade/internal/validate"
)

// Pipeline orchestrates the complete evaluation of one notebook
type Pipeline struct {
	fetcher      *Fetcher
	validator    *validate.Validator
	chunker      *extract.ChunkExtractor
	collab       semantic.Service
	orchestrator *evidence.Orchestrator
	aggregator   *score.Aggregator
	renderer     *Renderer
	logger       *slog.Logger
	metrics      *metrics.Recorder
	config       *model.Config
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the stage logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline that grades through collab
func NewPipeline(cfg *model.Config, collab semantic.Service, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	validator, err := validate.NewValidator(validate.DefaultSampleCells)
	if err != nil {
		return nil, fmt.Errorf("notebook schema: %w", err)
	}

	p := &Pipeline{
		fetcher:    NewFetcher(cfg.Source, cfg.Collaborator.HTTPProxy, cfg.Collaborator.HTTPSProxy, cfg.Collaborator.NoProxy),
		validator:  validator,
		chunker:    extract.NewChunkExtractor(cfg.Chunking),
		collab:     collab,
		aggregator: score.NewAggregator(),
		renderer:   NewRenderer(cfg.Output.IncludeFooter),
		logger:     slog.New(slog.DiscardHandler),
		config:     cfg,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.orchestrator = evidence.NewOrchestrator(collab,
		evidence.WithMaxWorkers(cfg.Concurrency.EvidenceWorkers),
		evidence.WithTopK(cfg.Concurrency.TopK),
		evidence.WithLogger(p.logger),
		evidence.WithMetrics(p.metrics),
	)

	return p, nil
}

// Collaborator returns the semantic service the pipeline grades through
func (p *Pipeline) Collaborator() semantic.Service {
	return p.collab
}

// Renderer returns the report renderer
func (p *Pipeline) Renderer() *Renderer {
	return p.renderer
}

// EvaluateFiles loads both documents from paths or URLs and evaluates them
func (p *Pipeline) EvaluateFiles(ctx context.Context, assignmentLoc, notebookLoc string) (*model.Report, error) {
	start := time.Now()
	timings := &model.Timings{}

	assignmentDoc, err := p.fetcher.Load(ctx, assignmentLoc)
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	notebookDoc, err := p.fetcher.Load(ctx, notebookLoc)
	if err != nil {
		return nil, fmt.Errorf("load notebook: %w", err)
	}

	text, err := extract.AssignmentText(assignmentDoc.Content, assignmentDoc.Name, assignmentDoc.ContentType)
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	p.observe(timings, model.StageFileRead, start)

	return p.run(ctx, text, notebookDoc.Content, timings, start)
}

// Evaluate grades notebookJSON against the assignment text. It returns a
// complete report or exactly one error; UNKNOWN items are not errors.
func (p *Pipeline) Evaluate(ctx context.Context, assignmentText string, notebookJSON []byte) (*model.Report, error) {
	return p.run(ctx, assignmentText, notebookJSON, &model.Timings{}, time.Now())
}

func (p *Pipeline) run(ctx context.Context, assignmentText string, notebookJSON []byte, timings *model.Timings, start time.Time) (report *model.Report, err error) {
	defer func() { p.metrics.CountEvaluation(outcome(err)) }()

	// 1. Validate inputs and extract chunks
	stageStart := time.Now()
	if err := p.validator.ValidateAssignment(assignmentText); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	nb, err := p.validator.ValidateNotebook(notebookJSON)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	chunks := p.chunker.Extract(nb)
	p.observe(timings, model.StageChunkExtraction, stageStart, "chunks", len(chunks))
	if len(chunks) == 0 {
		return nil, &model.EmptyResultError{Stage: model.StageChunkExtraction}
	}

	// 2. Compile rubric
	stageStart = time.Now()
	rubric, err := p.collab.CompileRubric(ctx, assignmentText)
	if err != nil {
		return nil, fmt.Errorf("compile rubric: %w", err)
	}
	p.observe(timings, model.StageRubricCompilation, stageStart, "requirements", len(rubric))
	if len(rubric) == 0 {
		return nil, &model.EmptyResultError{Stage: model.StageRubricCompilation}
	}

	// 3. Embed chunks
	stageStart = time.Now()
	embeddings, err := p.collab.EmbedChunks(ctx, model.ChunkTexts(chunks))
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: %w", &model.CollaboratorError{
			Op:  "embed-chunks",
			Err: fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(embeddings)),
		})
	}
	p.observe(timings, model.StageEmbeddings, stageStart)

	// 4. Gather evidence concurrently
	stageStart = time.Now()
	results := p.orchestrator.Gather(ctx, rubric, chunks, embeddings)
	p.observe(timings, model.StageEvidenceExtraction, stageStart, "unknown", countUnknown(results))

	// 5. Score
	stageStart = time.Now()
	built := p.aggregator.BuildReport(rubric, results)
	p.observe(timings, model.StageReportGeneration, stageStart)

	timings.Total = time.Since(start).Milliseconds()
	built.Timings = timings

	p.logger.Info("evaluation complete",
		"overall_score", built.OverallScore,
		"requirements", len(rubric),
		"total_ms", timings.Total)

	return &built, nil
}

// observe records a stage duration in the timings, metrics and log
func (p *Pipeline) observe(timings *model.Timings, stage string, start time.Time, attrs ...any) {
	d := time.Since(start)
	timings.Set(stage, d)
	p.metrics.ObserveStage(stage, d)
	p.logger.Info("stage complete", append([]any{"stage", stage, "duration_ms", d.Milliseconds()}, attrs...)...)
}

func countUnknown(results []model.EvidenceResult) int {
	n := 0
	for _, r := range results {
		if r.Status == model.StatusUnknown {
			n++
		}
	}
	return n
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case model.IsValidation(err):
		return metrics.OutcomeValidationError
	case model.IsEmptyResult(err):
		return metrics.OutcomeEmptyResult
	case model.IsCollaborator(err):
		return metrics.OutcomeCollaboratorError
	default:
		return metrics.OutcomeError
	}
}
