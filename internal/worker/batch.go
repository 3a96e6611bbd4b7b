package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/nbgrade/internal/model"
)

// Evaluator grades one notebook against one assignment
type Evaluator interface {
	EvaluateFiles(ctx context.Context, assignmentLoc, notebookLoc string) (*model.Report, error)
}

// EvaluateJob grades one notebook of a batch
type EvaluateJob struct {
	Index      int
	Assignment string
	Notebook   string
	Evaluator  Evaluator
}

// Execute runs the evaluation
func (j *EvaluateJob) Execute(ctx context.Context) Result {
	report, err := j.Evaluator.EvaluateFiles(ctx, j.Assignment, j.Notebook)
	return &EvaluationResult{
		Index:    j.Index,
		Notebook: j.Notebook,
		Report:   report,
		Error:    err,
	}
}

// EvaluationResult is the outcome for one notebook
type EvaluationResult struct {
	Index    int
	Notebook string
	Report   *model.Report
	Error    error
}

// GetError returns the evaluation error, if any
func (r *EvaluationResult) GetError() error {
	return r.Error
}

// BatchProcessor grades many notebooks against the same assignment
type BatchProcessor struct {
	evaluator   Evaluator
	concurrency int
}

// NewBatchProcessor creates a batch processor running concurrency evaluations at once
func NewBatchProcessor(evaluator Evaluator, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		evaluator:   evaluator,
		concurrency: concurrency,
	}
}

// ProcessNotebooks evaluates every notebook and returns results in input order.
// A notebook that was never run because ctx ended gets ctx's error.
func (b *BatchProcessor) ProcessNotebooks(ctx context.Context, assignment string, notebooks []string) []*EvaluationResult {
	if len(notebooks) == 0 {
		return []*EvaluationResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, nb := range notebooks {
		pool.Submit(&EvaluateJob{
			Index:      i,
			Assignment: assignment,
			Notebook:   nb,
			Evaluator:  b.evaluator,
		})
	}

	ordered := make([]*EvaluationResult, len(notebooks))
	for _, result := range pool.Wait() {
		r := result.(*EvaluationResult)
		ordered[r.Index] = r
	}

	for i, r := range ordered {
		if r == nil {
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("evaluation not run")
			}
			ordered[i] = &EvaluationResult{Index: i, Notebook: notebooks[i], Error: err}
		}
	}

	return ordered
}

// ProcessFile reads notebook locations from a file and evaluates them
func (b *BatchProcessor) ProcessFile(ctx context.Context, assignment, listPath string) ([]*EvaluationResult, error) {
	notebooks, err := ReadLocationsFromFile(listPath)
	if err != nil {
		return nil, fmt.Errorf("read notebook list: %w", err)
	}

	return b.ProcessNotebooks(ctx, assignment, notebooks), nil
}

// ReadLocationsFromFile reads one path or URL per line, skipping blanks,
// '#' comments and duplicates
func ReadLocationsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var locations []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			locations = append(locations, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return locations, nil
}
