package evidence

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/nbgrade/internal/metrics"
	"github.com/ppiankov/nbgrade/internal/model"
	"github.com/ppiankov/nbgrade/internal/semantic"
)

type fakeCollaborator struct {
	mu        sync.Mutex
	searchFn  func(query string, k int) ([]semantic.SearchResult, error)
	judgeFn   func(requirement string, chunks []string) (semantic.Judgment, error)
	delay     func(query string) time.Duration
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	judged    map[string][]string
}

func (f *fakeCollaborator) SearchChunks(ctx context.Context, query string, embeddings [][]float64, metas []model.ChunkMeta, k int) ([]semantic.SearchResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.delay != nil {
		select {
		case <-time.After(f.delay(query)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.searchFn != nil {
		return f.searchFn(query, k)
	}
	return []semantic.SearchResult{{Rank: 1, Index: 0, Score: 1}}, nil
}

func (f *fakeCollaborator) ExtractEvidence(ctx context.Context, requirement string, chunks []string) (semantic.Judgment, error) {
	f.mu.Lock()
	if f.judged == nil {
		f.judged = make(map[string][]string)
	}
	f.judged[requirement] = chunks
	f.mu.Unlock()

	if f.judgeFn != nil {
		return f.judgeFn(requirement, chunks)
	}
	return semantic.Judgment{Status: model.StatusPass, Confidence: 0.9, EvidenceQuote: "q", Reasoning: "ok"}, nil
}

func makeRubric(n int) []model.Requirement {
	rubric := make([]model.Requirement, n)
	for i := range rubric {
		rubric[i] = model.Requirement{
			ID:          fmt.Sprintf("R%d", i+1),
			Description: fmt.Sprintf("requirement %d", i+1),
			Weight:      1 / float64(n),
		}
	}
	return rubric
}

var testChunks = []model.Chunk{
	{Text: "import pandas as pd", CellIndex: 0, Type: model.ChunkTypeCode},
	{Text: "# Analysis", CellIndex: 1, Type: model.ChunkTypeMarkdown},
	{Text: "df.plot()", CellIndex: 2, Type: model.ChunkTypeCode},
}

var testEmbeddings = [][]float64{{1, 0}, {0, 1}, {1, 1}}

func TestGather_PreservesRubricOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	delays := make(map[string]time.Duration)
	rubric := makeRubric(12)
	for _, r := range rubric {
		delays[r.Description] = time.Duration(rng.Intn(20)) * time.Millisecond
	}

	collab := &fakeCollaborator{
		delay: func(q string) time.Duration { return delays[q] },
	}
	o := NewOrchestrator(collab, WithMaxWorkers(4))

	results := o.Gather(context.Background(), rubric, testChunks, testEmbeddings)

	require.Len(t, results, len(rubric))
	for i, r := range results {
		assert.Equal(t, rubric[i].ID, r.RequirementID)
		assert.Equal(t, model.StatusPass, r.Status)
	}
}

func TestGather_IsolatesSingleFailure(t *testing.T) {
	rubric := makeRubric(5)
	collab := &fakeCollaborator{
		judgeFn: func(requirement string, chunks []string) (semantic.Judgment, error) {
			if requirement == "requirement 3" {
				return semantic.Judgment{}, &model.CollaboratorError{Op: "extract-evidence", StatusCode: 500, Body: "boom"}
			}
			return semantic.Judgment{Status: model.StatusPartial, Confidence: 0.6}, nil
		},
	}

	results := NewOrchestrator(collab).Gather(context.Background(), rubric, testChunks, testEmbeddings)

	require.Len(t, results, 5)
	for i, r := range results {
		if i == 2 {
			assert.Equal(t, model.StatusUnknown, r.Status)
			assert.Equal(t, 0.0, r.Confidence)
			assert.Empty(t, r.EvidenceQuote)
			assert.True(t, strings.HasPrefix(r.Reasoning, "Error: "), r.Reasoning)
			assert.Contains(t, r.Reasoning, "boom")
			continue
		}
		assert.Equal(t, model.StatusPartial, r.Status)
		assert.Equal(t, 0.6, r.Confidence)
	}
}

func TestGather_SearchFailure(t *testing.T) {
	collab := &fakeCollaborator{
		searchFn: func(query string, k int) ([]semantic.SearchResult, error) {
			return nil, errors.New("index unavailable")
		},
	}

	results := NewOrchestrator(collab).Gather(context.Background(), makeRubric(2), testChunks, testEmbeddings)

	for _, r := range results {
		assert.Equal(t, model.StatusUnknown, r.Status)
		assert.Contains(t, r.Reasoning, "index unavailable")
	}
}

func TestGather_DropsUnresolvableIndices(t *testing.T) {
	collab := &fakeCollaborator{
		searchFn: func(query string, k int) ([]semantic.SearchResult, error) {
			return []semantic.SearchResult{
				{Rank: 1, Index: 2},
				{Rank: 2, Index: 99},
				{Rank: 3, Index: -1},
				{Rank: 4, Index: 0},
			}, nil
		},
	}

	rubric := makeRubric(1)
	results := NewOrchestrator(collab).Gather(context.Background(), rubric, testChunks, testEmbeddings)

	require.Len(t, results, 1)
	assert.Equal(t, model.StatusPass, results[0].Status)
	assert.Equal(t, []string{"df.plot()", "import pandas as pd"}, collab.judged[rubric[0].Description])
}

func TestGather_PassesTopK(t *testing.T) {
	var gotK atomic.Int32
	collab := &fakeCollaborator{
		searchFn: func(query string, k int) ([]semantic.SearchResult, error) {
			gotK.Store(int32(k))
			return nil, nil
		},
	}

	NewOrchestrator(collab, WithTopK(0)).Gather(context.Background(), makeRubric(1), testChunks, testEmbeddings)
	assert.Equal(t, int32(DefaultTopK), gotK.Load())

	NewOrchestrator(collab, WithTopK(5)).Gather(context.Background(), makeRubric(1), testChunks, testEmbeddings)
	assert.Equal(t, int32(5), gotK.Load())
}

func TestGather_BoundsConcurrency(t *testing.T) {
	collab := &fakeCollaborator{
		delay: func(string) time.Duration { return 20 * time.Millisecond },
	}

	NewOrchestrator(collab, WithMaxWorkers(3)).Gather(context.Background(), makeRubric(10), testChunks, testEmbeddings)

	assert.LessOrEqual(t, collab.maxFlight.Load(), int32(3))
	assert.Positive(t, collab.maxFlight.Load())
}

func TestGather_UnboundedRunsAllAtOnce(t *testing.T) {
	collab := &fakeCollaborator{
		delay: func(string) time.Duration { return 50 * time.Millisecond },
	}

	NewOrchestrator(collab, WithMaxWorkers(0)).Gather(context.Background(), makeRubric(6), testChunks, testEmbeddings)

	assert.Equal(t, int32(6), collab.maxFlight.Load())
}

func TestGather_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	collab := &fakeCollaborator{
		delay: func(string) time.Duration { return time.Second },
	}

	results := NewOrchestrator(collab).Gather(ctx, makeRubric(4), testChunks, testEmbeddings)

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("R%d", i+1), r.RequirementID)
		assert.Equal(t, model.StatusUnknown, r.Status)
		assert.Contains(t, r.Reasoning, "context canceled")
	}
}

func TestGather_EmptyRubric(t *testing.T) {
	results := NewOrchestrator(&fakeCollaborator{}).Gather(context.Background(), nil, testChunks, testEmbeddings)
	assert.Empty(t, results)
}

func TestGather_NormalizesStatus(t *testing.T) {
	collab := &fakeCollaborator{
		judgeFn: func(string, []string) (semantic.Judgment, error) {
			return semantic.Judgment{Status: "maybe"}, nil
		},
	}

	results := NewOrchestrator(collab).Gather(context.Background(), makeRubric(1), testChunks, testEmbeddings)
	assert.Equal(t, model.StatusUnknown, results[0].Status)
}

func TestGather_RecordsMetrics(t *testing.T) {
	rec := metrics.NewRecorder()
	collab := &fakeCollaborator{
		judgeFn: func(requirement string, chunks []string) (semantic.Judgment, error) {
			if requirement == "requirement 1" {
				return semantic.Judgment{}, errors.New("down")
			}
			return semantic.Judgment{Status: model.StatusFail}, nil
		},
	}

	assert.NotPanics(t, func() {
		NewOrchestrator(collab, WithMetrics(rec)).Gather(context.Background(), makeRubric(3), testChunks, testEmbeddings)
	})
}
