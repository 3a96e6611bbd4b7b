package semantic

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ppiankov/nbgrade/internal/cache"
	"github.com/ppiankov/nbgrade/internal/model"
)

// CachedService memoizes rubric compilation and chunk embedding.
// Search and evidence judgment always go to the backend.
type CachedService struct {
	Service
	cache     cache.Cache
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedService wraps svc. namespace separates entries of different
// backends or models sharing one cache.
func NewCachedService(svc Service, c cache.Cache, namespace string, ttl time.Duration, logger *slog.Logger) *CachedService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedService{
		Service:   svc,
		cache:     c,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

// CompileRubric returns a cached rubric for identical assignment text
func (s *CachedService) CompileRubric(ctx context.Context, assignmentText string) ([]model.Requirement, error) {
	key := cache.Key("rubric", s.namespace, assignmentText)

	var rubric []model.Requirement
	if s.load(key, &rubric) {
		return rubric, nil
	}

	rubric, err := s.Service.CompileRubric(ctx, assignmentText)
	if err != nil {
		return nil, err
	}
	s.store(key, rubric)
	return rubric, nil
}

// EmbedChunks returns cached vectors for an identical chunk list
func (s *CachedService) EmbedChunks(ctx context.Context, texts []string) ([][]float64, error) {
	key := cache.Key("embed", append([]string{s.namespace}, texts...)...)

	var vectors [][]float64
	if s.load(key, &vectors) && len(vectors) == len(texts) {
		return vectors, nil
	}

	vectors, err := s.Service.EmbedChunks(ctx, texts)
	if err != nil {
		return nil, err
	}
	s.store(key, vectors)
	return vectors, nil
}

func (s *CachedService) load(key string, out any) bool {
	data, ok := s.cache.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		_ = s.cache.Delete(key)
		return false
	}
	s.logger.Debug("cache hit", "key", key)
	return true
}

func (s *CachedService) store(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(key, data, s.ttl); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
