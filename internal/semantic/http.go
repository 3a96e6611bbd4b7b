package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/nbgrade/internal/model"
	"github.com/ppiankov/nbgrade/internal/util"
	"github.com/ppiankov/nbgrade/internal/worker"
)

// maxErrorBody caps how much of an error response is kept in the error
const maxErrorBody = 2048

// HTTPService talks to the ML service over its JSON API
type HTTPService struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *worker.Limiter
	callTimeout time.Duration
	logger      *slog.Logger
}

type compileRubricRequest struct {
	AssignmentText string `json:"assignment_text"`
}

type compileRubricResponse struct {
	Success     bool                `json:"success"`
	Rubric      []model.Requirement `json:"rubric"`
	Error       string              `json:"error,omitempty"`
	RawResponse string              `json:"raw_response,omitempty"`
}

type embedChunksRequest struct {
	Chunks []string `json:"chunks"`
}

type embedChunksResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimension  int         `json:"dimension"`
	Count      int         `json:"count"`
}

type searchChunksRequest struct {
	Query          string            `json:"query"`
	Embeddings     [][]float64       `json:"embeddings"`
	ChunksMetadata []model.ChunkMeta `json:"chunks_metadata"`
	K              int               `json:"k"`
}

type searchChunksResponse struct {
	Results []SearchResult `json:"results"`
}

type extractEvidenceRequest struct {
	Requirement string   `json:"requirement"`
	Chunks      []string `json:"chunks"`
}

type serviceError struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// NewHTTPService creates a client for the ML service at cfg.BaseURL
func NewHTTPService(cfg model.CollaboratorConfig, logger *slog.Logger) (*HTTPService, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("collaborator base URL is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &HTTPService{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
				MaxIdleConnsPerHost: 32,
			},
		},
		limiter:     worker.NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
		callTimeout: cfg.CallTimeout,
		logger:      logger,
	}, nil
}

// Name returns the backend name
func (s *HTTPService) Name() string {
	return "http"
}

// Health calls GET /health
func (s *HTTPService) Health(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if err := s.call(ctx, "health", http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CompileRubric calls POST /compile-rubric; an unsuccessful compilation is an error
func (s *HTTPService) CompileRubric(ctx context.Context, assignmentText string) ([]model.Requirement, error) {
	var resp compileRubricResponse
	if err := s.call(ctx, "compile-rubric", http.MethodPost, "/compile-rubric", compileRubricRequest{AssignmentText: assignmentText}, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = resp.RawResponse
		}
		return nil, &model.CollaboratorError{
			Op:  "compile-rubric",
			Err: fmt.Errorf("rubric compilation unsuccessful: %s", reason),
		}
	}

	return resp.Rubric, nil
}

// EmbedChunks calls POST /embed-chunks
func (s *HTTPService) EmbedChunks(ctx context.Context, texts []string) ([][]float64, error) {
	var resp embedChunksResponse
	if err := s.call(ctx, "embed-chunks", http.MethodPost, "/embed-chunks", embedChunksRequest{Chunks: texts}, &resp); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// SearchChunks calls POST /search-chunks
func (s *HTTPService) SearchChunks(ctx context.Context, query string, embeddings [][]float64, metas []model.ChunkMeta, k int) ([]SearchResult, error) {
	req := searchChunksRequest{
		Query:          query,
		Embeddings:     embeddings,
		ChunksMetadata: metas,
		K:              k,
	}

	var resp searchChunksResponse
	if err := s.call(ctx, "search-chunks", http.MethodPost, "/search-chunks", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ExtractEvidence calls POST /extract-evidence
func (s *HTTPService) ExtractEvidence(ctx context.Context, requirement string, chunks []string) (Judgment, error) {
	if chunks == nil {
		chunks = []string{}
	}

	var resp judgmentWire
	if err := s.call(ctx, "extract-evidence", http.MethodPost, "/extract-evidence", extractEvidenceRequest{Requirement: requirement, Chunks: chunks}, &resp); err != nil {
		return Judgment{}, err
	}
	return resp.judgment(), nil
}

// call performs one bounded request. Every failure is a CollaboratorError.
func (s *HTTPService) call(ctx context.Context, op, method, path string, body, out any) error {
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	url := s.baseURL + path
	start := time.Now()

	if err := s.limiter.Wait(ctx, url); err != nil {
		return &model.CollaboratorError{Op: op, Err: fmt.Errorf("rate limit: %w", err)}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &model.CollaboratorError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &model.CollaboratorError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %v: %w", time.Since(start).Round(time.Millisecond), err)
		}
		return &model.CollaboratorError{Op: op, Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &model.CollaboratorError{Op: op, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	s.logger.Debug("collaborator call",
		"op", op,
		"status", httpResp.StatusCode,
		"duration", time.Since(start),
		"bytes", len(respBody))

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &model.CollaboratorError{Op: op, StatusCode: httpResp.StatusCode, Body: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &model.CollaboratorError{Op: op, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

// errorMessage extracts a service error message, falling back to the raw body
func errorMessage(body []byte) string {
	var svcErr serviceError
	if err := json.Unmarshal(body, &svcErr); err == nil && svcErr.Error != "" {
		if svcErr.Details != "" {
			return svcErr.Error + ": " + svcErr.Details
		}
		return svcErr.Error
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return msg
}
