package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/nbgrade/internal/model"
)

const rubricSystemPrompt = `You convert programming assignment descriptions into grading rubrics.
Respond with a JSON object of the form:
{"rubric": [{"id": "R1", "description": "...", "weight": 0.25, "critical": false, "category": "..."}]}
Each requirement must be independently checkable in a Jupyter notebook.
Weights are positive and sum to 1. Mark a requirement critical only if the
assignment cannot pass without it.`

const evidenceSystemPrompt = `You grade one requirement of a Jupyter notebook submission.
You receive the requirement and the most relevant notebook excerpts.
Respond with a JSON object of the form:
{"status": "PASS|PARTIAL|FAIL", "confidence": 0.0-1.0, "evidence_quote": "...", "reasoning": "..."}
evidence_quote must be copied verbatim from the excerpts, or be empty when
there is no supporting evidence.`

// OpenAIService implements Service directly on the OpenAI API.
// Search ranks chunks locally by cosine similarity.
type OpenAIService struct {
	client         *openai.Client
	model          string
	embeddingModel string
	callTimeout    time.Duration
}

type rubricEnvelope struct {
	Rubric []model.Requirement `json:"rubric"`
}

// NewOpenAIService creates an OpenAI-backed service
func NewOpenAIService(cfg model.CollaboratorConfig) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" && cfg.BaseURL != model.DefaultMLServiceURL {
		clientConfig.BaseURL = cfg.BaseURL
	}

	chatModel := cfg.Model
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}

	return &OpenAIService{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          chatModel,
		embeddingModel: embeddingModel,
		callTimeout:    cfg.CallTimeout,
	}, nil
}

// Name returns the backend name
func (s *OpenAIService) Name() string {
	return "openai"
}

// Health lists models as a lightweight liveness check
func (s *OpenAIService) Health(ctx context.Context) (map[string]any, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	models, err := s.client.ListModels(ctx)
	if err != nil {
		return nil, collaboratorError("health", err)
	}

	return map[string]any{
		"status": "healthy",
		"models": len(models.Models),
		"model":  s.model,
	}, nil
}

// CompileRubric asks the chat model for a rubric and normalizes it
func (s *OpenAIService) CompileRubric(ctx context.Context, assignmentText string) ([]model.Requirement, error) {
	var envelope rubricEnvelope
	if err := s.chatJSON(ctx, "compile-rubric", rubricSystemPrompt, assignmentText, &envelope); err != nil {
		return nil, err
	}
	return normalizeRubric(envelope.Rubric), nil
}

// EmbedChunks embeds texts, returning vectors in input order
func (s *OpenAIService) EmbedChunks(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(s.embeddingModel),
	})
	if err != nil {
		return nil, collaboratorError("embed-chunks", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &model.CollaboratorError{
			Op:  "embed-chunks",
			Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float64, len(data))
	for i, d := range data {
		vec := make([]float64, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float64(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// SearchChunks embeds the query and ranks the given embeddings against it
func (s *OpenAIService) SearchChunks(ctx context.Context, query string, embeddings [][]float64, metas []model.ChunkMeta, k int) ([]SearchResult, error) {
	queryVec, err := s.EmbedChunks(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return TopK(queryVec[0], embeddings, k), nil
}

// ExtractEvidence asks the chat model to judge one requirement
func (s *OpenAIService) ExtractEvidence(ctx context.Context, requirement string, chunks []string) (Judgment, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Requirement:\n%s\n\nNotebook excerpts:\n", requirement)
	if len(chunks) == 0 {
		b.WriteString("(none)\n")
	}
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "\n--- excerpt %d ---\n%s\n", i+1, chunk)
	}

	var wire judgmentWire
	if err := s.chatJSON(ctx, "extract-evidence", evidenceSystemPrompt, b.String(), &wire); err != nil {
		return Judgment{}, err
	}
	return wire.judgment(), nil
}

func (s *OpenAIService) chatJSON(ctx context.Context, op, system, user string, out any) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return collaboratorError(op, err)
	}
	if len(resp.Choices) == 0 {
		return &model.CollaboratorError{Op: op, Err: fmt.Errorf("no response from OpenAI")}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return &model.CollaboratorError{Op: op, Body: content, Err: fmt.Errorf("decode model output: %w", err)}
	}
	return nil
}

func (s *OpenAIService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout > 0 {
		return context.WithTimeout(ctx, s.callTimeout)
	}
	return context.WithCancel(ctx)
}

// normalizeRubric fills missing ids and rescales weights to sum to 1
func normalizeRubric(rubric []model.Requirement) []model.Requirement {
	out := make([]model.Requirement, 0, len(rubric))
	var total float64
	for _, req := range rubric {
		if strings.TrimSpace(req.Description) == "" {
			continue
		}
		if req.Weight < 0 {
			req.Weight = 0
		}
		total += req.Weight
		out = append(out, req)
	}

	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("R%d", i+1)
		}
		switch {
		case total == 0:
			out[i].Weight = 1 / float64(len(out))
		default:
			out[i].Weight /= total
		}
	}
	return out
}

func collaboratorError(op string, err error) error {
	ce := &model.CollaboratorError{Op: op, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ce.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		ce.StatusCode = reqErr.HTTPStatusCode
	}
	return ce
}
