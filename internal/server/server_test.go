package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/nbgrade/internal/metrics"
	"github.com/ppiankov/nbgrade/internal/model"
)

type fakeEvaluator struct {
	report    *model.Report
	err       error
	gotText   string
	gotNB     []byte
	evaluated bool
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, text string, nb []byte) (*model.Report, error) {
	f.evaluated = true
	f.gotText = text
	f.gotNB = nb
	return f.report, f.err
}

type fakeHealth struct {
	err error
}

func (f fakeHealth) Health(ctx context.Context) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"status": "healthy", "model": "all-MiniLM-L6-v2"}, nil
}

func testServerConfig() model.ServerConfig {
	return model.ServerConfig{
		Addr:           ":0",
		AllowedOrigins: []string{"http://localhost:5173"},
		MaxUpload:      "1KB",
	}
}

func newTestServer(t *testing.T, eval Evaluator, health HealthChecker) http.Handler {
	t.Helper()
	s, err := New(testServerConfig(), eval, health, metrics.NewRecorder(), nil)
	require.NoError(t, err)
	return s.Handler()
}

type upload struct {
	field, name, content string
}

func multipartRequest(t *testing.T, files ...upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = io.WriteString(part, f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/evaluate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeEvaluator{}, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["backend"])
	assert.Equal(t, "healthy", body["ml_service"].(map[string]any)["status"])
}

func TestHealth_Unavailable(t *testing.T) {
	h := newTestServer(t, &fakeEvaluator{}, fakeHealth{err: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["backend"])
	assert.Equal(t, "unavailable", body["ml_service"])
	assert.Equal(t, "connection refused", body["error"])
}

func TestEvaluate_Success(t *testing.T) {
	eval := &fakeEvaluator{report: &model.Report{
		OverallScore: 50,
		Timestamp:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PerRequirementStatus: []model.RequirementStatus{
			{RequirementID: "R1", Status: model.StatusPass},
		},
	}}
	h := newTestServer(t, eval, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t,
		upload{"assignment", "hw.md", "# HW\nLoad data."},
		upload{"notebook", "sub.ipynb", `{"cells":[]}`},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "# HW\nLoad data.", eval.gotText)
	assert.Equal(t, `{"cells":[]}`, string(eval.gotNB))

	var report model.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 50.0, report.OverallScore)
	assert.Len(t, report.PerRequirementStatus, 1)
}

func TestEvaluate_HTMLAssignment(t *testing.T) {
	eval := &fakeEvaluator{report: &model.Report{}}
	h := newTestServer(t, eval, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t,
		upload{"assignment", "hw.html", "<p>Plot the data.</p>"},
		upload{"notebook", "sub.ipynb", `{}`},
	))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Plot the data.", eval.gotText)
}

func TestEvaluate_MissingFile(t *testing.T) {
	eval := &fakeEvaluator{}
	h := newTestServer(t, eval, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, upload{"assignment", "hw.md", "text"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgMissingFiles, decode(t, rec)["error"])
	assert.False(t, eval.evaluated)
}

func TestEvaluate_WrongExtension(t *testing.T) {
	tests := []struct {
		name    string
		files   []upload
		details string
	}{
		{
			name:    "assignment",
			files:   []upload{{"assignment", "hw.pdf", "x"}, {"notebook", "sub.ipynb", "{}"}},
			details: "Assignment must be",
		},
		{
			name:    "notebook",
			files:   []upload{{"assignment", "hw.txt", "x"}, {"notebook", "sub.py", "{}"}},
			details: "Notebook must be .ipynb file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &fakeEvaluator{}
			rec := httptest.NewRecorder()
			newTestServer(t, eval, fakeHealth{}).ServeHTTP(rec, multipartRequest(t, tt.files...))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, msgUploadError, body["error"])
			assert.Contains(t, body["details"], tt.details)
			assert.False(t, eval.evaluated)
		})
	}
}

func TestEvaluate_TooLarge(t *testing.T) {
	eval := &fakeEvaluator{}
	h := newTestServer(t, eval, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t,
		upload{"assignment", "hw.md", strings.Repeat("a", 4096)},
		upload{"notebook", "sub.ipynb", "{}"},
	))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgUploadError, decode(t, rec)["error"])
	assert.False(t, eval.evaluated)
}

func TestEvaluate_UploadLimitIsPerFile(t *testing.T) {
	eval := &fakeEvaluator{report: &model.Report{}}
	h := newTestServer(t, eval, fakeHealth{})

	// Each file fits under 1KB, together they exceed it
	assignment := strings.Repeat("a", 900)
	notebook := `{"cells":[]}` + strings.Repeat(" ", 880)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t,
		upload{"assignment", "hw.md", assignment},
		upload{"notebook", "sub.ipynb", notebook},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, notebook, string(eval.gotNB))
}

func TestEvaluate_NotebookTooLarge(t *testing.T) {
	eval := &fakeEvaluator{}
	h := newTestServer(t, eval, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t,
		upload{"assignment", "hw.md", "# HW"},
		upload{"notebook", "sub.ipynb", `{"cells":[]}` + strings.Repeat(" ", 2000)},
	))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, msgUploadError, body["error"])
	assert.Contains(t, body["details"], "sub.ipynb")
	assert.False(t, eval.evaluated)
}

func TestEvaluate_RequestBodyTooLarge(t *testing.T) {
	eval := &fakeEvaluator{}
	h := newTestServer(t, eval, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t,
		upload{"assignment", "hw.md", "# HW"},
		upload{"notebook", "sub.ipynb", "{}"},
		upload{"extra", "junk.bin", strings.Repeat("x", 2<<20)},
	))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgUploadError, decode(t, rec)["error"])
	assert.False(t, eval.evaluated)
}

func TestEvaluate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", &model.ValidationError{Field: "notebook", Reason: "not valid JSON"}, http.StatusBadRequest, "Invalid input"},
		{"empty", &model.EmptyResultError{Stage: model.StageChunkExtraction}, http.StatusUnprocessableEntity, "Nothing to grade"},
		{"collaborator", &model.CollaboratorError{Op: "compile-rubric", StatusCode: 500, Body: "down"}, http.StatusBadGateway, msgMLError},
		{"other", errors.New("disk full"), http.StatusInternalServerError, "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &fakeEvaluator{err: tt.err}
			rec := httptest.NewRecorder()
			newTestServer(t, eval, fakeHealth{}).ServeHTTP(rec, multipartRequest(t,
				upload{"assignment", "hw.md", "text"},
				upload{"notebook", "sub.ipynb", "{}"},
			))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decode(t, rec)["error"])
		})
	}
}

func TestRequestID(t *testing.T) {
	h := newTestServer(t, &fakeEvaluator{}, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	id := rec.Header().Get(HeaderRequestID)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, incoming)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, incoming, rec.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "not-a-uuid\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid\n", rec.Header().Get(HeaderRequestID))
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, &fakeEvaluator{}, fakeHealth{})

	req := httptest.NewRequest(http.MethodOptions, "/api/evaluate", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, &fakeEvaluator{}, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNotFound(t *testing.T) {
	h := newTestServer(t, &fakeEvaluator{}, fakeHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_InvalidMaxUpload(t *testing.T) {
	cfg := testServerConfig()
	cfg.MaxUpload = "lots"
	_, err := New(cfg, &fakeEvaluator{}, fakeHealth{}, nil, nil)
	assert.Error(t, err)
}

func TestListenAndServe_Shutdown(t *testing.T) {
	cfg := testServerConfig()
	cfg.Addr = "127.0.0.1:0"
	s, err := New(cfg, &fakeEvaluator{}, fakeHealth{}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
