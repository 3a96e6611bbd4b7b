package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := NewRecorder()

	r.CountEvidence("PASS")
	r.CountEvidence("PASS")
	r.CountEvidence("UNKNOWN")
	r.CountEvaluation(OutcomeSuccess)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.evidenceResults.WithLabelValues("PASS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.evidenceResults.WithLabelValues("UNKNOWN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.evaluations.WithLabelValues(OutcomeSuccess)))
}

func TestRecorder_ObserveStage(t *testing.T) {
	r := NewRecorder()
	r.ObserveStage("embeddings", 120*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(r.stageDuration, "nbgrade_stage_duration_seconds"))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.CountEvaluation(OutcomeCollaboratorError)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `nbgrade_evaluations_total{outcome="collaborator_error"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.ObserveStage("x", time.Second)
		r.CountEvidence("PASS")
		r.CountEvaluation(OutcomeSuccess)
	})
	assert.Nil(t, r.Registry())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecorder_Independent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.CountEvidence("FAIL")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.evidenceResults.WithLabelValues("FAIL")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.evidenceResults.WithLabelValues("FAIL")))
}
