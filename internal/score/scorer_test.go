package score

import (
	"encoding/json"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/ppiankov/nbgrade/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestAggregator() *Aggregator {
	return &Aggregator{Now: func() time.Time { return fixedNow }}
}

func TestBuildReport_HalfAndHalf(t *testing.T) {
	rubric := []model.Requirement{
		{ID: "R1", Description: "Load data", Weight: 0.5, Critical: true, Category: "data"},
		{ID: "R2", Description: "Plot results", Weight: 0.5, Critical: false, Category: "viz"},
	}
	evidence := []model.EvidenceResult{
		{RequirementID: "R1", Status: model.StatusPass, Confidence: 0.9, EvidenceQuote: "pd.read_csv", Reasoning: "found"},
		{RequirementID: "R2", Status: model.StatusFail, Confidence: 0.8, Reasoning: "no plot"},
	}

	report := newTestAggregator().BuildReport(rubric, evidence)

	if report.OverallScore != 50.0 || report.Breakdown.OverallScore != 50.0 {
		t.Errorf("expected overall 50.0, got %v / %v", report.OverallScore, report.Breakdown.OverallScore)
	}
	if report.Breakdown.RequirementsMet != 1 || report.Breakdown.RequirementsMissing != 1 {
		t.Errorf("unexpected breakdown: %+v", report.Breakdown)
	}
	if report.Breakdown.CriticalFailures != 0 {
		t.Errorf("the critical requirement passed, expected 0 critical failures, got %d", report.Breakdown.CriticalFailures)
	}
	if report.PerRequirementStatus[0].PointsEarned != 50.0 || report.PerRequirementStatus[1].PointsEarned != 0.0 {
		t.Errorf("unexpected points: %+v", report.PerRequirementStatus)
	}
	if report.PerRequirementStatus[1].Feedback != "no plot" {
		t.Errorf("feedback should carry reasoning, got %q", report.PerRequirementStatus[1].Feedback)
	}
	if !report.Timestamp.Equal(fixedNow) {
		t.Errorf("unexpected timestamp %v", report.Timestamp)
	}
}

func TestCalculatePoints(t *testing.T) {
	tests := []struct {
		weight float64
		status model.Status
		want   float64
	}{
		{0.25, model.StatusPass, 25.0},
		{0.25, model.StatusPartial, 12.5},
		{0.25, model.StatusFail, 0},
		{0.25, model.StatusUnknown, 0},
		{1.0 / 3, model.StatusPass, 33.3},
	}

	for _, tt := range tests {
		if got := CalculatePoints(tt.weight, tt.status); got != tt.want {
			t.Errorf("CalculatePoints(%v, %s) = %v, want %v", tt.weight, tt.status, got, tt.want)
		}
	}
}

func TestCalculateBreakdown_RoundsOnce(t *testing.T) {
	// Three thirds, all PASS: per-item points are 33.3 each (sum 99.9),
	// the overall score rounds the unrounded sum to 100.
	third := 1.0 / 3
	rubric := []model.Requirement{{ID: "a", Weight: third}, {ID: "b", Weight: third}, {ID: "c", Weight: third}}
	evidence := []model.EvidenceResult{{Status: model.StatusPass}, {Status: model.StatusPass}, {Status: model.StatusPass}}

	report := newTestAggregator().BuildReport(rubric, evidence)

	if report.OverallScore != 100.0 {
		t.Errorf("expected overall 100.0, got %v", report.OverallScore)
	}
	var perItem float64
	for _, e := range report.PerRequirementStatus {
		if e.PointsEarned != 33.3 {
			t.Errorf("expected 33.3 per item, got %v", e.PointsEarned)
		}
		perItem += e.PointsEarned
	}
	if perItem == report.OverallScore {
		t.Error("per-item sum should diverge from the overall score here")
	}
}

func TestCalculateBreakdown_Counts(t *testing.T) {
	rubric := []model.Requirement{
		{ID: "1", Weight: 0.2, Critical: true},
		{ID: "2", Weight: 0.2, Critical: true},
		{ID: "3", Weight: 0.2, Critical: false},
		{ID: "4", Weight: 0.2, Critical: true},
		{ID: "5", Weight: 0.2, Critical: false},
	}
	evidence := []model.EvidenceResult{
		{Status: model.StatusPass},
		{Status: model.StatusUnknown},
		{Status: model.StatusPartial},
		{Status: model.StatusFail},
		{Status: model.StatusFail},
	}

	b := CalculateBreakdown(rubric, evidence)

	want := model.Breakdown{
		OverallScore:        30.0,
		RequirementsMet:     1,
		RequirementsPartial: 1,
		RequirementsMissing: 3,
		CriticalFailures:    2,
	}
	if b != want {
		t.Errorf("got %+v, want %+v", b, want)
	}
}

func TestBuildReport_MissingEvidenceDefaults(t *testing.T) {
	rubric := []model.Requirement{
		{ID: "R1", Weight: 0.6, Critical: true},
		{ID: "R2", Weight: 0.4},
	}
	evidence := []model.EvidenceResult{{RequirementID: "R1", Status: "pass", Confidence: 0.7}}

	report := newTestAggregator().BuildReport(rubric, evidence)

	if len(report.PerRequirementStatus) != 2 {
		t.Fatalf("every rubric item needs an entry, got %d", len(report.PerRequirementStatus))
	}
	missing := report.PerRequirementStatus[1]
	if missing.Status != model.StatusUnknown || missing.Confidence != 0 || missing.EvidenceQuote != "" || missing.Feedback != "" {
		t.Errorf("unexpected defaults: %+v", missing)
	}
	if missing.PointsPossible != 40 {
		t.Errorf("points possible should be weight*100, got %v", missing.PointsPossible)
	}
	if report.PerRequirementStatus[0].Status != model.StatusPass {
		t.Errorf("lower-case status should normalize, got %s", report.PerRequirementStatus[0].Status)
	}
	if report.OverallScore != 60.0 {
		t.Errorf("expected 60.0, got %v", report.OverallScore)
	}
}

func TestBuildReport_DoesNotMutateInputs(t *testing.T) {
	rubric := []model.Requirement{{ID: "R1", Weight: 1}}
	evidence := []model.EvidenceResult{{RequirementID: "R1", Status: "partial"}}
	before := evidence[0]

	_ = newTestAggregator().BuildReport(rubric, evidence)

	if evidence[0] != before {
		t.Errorf("evidence mutated: %+v", evidence[0])
	}
}

func TestBuildReport_Deterministic(t *testing.T) {
	rubric := []model.Requirement{{ID: "R1", Weight: 0.7}, {ID: "R2", Weight: 0.3, Critical: true}}
	evidence := []model.EvidenceResult{{Status: model.StatusPartial}, {Status: model.StatusFail}}
	agg := newTestAggregator()

	if !reflect.DeepEqual(agg.BuildReport(rubric, evidence), agg.BuildReport(rubric, evidence)) {
		t.Error("same inputs should produce the same report")
	}
}

func TestReport_JSONRoundTrip(t *testing.T) {
	rubric := []model.Requirement{
		{ID: "R1", Description: "d1", Weight: 0.5, Category: "c"},
		{ID: "R2", Description: "d2", Weight: 0.5, Critical: true, Category: "c"},
	}
	evidence := []model.EvidenceResult{{Status: model.StatusPass}, {Status: model.StatusUnknown, Reasoning: "Error: timeout"}}
	report := newTestAggregator().BuildReport(rubric, evidence)

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded model.Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.PerRequirementStatus) != len(report.PerRequirementStatus) {
		t.Fatalf("entry count changed: %d vs %d", len(decoded.PerRequirementStatus), len(report.PerRequirementStatus))
	}
	if !reflect.DeepEqual(decoded, report) {
		t.Errorf("round trip changed the report:\n%+v\n%+v", decoded, report)
	}

	// Field set of each entry survives unchanged
	var generic struct {
		PerRequirementStatus []map[string]any `json:"per_requirement_status"`
	}
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	wantKeys := []string{"category", "confidence", "description", "evidence_quote", "feedback",
		"points_earned", "points_possible", "requirement_id", "status"}
	for _, entry := range generic.PerRequirementStatus {
		var keys []string
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if !reflect.DeepEqual(keys, wantKeys) {
			t.Errorf("unexpected entry fields %v", keys)
		}
	}
}
