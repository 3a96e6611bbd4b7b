package score

import (
	"math"
	"time"

	"github.com/ppiankov/nbgrade/internal/model"
)

// Aggregator turns a rubric and its evidence into a scored report.
// It performs no I/O and never mutates its inputs.
type Aggregator struct {
	// Now stamps the report; defaults to the current UTC time
	Now func() time.Time
}

// NewAggregator creates an aggregator using the wall clock
func NewAggregator() *Aggregator {
	return &Aggregator{
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// BuildReport scores every rubric item and assembles the report.
//
// evidence is expected to be index-aligned with rubric. A missing slot is
// scored as UNKNOWN with zero confidence and empty quote and feedback.
func (a *Aggregator) BuildReport(rubric []model.Requirement, evidence []model.EvidenceResult) model.Report {
	breakdown := CalculateBreakdown(rubric, evidence)

	entries := make([]model.RequirementStatus, len(rubric))
	for i, req := range rubric {
		ev := evidenceAt(evidence, i)
		entries[i] = model.RequirementStatus{
			RequirementID:  req.ID,
			Description:    req.Description,
			Category:       req.Category,
			Status:         ev.Status,
			Confidence:     ev.Confidence,
			EvidenceQuote:  ev.EvidenceQuote,
			Feedback:       ev.Reasoning,
			PointsEarned:   CalculatePoints(req.Weight, ev.Status),
			PointsPossible: req.Weight * 100,
		}
	}

	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now()
	}

	return model.Report{
		OverallScore:         breakdown.OverallScore,
		Breakdown:            breakdown,
		PerRequirementStatus: entries,
		Timestamp:            now,
	}
}

// CalculatePoints converts a status into points for a requirement weight,
// rounded to one decimal on its own.
func CalculatePoints(weight float64, status model.Status) float64 {
	return round1(weight * 100 * status.Multiplier())
}

// CalculateBreakdown counts outcomes and computes the overall score.
//
// The overall score sums the unrounded weighted contributions and rounds
// once, so it can differ in the last decimal from the sum of the per-item
// points, which are rounded individually.
func CalculateBreakdown(rubric []model.Requirement, evidence []model.EvidenceResult) model.Breakdown {
	var b model.Breakdown
	var sum float64

	for i, req := range rubric {
		status := evidenceAt(evidence, i).Status

		switch {
		case status.Missing():
			b.RequirementsMissing++
			if req.Critical {
				b.CriticalFailures++
			}
		case status == model.StatusPass:
			b.RequirementsMet++
		default:
			b.RequirementsPartial++
		}

		sum += req.Weight * status.Multiplier()
	}

	b.OverallScore = round1(sum * 100)
	return b
}

// evidenceAt returns the evidence for rubric index i, or the UNKNOWN default
func evidenceAt(evidence []model.EvidenceResult, i int) model.EvidenceResult {
	if i >= len(evidence) {
		return model.EvidenceResult{Status: model.StatusUnknown}
	}
	ev := evidence[i]
	ev.Status = model.ParseStatus(string(ev.Status))
	return ev
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
