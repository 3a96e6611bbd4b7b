package model

import "strings"

// Requirement is one weighted rubric item compiled from the assignment
type Requirement struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`   // Share of the total score, 0..1
	Critical    bool    `json:"critical"` // Failures are counted separately in the breakdown
	Category    string  `json:"category"`
}

// Status is the judgment for a single requirement
type Status string

const (
	StatusPass    Status = "PASS"
	StatusPartial Status = "PARTIAL"
	StatusFail    Status = "FAIL"
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus normalizes a collaborator status string.
// Anything unrecognized, including the empty string, is UNKNOWN.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusPass, StatusPartial, StatusFail:
		return s
	default:
		return StatusUnknown
	}
}

// Multiplier is the fraction of a requirement's weight the status earns
func (s Status) Multiplier() float64 {
	switch s {
	case StatusPass:
		return 1.0
	case StatusPartial:
		return 0.5
	default:
		return 0.0
	}
}

// Missing reports whether the status counts as a missing requirement
func (s Status) Missing() bool {
	return s != StatusPass && s != StatusPartial
}

// EvidenceResult is the outcome of evidence gathering for one requirement
type EvidenceResult struct {
	RequirementID string  `json:"requirement_id"`
	Status        Status  `json:"status"`
	Confidence    float64 `json:"confidence"` // 0..1
	EvidenceQuote string  `json:"evidence_quote"`
	Reasoning     string  `json:"reasoning"`
}

// UnknownEvidence is the result recorded when gathering failed for a requirement
func UnknownEvidence(requirementID string, err error) EvidenceResult {
	reasoning := ""
	if err != nil {
		reasoning = "Error: " + err.Error()
	}
	return EvidenceResult{
		RequirementID: requirementID,
		Status:        StatusUnknown,
		Confidence:    0,
		EvidenceQuote: "",
		Reasoning:     reasoning,
	}
}
