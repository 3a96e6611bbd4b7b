package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/nbgrade/internal/model"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultSampleCells is how many leading cells are checked for structure
const DefaultSampleCells = 5

// cellTypes lists the nbformat cell types nbgrade accepts
var cellTypes = []string{"code", "markdown", "raw"}

// Validator checks uploaded documents before any collaborator call
type Validator struct {
	schema      *gojsonschema.Schema
	sampleCells int
}

// NewValidator creates a validator that inspects the first sampleCells cells
func NewValidator(sampleCells int) (*Validator, error) {
	if sampleCells <= 0 {
		sampleCells = DefaultSampleCells
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(notebookSchema(sampleCells)))
	if err != nil {
		return nil, fmt.Errorf("compile notebook schema: %w", err)
	}

	return &Validator{
		schema:      schema,
		sampleCells: sampleCells,
	}, nil
}

// notebookSchema requires a non-empty cells array whose leading cells carry
// a known cell_type and a source. Cells past the sample are not inspected.
func notebookSchema(sampleCells int) map[string]any {
	cell := map[string]any{
		"type":     "object",
		"required": []any{"cell_type", "source"},
		"properties": map[string]any{
			"cell_type": map[string]any{"enum": toAny(cellTypes)},
		},
	}

	items := make([]any, sampleCells)
	for i := range items {
		items[i] = cell
	}

	return map[string]any{
		"type":     "object",
		"required": []any{"cells"},
		"properties": map[string]any{
			"cells": map[string]any{
				"type":            "array",
				"minItems":        1,
				"items":           items,
				"additionalItems": true,
			},
		},
	}
}

// ValidateNotebook decodes and checks a notebook document
func (v *Validator) ValidateNotebook(raw []byte) (*model.Notebook, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &model.ValidationError{Field: "notebook", Reason: "not valid JSON: " + err.Error()}
	}

	if _, ok := doc.(map[string]any); !ok {
		return nil, &model.ValidationError{Field: "notebook", Reason: "must be a JSON object"}
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, &model.ValidationError{Field: "notebook", Reason: err.Error()}
	}
	if !result.Valid() {
		return nil, &model.ValidationError{Field: "notebook", Reason: describe(result.Errors())}
	}

	var nb model.Notebook
	if err := json.Unmarshal(raw, &nb); err != nil {
		return nil, &model.ValidationError{Field: "notebook", Reason: "malformed cells: " + err.Error()}
	}

	return &nb, nil
}

// ValidateAssignment rejects an assignment with no text
func (v *Validator) ValidateAssignment(text string) error {
	if strings.TrimSpace(text) == "" {
		return &model.ValidationError{Field: "assignment", Reason: "document is empty"}
	}
	return nil
}

func describe(errs []gojsonschema.ResultError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return strings.Join(parts, "; ")
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
