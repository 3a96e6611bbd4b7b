package model

import (
	"encoding/json"
	"strings"
)

// Notebook is the subset of the nbformat document nbgrade reads
type Notebook struct {
	Cells         []Cell         `json:"cells"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	NBFormat      int            `json:"nbformat,omitempty"`
	NBFormatMinor int            `json:"nbformat_minor,omitempty"`
}

// Cell is one notebook cell
type Cell struct {
	CellType string     `json:"cell_type"` // code, markdown or raw
	Source   CellSource `json:"source"`
}

// CellSource is a cell's source, stored on disk either as a single string or
// as a list of lines. Lines are joined without a separator because nbformat
// keeps the trailing newline on every line but the last.
type CellSource string

// UnmarshalJSON accepts a string, a list of strings, or null
func (s *CellSource) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = CellSource(single)
		return nil
	}

	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return err
	}
	*s = CellSource(strings.Join(lines, ""))
	return nil
}

// String returns the raw joined source
func (s CellSource) String() string {
	return string(s)
}
