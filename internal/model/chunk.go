package model

// ChunkType classifies the notebook content a chunk was cut from
type ChunkType string

const (
	ChunkTypeCode     ChunkType = "code"
	ChunkTypeMarkdown ChunkType = "markdown"
)

// Chunk is a contiguous slice of one notebook cell's text with provenance
type Chunk struct {
	Text      string    `json:"text"`
	CellIndex int       `json:"cell_index"`           // Index of the source cell, counting skipped cells
	Type      ChunkType `json:"type"`                 // code or markdown
	StartLine *int      `json:"start_line,omitempty"` // 1-based, inclusive; nil for markdown
	EndLine   *int      `json:"end_line,omitempty"`   // 1-based, inclusive; nil for markdown
}

// ChunkMeta is the chunk description sent alongside embeddings to the search call
type ChunkMeta struct {
	Index     int       `json:"index"` // Position in the chunk list
	CellIndex int       `json:"cell_index"`
	Type      ChunkType `json:"type"`
	StartLine *int      `json:"start_line,omitempty"`
	EndLine   *int      `json:"end_line,omitempty"`
}

// ChunkMetas builds the metadata list for a chunk sequence, index-aligned
func ChunkMetas(chunks []Chunk) []ChunkMeta {
	metas := make([]ChunkMeta, len(chunks))
	for i, c := range chunks {
		metas[i] = ChunkMeta{
			Index:     i,
			CellIndex: c.CellIndex,
			Type:      c.Type,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
		}
	}
	return metas
}

// ChunkTexts returns the text of every chunk, index-aligned
func ChunkTexts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}

// LineRange returns a pointer pair for a 1-based inclusive line range
func LineRange(start, end int) (*int, *int) {
	return &start, &end
}
