package extract

import (
	"strings"

	"github.com/ppiankov/nbgrade/internal/model"
)

// ChunkExtractor turns notebook cells into retrieval chunks
type ChunkExtractor struct {
	cfg model.ChunkingConfig
}

// NewChunkExtractor creates an extractor with the given tunables
func NewChunkExtractor(cfg model.ChunkingConfig) *ChunkExtractor {
	return &ChunkExtractor{cfg: cfg}
}

// Extract walks the cells in order and emits chunks.
//
// The cell index counts every cell, including skipped and raw ones, so that
// chunk provenance matches the notebook as the student sees it. Code cells
// above MaxCellLines are split into overlapping windows; markdown cells are
// kept whole without a line range.
func (e *ChunkExtractor) Extract(nb *model.Notebook) []model.Chunk {
	chunks := make([]model.Chunk, 0, len(nb.Cells))

	for cellIndex, cell := range nb.Cells {
		source := strings.TrimSpace(cell.Source.String())
		if source == "" {
			continue
		}

		switch cell.CellType {
		case "code":
			chunks = append(chunks, e.codeChunks(source, cellIndex)...)
		case "markdown":
			chunks = append(chunks, model.Chunk{
				Text:      source,
				CellIndex: cellIndex,
				Type:      model.ChunkTypeMarkdown,
			})
		}
	}

	return chunks
}

func (e *ChunkExtractor) codeChunks(source string, cellIndex int) []model.Chunk {
	lineCount := countLines(source)

	if lineCount <= e.cfg.MaxCellLines {
		start, end := model.LineRange(1, lineCount)
		return []model.Chunk{{
			Text:      source,
			CellIndex: cellIndex,
			Type:      model.ChunkTypeCode,
			StartLine: start,
			EndLine:   end,
		}}
	}

	subs := SplitLines(source, e.cfg.LinesPerChunk, e.cfg.ChunkOverlap)
	chunks := make([]model.Chunk, 0, len(subs))
	for _, sc := range subs {
		start, end := model.LineRange(sc.StartLine, sc.EndLine)
		chunks = append(chunks, model.Chunk{
			Text:      sc.Text,
			CellIndex: cellIndex,
			Type:      model.ChunkTypeCode,
			StartLine: start,
			EndLine:   end,
		})
	}
	return chunks
}
