package extract

import "strings"

// SubChunk is one window of an oversized cell
type SubChunk struct {
	Text      string
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive
}

// SplitLines cuts text into overlapping windows of linesPerChunk lines.
//
// Consecutive windows share overlap lines so that a function or loop that
// straddles a boundary appears whole in at least one window. Line numbers
// refer to the original line array; the window text itself is trimmed and
// windows that trim to nothing are dropped. Splitting stops at the first
// window that reaches the last line.
func SplitLines(text string, linesPerChunk, overlap int) []SubChunk {
	lines := strings.Split(text, "\n")
	if linesPerChunk <= 0 {
		linesPerChunk = 1
	}
	step := max(1, linesPerChunk-overlap)

	var chunks []SubChunk
	for start := 0; start < len(lines); start += step {
		end := min(start+linesPerChunk, len(lines))
		window := strings.TrimSpace(strings.Join(lines[start:end], "\n"))

		if window != "" {
			chunks = append(chunks, SubChunk{
				Text:      window,
				StartLine: start + 1,
				EndLine:   end,
			})
		}

		if end == len(lines) {
			break
		}
	}

	return chunks
}

// countLines counts newline-separated lines, the way SplitLines sees them
func countLines(text string) int {
	return strings.Count(text, "\n") + 1
}
