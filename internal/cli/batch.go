package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/nbgrade/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <assignment> <notebooks-file>",
	Short: "Grade many notebooks against one assignment in parallel",
	Long: `Batch grades every notebook listed in a file:
- Read notebook paths or URLs from the list (one per line, # comments allowed)
- Grade notebooks in parallel with a configurable worker count
- Each evaluation gathers evidence concurrently
- Write a JSON and Markdown report per notebook

Example:
  nbgrade batch assignment.md submissions.txt
  nbgrade batch assignment.md submissions.txt --concurrency 8 --output-dir ./grades`,
	Args: cobra.ExactArgs(2),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of notebooks graded at once")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./nbgrade-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
}

func runBatch(cmd *cobra.Command, args []string) error {
	assignment, listFile := args[0], args[1]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	if cmd.Flags().Changed("concurrency") {
		setOverride("concurrency.workers", concurrency)
	}
	if cmd.Flags().Changed("no-footer") {
		setOverride("output.include_footer", !noFooter)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	workers := a.cfg.Concurrency.Workers
	runID := uuid.NewString()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  nbgrade Batch Grading\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Run ID:       %s\n", runID)
	fmt.Fprintf(os.Stderr, "  Assignment:   %s\n", assignment)
	fmt.Fprintf(os.Stderr, "  Notebooks:    %s\n", listFile)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	processor := worker.NewBatchProcessor(a.pipeline, workers)
	a.logger.Debug("batch started", "run_id", runID, "workers", workers)

	fmt.Fprintf(os.Stderr, "⚙️  Grading notebooks with %d workers...\n\n", workers)
	results, err := processor.ProcessFile(ctx, assignment, listFile)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	renderer := a.pipeline.Renderer()
	successCount := 0
	failureCount := 0
	used := make(map[string]int)

	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Notebook, result.Error)
			continue
		}

		slug := uniqueSlug(used, sanitizeFilename(result.Notebook))
		jsonPath := filepath.Join(outputDir, slug+".json")
		mdPath := filepath.Join(outputDir, slug+".md")

		if err := renderer.RenderJSON(result.Report, jsonPath); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", result.Notebook, err)
			continue
		}
		if err := renderer.RenderMarkdown(result.Report, mdPath); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write Markdown: %v\n", result.Notebook, err)
			continue
		}

		successCount++
		fmt.Fprintf(os.Stderr, "✓ %s (score: %.1f/100)\n", result.Notebook, result.Report.OverallScore)
	}

	// Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d notebooks\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Run ID:    %s\n", runID)
	fmt.Fprintf(os.Stderr, "\n")

	if failureCount > 0 && successCount == 0 {
		return fmt.Errorf("all %d evaluations failed", failureCount)
	}
	return nil
}

// sanitizeFilename turns a notebook path or URL into a safe report file stem
func sanitizeFilename(s string) string {
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, filepath.Ext(s))

	replacer := strings.NewReplacer(
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "-",
	)
	s = replacer.Replace(s)

	if s == "" || s == "." || s == ".." {
		s = "notebook"
	}

	// Limit length
	if r := []rune(s); len(r) > 100 {
		s = string(r[:100])
	}

	return s
}

// uniqueSlug suffixes repeated slugs so reports never overwrite each other,
// including notebooks whose own name looks like a suffixed slug
func uniqueSlug(used map[string]int, slug string) string {
	candidate := slug
	for i := used[slug] + 1; used[candidate] > 0; i++ {
		candidate = fmt.Sprintf("%s-%d", slug, i)
	}
	used[slug]++
	if candidate != slug {
		used[candidate]++
	}
	return candidate
}
