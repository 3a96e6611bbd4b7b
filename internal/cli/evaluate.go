package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	outJSON   string
	outMD     string
	timeout   time.Duration
	noFooter  bool
	topK      int
	evWorkers int
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate <assignment> <notebook>",
	Short: "Grade one notebook against an assignment",
	Long: `Evaluate grades a single notebook:
- Validate the notebook structure
- Split cells into overlapping chunks
- Compile the assignment into a weighted rubric
- Gather evidence for every requirement concurrently
- Score the requirements and print a report

Both arguments may be local paths or http(s) URLs.

Example:
  nbgrade evaluate assignment.md submission.ipynb
  nbgrade evaluate assignment.md submission.ipynb --json report.json --md report.md
  nbgrade evaluate https://course.example.com/hw1.html submission.ipynb --backend openai`,
	Args: cobra.ExactArgs(2),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	// Output flags
	evaluateCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (optional)")
	evaluateCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")
	evaluateCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")

	// Evaluation flags
	evaluateCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall evaluation timeout")
	evaluateCmd.Flags().IntVar(&topK, "top-k", 0, "chunks retrieved per requirement (default from config)")
	evaluateCmd.Flags().IntVar(&evWorkers, "evidence-workers", 0, "concurrent requirement evaluations (default from config)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	assignment, notebook := args[0], args[1]
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	applyEvaluationFlags(cmd)

	a, err := newApp()
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Assignment: %s\n", assignment)
		fmt.Fprintf(os.Stderr, "Notebook:   %s\n", notebook)
		fmt.Fprintf(os.Stderr, "Backend:    %s\n", a.service.Name())
		fmt.Fprintf(os.Stderr, "Cache:      %v\n", a.cfg.Cache.Enabled)
		fmt.Fprintln(os.Stderr)
	}

	fmt.Fprintf(os.Stderr, "⚙️  Evaluating notebook...\n")

	report, err := a.pipeline.EvaluateFiles(ctx, assignment, notebook)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "✓ Graded %d requirements in %dms\n\n", len(report.PerRequirementStatus), report.Timings.Total)

	renderer := a.pipeline.Renderer()
	renderer.WriteSummary(os.Stdout, report)

	// Render outputs
	if outJSON != "" {
		if err := renderer.RenderJSON(report, outJSON); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
	}
	if outMD != "" {
		if err := renderer.RenderMarkdown(report, outMD); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote Markdown: %s\n", outMD)
	}

	return nil
}

// applyEvaluationFlags pushes changed command flags into viper
func applyEvaluationFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("no-footer") {
		setOverride("output.include_footer", !noFooter)
	}
	if cmd.Flags().Changed("top-k") {
		setOverride("concurrency.top_k", topK)
	}
	if cmd.Flags().Changed("evidence-workers") {
		setOverride("concurrency.evidence_workers", evWorkers)
	}
}
