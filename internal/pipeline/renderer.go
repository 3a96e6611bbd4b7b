package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ppiankov/nbgrade/internal/model"
)

const quoteMaxLen = 60

// Renderer writes reports as JSON, Markdown, or a terminal summary
type Renderer struct {
	includeFooter bool
}

// NewRenderer creates a new renderer
func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter}
}

// RenderJSON writes the report as indented JSON to path
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes the report as Markdown to path
func (r *Renderer) RenderMarkdown(report *model.Report, path string) error {
	return writeFile(path, []byte(r.Markdown(report)))
}

// Markdown formats the report as a Markdown document
func (r *Renderer) Markdown(report *model.Report) string {
	var b strings.Builder

	b.WriteString("# Notebook Evaluation\n\n")
	fmt.Fprintf(&b, "**Overall score:** %.1f / 100\n\n", report.OverallScore)

	bd := report.Breakdown
	b.WriteString("| Met | Partial | Missing | Critical failures |\n")
	b.WriteString("|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d |\n\n",
		bd.RequirementsMet, bd.RequirementsPartial, bd.RequirementsMissing, bd.CriticalFailures)

	b.WriteString("## Requirements\n\n")
	for _, rs := range report.PerRequirementStatus {
		fmt.Fprintf(&b, "### %s %s: %s\n\n", statusIcon(rs.Status), rs.RequirementID, rs.Description)
		fmt.Fprintf(&b, "- Status: %s (confidence %.2f)\n", rs.Status, rs.Confidence)
		fmt.Fprintf(&b, "- Points: %.1f / %.1f\n", rs.PointsEarned, rs.PointsPossible)
		if rs.Category != "" {
			fmt.Fprintf(&b, "- Category: %s\n", rs.Category)
		}
		if rs.EvidenceQuote != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", rs.EvidenceQuote)
		}
		if rs.Feedback != "" {
			fmt.Fprintf(&b, "\n%s\n", rs.Feedback)
		}
		b.WriteString("\n")
	}

	if r.includeFooter {
		fmt.Fprintf(&b, "---\n_Generated by nbgrade at %s_\n", report.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}

	return b.String()
}

// WriteSummary prints a colored score line and a requirements table
func (r *Renderer) WriteSummary(w io.Writer, report *model.Report) {
	scoreColor := color.New(color.FgGreen, color.Bold)
	switch {
	case report.OverallScore < 50:
		scoreColor = color.New(color.FgRed, color.Bold)
	case report.OverallScore < 80:
		scoreColor = color.New(color.FgYellow, color.Bold)
	}

	_, _ = scoreColor.Fprintf(w, "Score: %.1f / 100\n", report.OverallScore)

	bd := report.Breakdown
	fmt.Fprintf(w, "Met: %d | Partial: %d | Missing: %d", bd.RequirementsMet, bd.RequirementsPartial, bd.RequirementsMissing)
	if bd.CriticalFailures > 0 {
		_, _ = color.New(color.FgRed).Fprintf(w, " | Critical failures: %d", bd.CriticalFailures)
	}
	fmt.Fprintln(w)

	if len(report.PerRequirementStatus) == 0 {
		return
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.AppendHeader(table.Row{"ID", "Requirement", "Status", "Conf", "Points", "Evidence"})

	for _, rs := range report.PerRequirementStatus {
		tbl.AppendRow(table.Row{
			rs.RequirementID,
			truncate(rs.Description, quoteMaxLen),
			statusText(rs.Status),
			fmt.Sprintf("%.2f", rs.Confidence),
			fmt.Sprintf("%.1f/%.1f", rs.PointsEarned, rs.PointsPossible),
			truncate(oneLine(rs.EvidenceQuote), quoteMaxLen),
		})
	}

	tbl.Render()
}

func statusText(s model.Status) string {
	switch s {
	case model.StatusPass:
		return color.GreenString(string(s))
	case model.StatusPartial:
		return color.YellowString(string(s))
	case model.StatusFail:
		return color.RedString(string(s))
	default:
		return color.HiBlackString(string(s))
	}
}

func statusIcon(s model.Status) string {
	switch s {
	case model.StatusPass:
		return "✅"
	case model.StatusPartial:
		return "🟡"
	case model.StatusFail:
		return "❌"
	default:
		return "❔"
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
