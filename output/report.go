// Package output renders human-readable run reports from run summaries.
// The report is a convenience view; manifest.json and the audit log remain
// the machine-readable record.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/run"
)

// RenderReport converts a run summary to markdown.
func RenderReport(s *run.Summary) string {
	var sb strings.Builder

	sb.WriteString("# Run ")
	sb.WriteString(s.RunID)
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "**Workflow:** %s  \n", s.WorkflowName)
	fmt.Fprintf(&sb, "**Status:** %s  \n", s.Status)
	fmt.Fprintf(&sb, "**Started:** %s  \n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Ended:** %s  \n", s.EndedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Tokens used:** %d  \n", s.TokensUsedTotal)
	if s.TokensOverrun > 0 {
		fmt.Fprintf(&sb, "**Tokens over budget:** %d  \n", s.TokensOverrun)
	}
	fmt.Fprintf(&sb, "**Budget remaining:** %d\n\n", s.BudgetRemaining)

	sb.WriteString("## Steps\n\n")
	sb.WriteString("| Step | Status | Adapter | Attempts | Tokens | Error |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, res := range s.StepResults {
		errText := ""
		if res.Error != nil {
			errText = string(res.Error.Kind)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %d | %d | %s |\n",
			res.StepID, res.Status, orDash(res.ChosenAdapter),
			res.Attempts, res.TokensUsed, orDash(errText))
	}
	sb.WriteString("\n")

	writeGates(&sb, s)

	if len(s.ArtifactsIndex) > 0 {
		sb.WriteString("## Artifacts\n\n")
		sb.WriteString("| Path | Size | Digest | Produced by |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, desc := range s.ArtifactsIndex {
			fmt.Fprintf(&sb, "| %s | %d | %s | %s |\n",
				desc.Path, desc.SizeBytes, shortDigest(desc.Digest), desc.ProducedBy)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func writeGates(sb *strings.Builder, s *run.Summary) {
	any := false
	for _, res := range s.StepResults {
		if len(res.GateReport) > 0 {
			any = true
			break
		}
	}
	if !any {
		return
	}

	sb.WriteString("## Gates\n\n")
	sb.WriteString("| Step | Gate | Severity | Passed | Details |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, res := range s.StepResults {
		for _, g := range res.GateReport {
			fmt.Fprintf(sb, "| %s | %s | %s | %v | %s |\n",
				res.StepID, g.Kind, g.Severity, g.Passed, orDash(g.Details))
		}
	}
	sb.WriteString("\n")
}

// WriteReport renders the report and writes report.md into the run's
// artifact root.
func WriteReport(artifactRoot string, s *run.Summary) (string, error) {
	path := filepath.Join(artifactRoot, artifact.ReportName)
	if err := os.WriteFile(path, []byte(RenderReport(s)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
