package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/veridoc-ai/remediation-engine/cmd/remediate/ui"
	"github.com/veridoc-ai/remediation-engine/internal/pipeline"
)

var (
	runUserID string
	runOutput string
)

var runCmd = &cobra.Command{
	Use:   "run <file.pdf>",
	Short: "Remediate a single document",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runUserID, "user", "u", "", "user id charged for the run (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "path for the repaired document (default: <file>.remediated.pdf)")
	_ = runCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	orchestrator, closeAll, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	sp := ui.NewSpinner(fmt.Sprintf("Remediating %s...", filepath.Base(path)))
	sp.Start()
	result := orchestrator.Execute(context.Background(), pipeline.Request{
		UserID:   runUserID,
		FileName: filepath.Base(path),
		Data:     data,
	})
	sp.Stop()

	if result.State != pipeline.StateCompleted {
		ui.Error("Run %s: %s", result.State, result.Err.Message)
		return fmt.Errorf("run did not complete")
	}

	printRunSummary(result)

	out := runOutput
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".remediated.pdf"
	}
	if err := os.WriteFile(out, result.Document.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write repaired document: %w", err)
	}
	ui.Success("Repaired document written to %s", out)
	return nil
}

func printRunSummary(result *pipeline.Result) {
	c := result.Comparison
	ui.Success("Run %s completed in %s", result.RunID, result.Telemetry.Duration.Round(10*time.Millisecond))
	ui.Message("  Issues found:  %d", c.OriginalFailed)
	ui.Message("  Issues fixed:  %d (%d%%)", len(c.Fixed), c.ImprovementPercentage)
	ui.Message("  Remaining:     %d", len(c.Remaining))

	if result.Telemetry.TaggingDegraded {
		ui.Warning("Structure tagging was unavailable; results may be incomplete")
	}
	if result.Telemetry.RepairFailed {
		ui.Warning("Automated repair failed; the original document was kept")
	}

	cats := make([]string, 0, len(c.ByCategory))
	for cat := range c.ByCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		d := c.ByCategory[cat]
		ui.Message("  %-16s %d -> %d", cat, d.Before, d.After)
	}

	if len(result.Suggestions) > 0 {
		ui.Info("Manual remediation guidance for %d remaining issue(s):", len(result.Suggestions))
		for i, s := range result.Suggestions {
			if s.Recommendation == "" {
				continue
			}
			ui.Message("  %d. [%s] %s", i+1, s.Issue.RuleID, s.Recommendation)
		}
	}
}
