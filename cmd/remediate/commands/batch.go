package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/veridoc-ai/remediation-engine/cmd/remediate/ui"
	"github.com/veridoc-ai/remediation-engine/internal/pipeline"
)

var (
	batchUserID      string
	batchConcurrency int
	batchOutputDir   string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir-or-glob>",
	Short: "Remediate every matching document",
	Long: `Batch runs the remediation pipeline over every PDF matched by the
argument, which is either a directory or a glob pattern. Documents are
processed concurrently; each gets its own run and its own credit charge.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchUserID, "user", "u", "", "user id charged for the runs (required)")
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "j", 3, "documents processed in parallel")
	batchCmd.Flags().StringVarP(&batchOutputDir, "output-dir", "o", "", "directory for repaired documents (default: alongside inputs)")
	_ = batchCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	files, err := expandBatchArg(args[0])
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no PDF files matched %q", args[0])
	}

	orchestrator, closeAll, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	bar := ui.NewProgressBar(int64(len(files)), "remediating")

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(batchConcurrency)

	type batchItem struct {
		file   string
		result *pipeline.Result
	}
	results := make([]batchItem, len(files))

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			result := orchestrator.Execute(ctx, pipeline.Request{
				UserID:   batchUserID,
				FileName: filepath.Base(file),
				Data:     data,
			})
			results[i] = batchItem{file: file, result: result}
			if result.State == pipeline.StateCompleted {
				if err := writeBatchOutput(file, result); err != nil {
					return err
				}
			}
			_ = bar.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	completed, failed := 0, 0
	for _, item := range results {
		if item.result == nil {
			continue
		}
		if item.result.State == pipeline.StateCompleted {
			completed++
			c := item.result.Comparison
			ui.Success("%s: %d fixed, %d remaining (%d%%)",
				filepath.Base(item.file), len(c.Fixed), len(c.Remaining), c.ImprovementPercentage)
		} else {
			failed++
			ui.Error("%s: %s (%s)", filepath.Base(item.file), item.result.State, item.result.Err.Message)
		}
	}
	ui.Message("Batch done: %d completed, %d failed", completed, failed)
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed", failed)
	}
	return nil
}

func expandBatchArg(arg string) ([]string, error) {
	info, err := os.Stat(arg)
	if err == nil && info.IsDir() {
		return filepath.Glob(filepath.Join(arg, "*.pdf"))
	}
	matches, err := filepath.Glob(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", arg, err)
	}
	var pdfs []string
	for _, m := range matches {
		if strings.EqualFold(filepath.Ext(m), ".pdf") {
			pdfs = append(pdfs, m)
		}
	}
	return pdfs, nil
}

func writeBatchOutput(file string, result *pipeline.Result) error {
	out := strings.TrimSuffix(file, filepath.Ext(file)) + ".remediated.pdf"
	if batchOutputDir != "" {
		out = filepath.Join(batchOutputDir, filepath.Base(out))
	}
	if err := os.WriteFile(out, result.Document.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}
