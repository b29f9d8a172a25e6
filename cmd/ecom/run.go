package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/SihanChen46/ecom/internal/app"
	"github.com/SihanChen46/ecom/internal/catalog"
	"github.com/SihanChen46/ecom/internal/config"
	"github.com/SihanChen46/ecom/internal/generate"
	"github.com/SihanChen46/ecom/internal/pipeline"
	"github.com/SihanChen46/ecom/internal/prompt"
)

type runFlags struct {
	mode    string
	model   string
	product string
	target  string
	limit   int
	workers int
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Generate images for one product",
		Long: `Classifies the given images and documents, builds or reuses the prompts
for the mode, generates every image and writes the task directory under the
output root.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f, args)
		},
	}

	cmd.Flags().StringVarP(&f.mode, "mode", "m", string(prompt.ModeCover), "generation mode: "+joinModes())
	cmd.Flags().StringVar(&f.model, "model", "", "model family, overrides ECOM_MODEL")
	cmd.Flags().StringVarP(&f.product, "product", "p", "", "product id, inferred from the catalog path when empty")
	cmd.Flags().StringVarP(&f.target, "target", "t", "", "also copy the task to this folder under the manual output root")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "generate only the first n prompts")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "concurrent requests, overrides ECOM_MAX_WORKERS")
	return cmd
}

func runCommand(ctx context.Context, stdout, stderr io.Writer, f runFlags, paths []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if f.model != "" {
		cfg.Model = strings.ToLower(strings.TrimSpace(f.model))
	}
	if f.workers > 0 {
		cfg.MaxWorkers = f.workers
	}

	mode, err := prompt.ParseMode(f.mode)
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg, stderr)

	bar := progressbar.NewOptions(expectedImages(mode, paths, f.limit),
		progressbar.OptionSetWriter(stderr),
		progressbar.OptionSetDescription(string(mode)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	p, err := app.NewPipeline(ctx, app.Options{
		Config:   cfg,
		Logger:   logger,
		OnResult: func(generate.Result) { _ = bar.Add(1) },
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	rep, runErr := p.Run(runCtx, pipeline.Request{
		Paths:     paths,
		ProductID: f.product,
		Mode:      mode,
		Target:    f.target,
		Limit:     f.limit,
	})
	_ = bar.Finish()

	if err := printReport(stdout, rep); err != nil {
		return err
	}
	return runErr
}

// expectedImages sizes the progress bar before prompts exist; -1 shows a
// spinner when the count cannot be known up front.
func expectedImages(mode prompt.Mode, paths []string, limit int) int {
	images := 0
	for _, p := range paths {
		if in, err := catalog.ClassifyPath(p); err == nil && in.Kind == catalog.KindImage {
			images++
		}
	}
	n := prompt.Count(mode, images)
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return -1
	}
	return n
}

func printReport(w io.Writer, rep pipeline.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(k string, v any) {
		fmt.Fprintf(tw, "%s\t%v\n", k, v)
	}

	row("task", rep.TaskID)
	row("product", valueOr(rep.ProductID, "-"))
	row("mode", rep.Mode)
	row("state", rep.State)
	row("prompts", fmt.Sprintf("%d (cache hit: %t)", rep.Prompts, rep.CacheHit))
	row("succeeded", rep.Succeeded)
	row("failed", rep.Failed)
	if len(rep.Skipped) > 0 {
		row("skipped", strings.Join(rep.Skipped, ", "))
	}
	row("output", valueOr(rep.Dir, "-"))
	if rep.TargetDir != "" {
		row("target", rep.TargetDir)
	}
	row("cost", fmt.Sprintf("$%.4f (%d images, %d tokens)", rep.Usage.CostUSD, rep.Usage.Images, rep.Usage.TotalTokens))
	if rep.Error != "" {
		row("error", rep.Error)
	}
	return tw.Flush()
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func joinModes() string {
	modes := prompt.Modes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, "|")
}
