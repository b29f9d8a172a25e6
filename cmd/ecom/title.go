package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SihanChen46/ecom/internal/app"
	"github.com/SihanChen46/ecom/internal/config"
	"github.com/SihanChen46/ecom/internal/title"
)

type titleFlags struct {
	model   string
	product string
}

func newTitleCmd() *cobra.Command {
	var f titleFlags
	cmd := &cobra.Command{
		Use:   "title [files...]",
		Short: "Write listing titles for one product",
		Long: `Sends the first image and every document to the analysis model and saves
the suggested titles to title.json under the product's output folder.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return titleCommand(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f, args, nil)
		},
	}

	cmd.Flags().StringVar(&f.model, "model", "", "model family, overrides ECOM_MODEL")
	cmd.Flags().StringVarP(&f.product, "product", "p", "", "product id, inferred from the catalog path when empty")
	return cmd
}

// titleCommand prints the saved titles as indented JSON. opts carries
// injected dependencies for tests; nil builds them from the environment.
func titleCommand(ctx context.Context, stdout, stderr io.Writer, f titleFlags, paths []string, opts *app.Options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if f.model != "" {
		cfg.Model = strings.ToLower(strings.TrimSpace(f.model))
	}

	o := app.Options{}
	if opts != nil {
		o = *opts
	}
	o.Config = cfg
	if o.Logger == nil {
		o.Logger = app.NewLogger(cfg, stderr)
	}

	g, err := app.NewTitleGenerator(ctx, o)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	res, err := g.Generate(runCtx, title.Request{Paths: paths, ProductID: f.product})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res.Titles); err != nil {
		return err
	}
	if res.Path != "" {
		fmt.Fprintf(stderr, "saved %s\n", res.Path)
	}
	return nil
}
