package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SihanChen46/ecom/internal/backend"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ecom",
		Short:        "Generate e-commerce product images",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newTitleCmd(), newModelsCmd())
	return root
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List model families and their model ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FAMILY\tMODEL")
			for _, m := range backend.Models() {
				fmt.Fprintf(w, "%s\t%s\n", m.Family, m.ID)
			}
			return w.Flush()
		},
	}
}
