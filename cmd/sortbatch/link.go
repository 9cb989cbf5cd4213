package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/spachava753/sortbatch/internal/linker"
	"github.com/spachava753/sortbatch/internal/util"
)

var linkCmd = &cobra.Command{
	Use:   "link [epoch-dirs...]",
	Short: "Write epoch descriptors for each unit without processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}
		if len(cfg.Epochs) == 0 {
			return fmt.Errorf("no epoch directories given")
		}
		units, err := util.ParseIndexRange(cfg.Units)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.OutputRoot, 0755); err != nil {
			return fmt.Errorf("creating output root: %w", err)
		}

		res, err := linker.New().Link(cmd.Context(), cfg.Epochs, cfg.OutputRoot, units)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Linked %d epochs into %s\n", len(res.Epochs), cfg.OutputRoot)
		for _, u := range res.Units {
			fmt.Fprintf(out, "  unit %d: %d epochs\n", u, res.Linked[u])
		}
		missing := make([]int, 0, len(res.Missing))
		for u := range res.Missing {
			missing = append(missing, u)
		}
		slices.Sort(missing)
		for _, u := range missing {
			fmt.Fprintf(out, "  unit %d: missing from %v\n", u, res.Missing[u])
		}
		return nil
	},
}

func init() {
	addBatchFlags(linkCmd)
	rootCmd.AddCommand(linkCmd)
}
