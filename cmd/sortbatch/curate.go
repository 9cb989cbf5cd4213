package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spachava753/sortbatch/internal/config"
	"github.com/spachava753/sortbatch/internal/curation"
)

var curateCmd = &cobra.Command{
	Use:   "curate <metrics.json>",
	Short: "Apply curation cutoffs to a metrics document",
	Long: `Curate evaluates every cluster in a metrics document against the cutoffs
from the stage parameters and prints the decision for each. With --output the
tagged document is written as well.`,
	Args: cobra.ExactArgs(1),
	RunE: curateMetrics,
}

func curateMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	if err := config.ValidateStageParams(cfg.Params); err != nil {
		return err
	}
	doc, err := curation.Load(args[0])
	if err != nil {
		return err
	}

	decisions := curation.Apply(doc, cfg.Params.Cutoffs)
	out := cmd.OutOrStdout()
	accepted := 0
	for _, d := range decisions {
		if d.Accepted {
			accepted++
			fmt.Fprintf(out, "%4d  accepted\n", d.Label)
			continue
		}
		fmt.Fprintf(out, "%4d  rejected  %s\n", d.Label, strings.Join(d.Reasons, "; "))
	}
	fmt.Fprintf(out, "%d of %d clusters accepted\n", accepted, len(decisions))

	if path, _ := cmd.Flags().GetString("output"); path != "" {
		if err := curation.Save(path, doc); err != nil {
			return fmt.Errorf("saving curated metrics: %w", err)
		}
	}
	return nil
}

func init() {
	curateCmd.Flags().String("params", "", "stage parameters file (TOML)")
	curateCmd.Flags().StringP("output", "o", "", "write the tagged metrics document here")
	rootCmd.AddCommand(curateCmd)
}
