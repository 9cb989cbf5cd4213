package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spachava753/sortbatch/internal/config"
	"github.com/spachava753/sortbatch/internal/executor"
	"github.com/spachava753/sortbatch/internal/models"
)

var runCmd = &cobra.Command{
	Use:   "run [epoch-dirs...]",
	Short: "Link epochs and process every unit",
	Long: `Run links the epoch directories, in the order given, into the output root
and processes each unit to DONE or FAILED. Epoch directories on the command
line replace those in the config file.

The command exits non-zero only when the batch cannot be set up. Unit
failures are reported in the outcome table and in report.json; re-run the
same command to retry them.`,
	RunE: runBatch,
}

func init() {
	addBatchFlags(runCmd)
	runCmd.Flags().Int("parallelism", 0, "units processed at once")
	runCmd.Flags().String("strategy", "", "scheduling strategy: pool or wave")
	runCmd.Flags().Bool("mask-artifacts", false, "mask high-amplitude artifacts before whitening")
	runCmd.Flags().Bool("clear-intermediates", false, "reclaim superseded intermediate artifacts")
	runCmd.Flags().String("cleanup-policy", "", "archive or delete")
	runCmd.Flags().String("scratch-dir", "", "where archived artifacts are moved (default <output-root>/.scratch, which frees no space on the output volume)")
	runCmd.Flags().String("sort-mode", "", "segmented or full")
	runCmd.Flags().String("processor", "", "processor runner: local or docker")
	runCmd.Flags().String("executable", "", "processor executable")
	runCmd.Flags().String("image", "", "container image for the docker runner")
	runCmd.Flags().String("metrics-file", "", "write Prometheus metrics to this textfile")

	rootCmd.AddCommand(runCmd)
}

// addBatchFlags registers the flags shared by every command that works on an
// output tree.
func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-root", "", "output root directory")
	cmd.Flags().String("units", "", `unit indices, e.g. "1-4,7" (default: all found)`)
	cmd.Flags().String("params", "", "stage parameters file (TOML)")
}

// loadConfig builds the batch config: defaults, then the config file, then
// flags and SORTBATCH_* variables, then positional epoch directories.
func loadConfig(args []string) (models.BatchConfig, error) {
	cfg := config.DefaultBatchConfig()
	if path := viper.GetString("config"); path != "" {
		var err error
		cfg, err = config.LoadBatchConfig(path)
		if err != nil {
			return cfg, err
		}
	}

	setString := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	setString("output_root", &cfg.OutputRoot)
	setString("scratch_dir", &cfg.ScratchDir)
	setString("units", &cfg.Units)
	setString("metrics_file", &cfg.MetricsFile)
	setString("executable", &cfg.Processor.Executable)
	setString("image", &cfg.Processor.Image)
	setString("processor", &cfg.Processor.Type)
	setString("log_level", &cfg.LogLevel)

	if viper.IsSet("parallelism") {
		cfg.Parallelism = viper.GetInt("parallelism")
	}
	if viper.IsSet("strategy") {
		cfg.Strategy = models.Strategy(viper.GetString("strategy"))
	}
	if viper.IsSet("cleanup_policy") {
		cfg.CleanupPolicy = models.CleanupPolicy(viper.GetString("cleanup_policy"))
	}
	if viper.IsSet("sort_mode") {
		cfg.SortMode = models.SortMode(viper.GetString("sort_mode"))
	}
	if viper.IsSet("mask_artifacts") {
		cfg.MaskArtifacts = viper.GetBool("mask_artifacts")
	}
	if viper.IsSet("clear_intermediates") {
		cfg.ClearIntermediates = viper.GetBool("clear_intermediates")
	}

	if path := viper.GetString("params"); path != "" {
		params, err := config.LoadStageParams(path)
		if err != nil {
			return cfg, err
		}
		cfg.ParamsFile = path
		cfg.Params = params
	}

	if len(args) > 0 {
		cfg.Epochs = args
	}

	config.ApplyDefaults(&cfg)
	return cfg, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if !viper.IsSet("log_level") && cfg.LogLevel != "" {
		if err := setupLogging(cfg.LogLevel); err != nil {
			return err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	orchestrator, err := executor.NewBatchOrchestrator(cfg, executor.DefaultUnitExecutorFunc)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	result, err := orchestrator.Run(cmd.Context())
	if err != nil {
		return err
	}

	renderBatch(os.Stdout, result)
	return nil
}
