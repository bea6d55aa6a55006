package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cellflip/cellflip/cf"
	_ "github.com/cellflip/cellflip/cf/onnx" // register the onnx classifier backend
)

var (
	// CLI flags for the batch run
	configPath     string  // Engine config YAML
	patchesPath    string  // Patch bundle with the query instances
	querySplit     string  // Split of the bundle to run counterfactuals for
	referencesPath string  // Patch bundle for the reference pool (defaults to --patches)
	refSplit       string  // Split used to build the reference pool
	outputDir      string  // Per-instance record output directory
	numWorkers     int     // Parallel workers
	seed           int64   // Master seed
	targetClass    int     // Class to flip predictions toward
	classifierPath string  // Model artifact override
	device         string  // Classifier compute backend (cpu, cuda)
	cInit          float64 // Initial trade-off coefficient
	cSteps         int     // Outer bisection rounds
	maxIterations  int     // Optimizer iterations per round
)

// runCmd executes a batch counterfactual search using parameters from the
// config file, with CLI flags taking precedence.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch counterfactual search",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadRunConfig(cmd)
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		// Fail fast on classifier problems before any work is dispatched.
		clf, err := cf.NewClassifier(cfg.Classifier)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		queries, refs := loadBundles()

		pool := cf.NewReferencePool(refs)
		index, err := cf.NewIndex(pool, cfg.UseKDTree)
		if err != nil {
			logrus.Fatalf("Failed to build nearest-neighbor index: %v", err)
		}
		logrus.Infof("reference pool: %d patches across classes %v", pool.Size(), pool.Classes())

		// SIGINT/SIGTERM stop scheduling new jobs; completed records are
		// already on disk, so the run can be resumed with the same output dir.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, summary, err := cf.RunBatch(ctx, queries, clf, index, cfg, outputDir)
		if err != nil {
			logrus.Fatalf("Batch failed: %v", err)
		}
		summary.Print()
	},
}

// loadRunConfig loads the YAML config (or defaults) and applies CLI overrides
// for flags the user set explicitly.
func loadRunConfig(cmd *cobra.Command) *cf.Config {
	var cfg *cf.Config
	if configPath != "" {
		loaded, err := cf.LoadConfig(configPath)
		if err != nil {
			logrus.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = cf.DefaultConfig()
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("target-class") {
		cfg.TargetClass = targetClass
	}
	if flags.Changed("workers") {
		cfg.NumWorkers = numWorkers
	}
	if flags.Changed("classifier") {
		cfg.Classifier.Path = classifierPath
	}
	if flags.Changed("device") {
		cfg.Classifier.Device = device
	}
	if flags.Changed("c-init") {
		cfg.CInit = cInit
	}
	if flags.Changed("c-steps") {
		cfg.CSteps = cSteps
	}
	if flags.Changed("max-iterations") {
		cfg.MaxIterations = maxIterations
	}
	return cfg
}

// loadBundles reads the query and reference patch bundles.
func loadBundles() (queries, refs []*cf.Instance) {
	if patchesPath == "" {
		logrus.Fatalf("--patches is required")
	}
	bundle, err := cf.LoadPatchBundle(patchesPath)
	if err != nil {
		logrus.Fatalf("Failed to load patches: %v", err)
	}
	queries = bundle.Instances(querySplit)
	if len(queries) == 0 {
		logrus.Fatalf("No query patches in %s for split %q", patchesPath, querySplit)
	}

	refBundle := bundle
	if referencesPath != "" && referencesPath != patchesPath {
		refBundle, err = cf.LoadPatchBundle(referencesPath)
		if err != nil {
			logrus.Fatalf("Failed to load references: %v", err)
		}
	}
	refs = refBundle.Instances(refSplit)
	if len(refs) == 0 {
		logrus.Fatalf("No reference patches for split %q", refSplit)
	}
	return queries, refs
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Engine config YAML")
	runCmd.Flags().StringVar(&patchesPath, "patches", "", "Patch bundle with query instances")
	runCmd.Flags().StringVar(&querySplit, "split", "test", "Bundle split to search counterfactuals for")
	runCmd.Flags().StringVar(&referencesPath, "references", "", "Patch bundle for the reference pool (defaults to --patches)")
	runCmd.Flags().StringVar(&refSplit, "ref-split", "train", "Split used to build the reference pool")
	runCmd.Flags().StringVar(&outputDir, "output", "results", "Output directory for per-instance records")
	runCmd.Flags().IntVar(&numWorkers, "workers", 1, "Number of parallel workers")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master seed for deterministic search")
	runCmd.Flags().IntVar(&targetClass, "target-class", 0, "Class to flip predictions toward")
	runCmd.Flags().StringVar(&classifierPath, "classifier", "", "Classifier model artifact path")
	runCmd.Flags().StringVar(&device, "device", "cpu", "Classifier compute backend (cpu, cuda)")
	runCmd.Flags().Float64Var(&cInit, "c-init", 1.0, "Initial trade-off coefficient")
	runCmd.Flags().IntVar(&cSteps, "c-steps", 5, "Outer bisection rounds")
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 500, "Optimizer iterations per round")

	rootCmd.AddCommand(runCmd)
}
