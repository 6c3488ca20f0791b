// Command bayopt runs Bayesian optimization of a benchmark objective from
// the command line and prints the result as JSON.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/covariant-dev/bayopt/internal/benchmarks"
	"github.com/covariant-dev/bayopt/internal/bo"
	"github.com/covariant-dev/bayopt/internal/bo/registry"
	"github.com/covariant-dev/bayopt/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bayopt",
		Short:         "Bayesian optimization toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newListCmd())
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available benchmark objectives",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{"sphere", "rosenbrock", "branin", "camel"} {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an optimization of a benchmark objective",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile := v.GetString("config"); cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config: %w", err)
				}
			}
			return runOptimization(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "problem file (yaml or json); flags override it")
	flags.String("objective", "branin", "benchmark objective name")
	flags.Int("dimensions", 2, "dimensionality for scalable objectives")
	flags.String("model", bo.ModelGP, "surrogate model type")
	flags.String("acquisition", bo.AcqEI, "acquisition function type")
	flags.String("optimizer", bo.OptLBFGS, "acquisition optimizer type")
	flags.String("evaluator", bo.EvalSequential, "evaluator type")
	flags.Int("iterations", 50, "iteration budget")
	flags.Int("batch-size", 1, "points proposed per iteration")
	flags.Int("num-cores", 1, "parallel objective evaluations")
	flags.Int("initial-points", 7, "initial design size")
	flags.Float64("eps", 0, "convergence distance threshold (0 disables)")
	flags.Bool("maximize", false, "maximize instead of minimize")
	flags.Bool("exact-feval", false, "treat evaluations as noiseless")
	flags.Bool("dedup", false, "replace duplicate proposals with random points")
	flags.Int64("seed", 0, "random seed (0 seeds from the clock)")
	flags.String("log-level", "warn", "log verbosity")

	v.BindPFlags(flags)
	return cmd
}

func runOptimization(cmd *cobra.Command, v *viper.Viper) error {
	bench, ok := benchmarks.Lookup(v.GetString("objective"), v.GetInt("dimensions"))
	if !ok {
		return fmt.Errorf("unknown objective %q", v.GetString("objective"))
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  v.GetString("log-level"),
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := bo.DefaultOptions()
	opts.Domain = bench.Domain
	opts.ModelType = v.GetString("model")
	opts.AcquisitionType = v.GetString("acquisition")
	opts.AcquisitionOptimizerType = v.GetString("optimizer")
	opts.EvaluatorType = v.GetString("evaluator")
	opts.MaxIterations = v.GetInt("iterations")
	opts.BatchSize = v.GetInt("batch-size")
	opts.NumCores = v.GetInt("num-cores")
	opts.InitialDesignNumData = v.GetInt("initial-points")
	opts.Eps = v.GetFloat64("eps")
	opts.Maximize = v.GetBool("maximize")
	opts.ExactFeval = v.GetBool("exact-feval")
	opts.DeDuplication = v.GetBool("dedup")
	opts.RandomSeed = v.GetInt64("seed")

	hooks := bo.Hooks{
		OnIteration: func(info bo.IterationInfo) {
			logger.Info("iteration",
				zap.Int("iteration", info.Iteration),
				zap.Float64("best_y", info.BestY),
				zap.Bool("refitted", info.Refitted))
		},
	}

	driver, err := registry.NewDriver(opts, bench.F, logger, hooks)
	if err != nil {
		return err
	}

	result, err := driver.Run(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
