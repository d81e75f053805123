package main

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/sls"
)

var (
	dims       int
	iters      int
	seed       int64
	restarts   int
	targetSpec string
	configPath string
)

// runConfig is the optional YAML form of the run parameters. Flags that were
// set explicitly on the command line override the file.
type runConfig struct {
	Dims       int       `yaml:"dims"`
	Iterations int       `yaml:"iterations"`
	Seed       int64     `yaml:"seed"`
	Restarts   int       `yaml:"restarts"`
	Target     []float64 `yaml:"target"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run sequential line search against a synthetic oracle",
	Long: `Runs the optimization loop with a simulated user that always picks the
slider point closest to a hidden target vector, and reports how close the
best estimate gets.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().IntVar(&dims, "dims", 5, "Dimensionality of the search space")
	runCmd.Flags().IntVar(&iters, "iters", 30, "Number of slider judgments")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 = time-based)")
	runCmd.Flags().IntVar(&restarts, "restarts", 3, "Hyperparameter fit restarts")
	runCmd.Flags().StringVar(&targetSpec, "target", "", "Hidden target as comma-separated values in [0,1] (random when empty)")
	runCmd.Flags().StringVar(&configPath, "config", "", "Optional YAML run configuration")

	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	target, err := parseTarget(targetSpec)
	if err != nil {
		return err
	}

	if configPath != "" {
		fc, err := loadRunConfig(configPath)
		if err != nil {
			return err
		}

		if !cmd.Flags().Changed("dims") && fc.Dims > 0 {
			dims = fc.Dims
		}
		if !cmd.Flags().Changed("iters") && fc.Iterations > 0 {
			iters = fc.Iterations
		}
		if !cmd.Flags().Changed("seed") && fc.Seed != 0 {
			seed = fc.Seed
		}
		if !cmd.Flags().Changed("restarts") && fc.Restarts > 0 {
			restarts = fc.Restarts
		}
		if !cmd.Flags().Changed("target") && len(fc.Target) > 0 {
			target = fc.Target
		}
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	if len(target) == 0 {
		rng := rand.New(rand.NewSource(seed))

		target = make([]float64, dims)
		for i := range target {
			target[i] = rng.Float64()
		}
	}

	if len(target) != dims {
		if !cmd.Flags().Changed("dims") {
			dims = len(target)
		} else {
			return fmt.Errorf("target has %d values, dims is %d", len(target), dims)
		}
	}

	config := sls.DefaultConfig()
	config.Seed = seed
	config.Restarts = restarts
	config.Logger = logger

	session, err := sls.NewSession(dims, config)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("Starting optimization",
		"session", session.ID(), "dims", dims, "iters", iters, "seed", seed)

	start := time.Now()

	for it := 0; it < iters; it++ {
		a, err := session.PointAtSlider(0)
		if err != nil {
			return err
		}

		b, err := session.PointAtSlider(1)
		if err != nil {
			return err
		}

		if err := session.SubmitPreference(closestPosition(a, b, target)); err != nil {
			return fmt.Errorf("iteration %d failed: %w", it, err)
		}

		slog.Debug("Iteration complete",
			"iteration", session.Iteration(),
			"distance", targetDistance(session.BestEstimate(), target))
	}

	best := session.BestEstimate()

	slog.Info("Optimization complete",
		"elapsed", time.Since(start).String(),
		"best", best,
		"target", target,
		"distance", targetDistance(best, target))

	return nil
}

// closestPosition is the synthetic oracle: the slider position of the point
// on the segment a->b closest to target, the projection
// <b-a, target-a> / |b-a|^2 clamped to [0,1].
func closestPosition(a, b, target []float64) float64 {
	var proj, norm float64

	for i := range a {
		d := b[i] - a[i]

		proj += d * (target[i] - a[i])
		norm += d * d
	}

	if norm == 0 {
		return 0
	}

	return math.Max(0, math.Min(1, proj/norm))
}

func targetDistance(x, target []float64) float64 {
	var sum float64

	for i := range x {
		diff := x[i] - target[i]

		sum += diff * diff
	}

	return math.Sqrt(sum)
}

func parseTarget(spec string) ([]float64, error) {
	if spec == "" {
		return nil, nil
	}

	parts := strings.Split(spec, ",")

	target := make([]float64, len(parts))

	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse target component %q: %w", p, err)
		}

		target[i] = v
	}

	return target, nil
}

func loadRunConfig(path string) (*runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var fc runConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &fc, nil
}
