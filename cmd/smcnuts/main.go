// Command smcnuts runs the SMC-NUTS sampler against a built-in multivariate
// Gaussian target and reports its diagnostics. Results can optionally be
// persisted to a sqlite run store and rendered as PNG trace plots or an
// interactive HTML report.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/particlefield/smcnuts/internal/config"
	"github.com/particlefield/smcnuts/internal/model"
	"github.com/particlefield/smcnuts/internal/monitor"
	"github.com/particlefield/smcnuts/internal/randx"
	"github.com/particlefield/smcnuts/internal/runstore"
	"github.com/particlefield/smcnuts/internal/smc"
	"github.com/particlefield/smcnuts/internal/version"
)

var (
	configPath = flag.String("config", "", "Optional JSON tuning file")
	particles  = flag.Int("particles", 500, "Number of particles (N)")
	iterations = flag.Int("iterations", 20, "Number of iterations (K)")
	stepSize   = flag.Float64("step", 0.5, "Leapfrog step size")
	lkernel    = flag.String("lkernel", "forwards", "L-kernel: forwards, gaussian or asymptotic")
	tempering  = flag.Bool("tempering", false, "Enable target tempering")
	seed       = flag.Uint64("seed", 0, "RNG seed")
	dim        = flag.Int("dim", 2, "Target dimensionality")
	dbPath     = flag.String("db", "", "Optional sqlite run store path")
	plotDir    = flag.String("plots", "", "Optional directory for PNG trace plots")
	reportPath = flag.String("report", "", "Optional path for the HTML report")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
	showVer    = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Printf("smcnuts %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if err := run(); err != nil {
		log.Fatalf("smcnuts: %v", err)
	}
}

// flagOverrides returns a config carrying only the flags passed explicitly
// on the command line, so they can be overlaid on a loaded tuning file.
func flagOverrides() *config.SamplerConfig {
	o := &config.SamplerConfig{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "particles":
			o.Particles = particles
		case "iterations":
			o.Iterations = iterations
		case "step":
			o.StepSize = stepSize
		case "lkernel":
			o.LKernel = lkernel
		case "tempering":
			o.Tempering = tempering
		case "seed":
			o.Seed = seed
		}
	})
	return o
}

func run() error {
	// Tuning file first, then explicit flags on top. Fields without a flag
	// (ess_threshold_frac, max_tree_depth) come from the file or defaults.
	cfg := config.DefaultSamplerConfig()
	if *configPath != "" {
		loaded, err := config.LoadSamplerConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.Merge(flagOverrides())

	smcCfg, err := cfg.SMCConfig()
	if err != nil {
		return err
	}

	rng := randx.NewStream(cfg.SeedValue())

	target, err := model.NewStandardGaussian(*dim, 3.0)
	if err != nil {
		return err
	}
	proposal, err := model.NewIsotropicProposal(*dim, 3.0, rng)
	if err != nil {
		return err
	}

	sampler, err := smc.NewSampler(smcCfg, target, proposal, rng)
	if err != nil {
		return err
	}

	log.Printf("[smcnuts] N=%d K=%d step=%g lkernel=%s tempering=%v seed=%d dim=%d",
		smcCfg.Particles, smcCfg.Iterations, smcCfg.StepSize, smcCfg.LKernel, smcCfg.Tempering, cfg.SeedValue(), *dim)

	if err := sampler.Sample(!*quiet); err != nil {
		return err
	}

	K := smcCfg.Iterations
	fmt.Printf("run time:       %s\n", sampler.RunTime)
	fmt.Printf("final phi:      %.4f\n", sampler.Phi[K])
	fmt.Printf("final ess:      %.1f\n", sampler.ESS[K])
	fmt.Printf("mean estimate:  %v\n", sampler.MeanEstimate[K])
	fmt.Printf("var estimate:   %v\n", sampler.VarianceEstimate[K])

	traces := monitor.Collect(sampler)

	if *dbPath != "" {
		store, err := runstore.Open(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		runID := uuid.New()
		if err := store.SaveRun(runstore.Run{
			ID:             runID,
			Target:         fmt.Sprintf("gaussian-%dd", *dim),
			Particles:      smcCfg.Particles,
			Iterations:     smcCfg.Iterations,
			StepSize:       smcCfg.StepSize,
			LKernel:        smcCfg.LKernel.String(),
			Tempering:      smcCfg.Tempering,
			Seed:           cfg.SeedValue(),
			RunTimeSeconds: sampler.RunTime.Seconds(),
		}); err != nil {
			return err
		}
		if err := store.SaveIterations(runID, sampler); err != nil {
			return err
		}
		log.Printf("[smcnuts] stored run %s in %s", runID, *dbPath)
	}

	if *plotDir != "" {
		plotter, err := monitor.NewTracePlotter(*plotDir)
		if err != nil {
			return err
		}
		count, err := plotter.GeneratePlots(traces)
		if err != nil {
			return err
		}
		log.Printf("[smcnuts] wrote %d plots to %s", count, *plotDir)
	}

	if *reportPath != "" {
		if err := os.MkdirAll(filepath.Dir(*reportPath), 0755); err != nil {
			return fmt.Errorf("failed to create report dir: %w", err)
		}
		f, err := os.Create(*reportPath)
		if err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}
		defer f.Close()
		if err := monitor.WriteReport(f, "smcnuts run", traces); err != nil {
			return err
		}
		log.Printf("[smcnuts] wrote report to %s", *reportPath)
	}

	return nil
}
