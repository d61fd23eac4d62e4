package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gilprobe/internal/config"
	"gilprobe/internal/interp"
	"gilprobe/internal/probe"
)

// Enforcement exit codes: 1 when the mode is known and violates the
// requirement, 2 when the mode is unknown and unknowns are disallowed.
const (
	exitViolation = 1
	exitUnknown   = 2
)

var (
	// Global flags
	cfgPath      string
	pythonPath   string
	probeTimeout time.Duration
	jsonOutput   bool
	requireFree  bool
	requireGIL   bool
	allowUnknown bool
	verbose      bool

	// Logger
	logger *zap.Logger

	// Seams swapped by tests to feed the CLI synthetic interpreters.
	collect  = interp.Collect
	discover = interp.Discover
)

// rootCmd probes one interpreter and optionally enforces a mode.
var rootCmd = &cobra.Command{
	Use:   "gilprobe",
	Short: "Inspect a CPython installation's GIL mode",
	Long: `gilprobe determines whether a CPython installation runs with the global
interpreter lock (GIL) enabled, disabled (free-threaded), or in an
indeterminate state, and can enforce a required mode.

Detection tries, in order: the live sys._is_gil_enabled() hook, the
Py_GIL_DISABLED build configuration variable, the abiflags "t" marker,
and the PYTHON_GIL environment override. Only the live hook counts as a
reliable answer; everything below it is inference.

Exit codes with --require-free-threading / --require-gil:
  0  requirement satisfied (or no enforcement requested)
  1  mode is known and violates the requirement
  2  mode is unknown and --allow-unknown was not given`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFlags(); err != nil {
			return err
		}
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runProbe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: ./"+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&pythonPath, "python", "", "interpreter to inspect (default from config, else python3)")
	rootCmd.PersistentFlags().DurationVar(&probeTimeout, "timeout", 0, "per-interpreter inspection timeout (default from config, else 5s)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit a machine-readable JSON record")
	rootCmd.PersistentFlags().BoolVar(&requireFree, "require-free-threading", false, "exit non-zero unless the GIL is disabled")
	rootCmd.PersistentFlags().BoolVar(&requireGIL, "require-gil", false, "exit non-zero unless the GIL is enabled")
	rootCmd.PersistentFlags().BoolVar(&allowUnknown, "allow-unknown", false, "treat an undetermined GIL state as satisfying the requirement")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scanCmd)
}

// runProbe collects signals from the configured interpreter, prints the
// status, and returns a *probe.RequirementError when enforcement fails.
func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sig := collectSignals(cmdContext(cmd), cfg, cfg.Python.Path)

	require, allow := requirement(cfg)
	st, reqErr := enforce(sig, require, allow)

	if err := writeStatus(cmd.OutOrStdout(), st, jsonOutput); err != nil {
		return err
	}
	return reqErr
}

// loadConfig merges flag overrides on top of file/env configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if pythonPath != "" {
		cfg.Python.Path = pythonPath
	}
	if probeTimeout > 0 {
		cfg.Python.Timeout = probeTimeout.String()
	}
	if _, err := cfg.CollectTimeout(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// requirement resolves the enforcement mode: flags beat config.
func requirement(cfg *config.Config) (string, bool) {
	allow := allowUnknown || cfg.Enforce.AllowUnknown
	switch {
	case requireFree && requireGIL:
		// Caught in validateFlags; unreachable here.
		return config.RequireNone, allow
	case requireFree:
		return config.RequireFreeThreading, allow
	case requireGIL:
		return config.RequireGIL, allow
	}
	return cfg.Enforce.Require, allow
}

// collectSignals inspects one interpreter, degrading collection failures
// to an all-absent Signals so the probe resolves them to unknown instead
// of aborting the command.
func collectSignals(ctx context.Context, cfg *config.Config, python string) probe.Signals {
	timeout, err := cfg.CollectTimeout()
	if err != nil {
		timeout = interp.DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sig, err := collect(cctx, logger, python)
	if err != nil {
		logger.Warn("interpreter inspection failed; GIL state will be unknown",
			zap.String("python", python),
			zap.Error(err))
		return probe.Signals{}
	}
	return sig
}

func enforce(sig probe.Signals, require string, allowUnknown bool) (probe.Status, error) {
	switch require {
	case config.RequireFreeThreading:
		return probe.AssertGILDisabled(sig, allowUnknown)
	case config.RequireGIL:
		return probe.AssertGILEnabled(sig, allowUnknown)
	}
	return probe.Probe(sig), nil
}

func validateFlags() error {
	if requireFree && requireGIL {
		return errors.New("--require-free-threading and --require-gil are mutually exclusive")
	}
	return nil
}

// cmdContext tolerates commands driven outside Execute (tests).
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// exitCode maps an Execute error to the process exit code. Requirement
// failures distinguish known violations from undetermined modes; every
// other error exits 1.
func exitCode(err error) int {
	var reqErr *probe.RequirementError
	if errors.As(err, &reqErr) && reqErr.Unknown() {
		return exitUnknown
	}
	return exitViolation
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error: "+err.Error())
	os.Exit(exitCode(err))
}
