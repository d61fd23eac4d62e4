package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gilprobe/internal/config"
	"gilprobe/internal/probe"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe every Python interpreter found on PATH",
	Long: `Discovers python3 / python / python3.X / python3.Xt binaries on PATH,
probes each one concurrently, and reports their GIL modes.

With --require-free-threading or --require-gil the command exits zero only
when at least one discovered interpreter satisfies the requirement, using
the same 1/2 exit-code split as the root command.`,
	RunE: runScan,
}

// scanResult pairs a status with the binary it came from. The raw signals
// are kept so enforcement can reuse the assert helpers.
type scanResult struct {
	Path string `json:"path"`
	probe.Record

	status  probe.Status
	signals probe.Signals
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	paths := discover()
	if len(paths) == 0 {
		return fmt.Errorf("no Python interpreters found on PATH")
	}
	logger.Debug("scanning interpreters", zap.Int("count", len(paths)))

	// Each worker degrades its own failures to unknown, so the group
	// only aborts on context cancellation.
	results := make([]scanResult, len(paths))
	g, ctx := errgroup.WithContext(cmdContext(cmd))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			sig := collectSignals(ctx, cfg, path)
			st := probe.Probe(sig)
			results[i] = scanResult{
				Path:    path,
				Record:  probe.NewRecord(st),
				status:  st,
				signals: sig,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := writeScan(cmd.OutOrStdout(), results, jsonOutput); err != nil {
		return err
	}

	require, allow := requirement(cfg)
	return enforceScan(results, require, allow)
}

func writeScan(w io.Writer, results []scanResult, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(results)
	}
	for _, res := range results {
		if _, err := fmt.Fprintf(w, "%s\n    %s\n", res.Path, summaryLine(res.status)); err != nil {
			return err
		}
	}
	return nil
}

// enforceScan passes when any interpreter satisfies the requirement.
// Otherwise it reports a known violation over an undetermined mode,
// keeping the 1/2 exit-code split meaningful.
func enforceScan(results []scanResult, require string, allowUnknown bool) error {
	if require == config.RequireNone {
		return nil
	}

	assert := probe.AssertGILDisabled
	if require == config.RequireGIL {
		assert = probe.AssertGILEnabled
	}

	var violation, unknown error
	for _, res := range results {
		_, err := assert(res.signals, allowUnknown)
		if err == nil {
			return nil
		}
		var reqErr *probe.RequirementError
		if errors.As(err, &reqErr) && !reqErr.Unknown() {
			if violation == nil {
				violation = err
			}
		} else if unknown == nil {
			unknown = err
		}
	}
	if violation != nil {
		return violation
	}
	return unknown
}
