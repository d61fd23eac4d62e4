// Package interp gathers raw GIL signals from a CPython installation.
//
// The detection cascade itself is pure (internal/probe); this package
// supplies its inputs by running one short `python -I -c` invocation that
// prints a single JSON object. Collection failures are returned to the
// caller, who decides whether to degrade to an unknown status.
package interp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"gilprobe/internal/probe"
)

// DefaultTimeout bounds one interpreter invocation.
const DefaultTimeout = 5 * time.Second

// payloadScript runs inside the target interpreter. It must stay
// compatible back to old 3.x interpreters: those are exactly the ones
// whose answers need to degrade gracefully to the lower cascade steps.
const payloadScript = `
import json, platform, sys, sysconfig
info = {
    "implementation": platform.python_implementation(),
    "version": platform.python_version(),
    "abiflags": getattr(sys, "abiflags", ""),
}
var = sysconfig.get_config_var("Py_GIL_DISABLED")
if var is not None:
    try:
        info["gil_disabled"] = int(var)
    except (TypeError, ValueError):
        pass
hook = getattr(sys, "_is_gil_enabled", None)
if hook is not None:
    try:
        info["hook"] = bool(hook())
    except Exception:
        info["hook_raised"] = True
print(json.dumps(info))
`

// payload mirrors the JSON object printed by payloadScript.
type payload struct {
	Implementation string `json:"implementation"`
	Version        string `json:"version"`
	ABIFlags       string `json:"abiflags"`
	GILDisabledVar *int   `json:"gil_disabled"`
	HookResult     *bool  `json:"hook"`
	HookRaised     bool   `json:"hook_raised"`
}

// Collect runs pythonPath once and converts its answers into cascade
// signals. The returned Signals carry a Hook closure only when the live
// hook actually answered or raised inside the interpreter, preserving the
// cascade's catch-and-downgrade path for raising hooks.
func Collect(ctx context.Context, logger *zap.Logger, pythonPath string) (probe.Signals, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, pythonPath, "-I", "-c", payloadScript)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return probe.Signals{}, fmt.Errorf("running %s: %w: %s", pythonPath, err, msg)
		}
		return probe.Signals{}, fmt.Errorf("running %s: %w", pythonPath, err)
	}

	var p payload
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &p); err != nil {
		return probe.Signals{}, fmt.Errorf("parsing probe payload from %s: %w", pythonPath, err)
	}

	logger.Debug("collected interpreter signals",
		zap.String("python", pythonPath),
		zap.String("implementation", p.Implementation),
		zap.String("version", p.Version),
		zap.Bool("hook_present", p.HookResult != nil || p.HookRaised))

	return signalsFrom(p), nil
}

func signalsFrom(p payload) probe.Signals {
	sig := probe.Signals{
		Implementation: p.Implementation,
		Version:        p.Version,
		ABIFlags:       p.ABIFlags,
		GILDisabledVar: p.GILDisabledVar,
	}
	switch {
	case p.HookRaised:
		sig.Hook = func() (bool, error) {
			return false, fmt.Errorf("sys._is_gil_enabled() raised inside the interpreter")
		}
	case p.HookResult != nil:
		enabled := *p.HookResult
		sig.Hook = func() (bool, error) { return enabled, nil }
	}
	return sig
}

// Discover lists candidate CPython binaries reachable on PATH,
// deduplicated by resolved path. Only existence is checked; Collect
// decides whether a candidate actually answers.
func Discover() []string {
	names := []string{"python3", "python"}
	// Versioned and free-threaded binary names, python3.13 onward.
	for minor := 13; minor <= 20; minor++ {
		names = append(names,
			fmt.Sprintf("python3.%d", minor),
			fmt.Sprintf("python3.%dt", minor))
	}

	seen := make(map[string]bool)
	var found []string
	for _, name := range names {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		found = append(found, path)
	}
	return found
}
