// Package probe determines whether a CPython installation runs with the
// global interpreter lock (GIL) enabled, disabled (free-threaded), or in an
// indeterminate state.
//
// Detection is a strict-precedence cascade over raw interpreter signals:
// the live sys._is_gil_enabled() hook, the Py_GIL_DISABLED build
// configuration variable, the abiflags "t" marker, and finally the
// PYTHON_GIL environment override. The first detector that produces an
// answer wins, and the resulting Status records which mechanism fired so
// callers can assert on provenance rather than just the boolean outcome.
//
// Probe is total: detection failures degrade to GILUnknown instead of
// surfacing as errors. Only the Assert helpers fail, and only when a
// caller-stated requirement is provably unmet or unknowable.
package probe

import (
	"fmt"
	"os"
	"strings"
)

// EnvVar is the CPython environment override consulted by the
// lowest-confidence detector. "0" requests the GIL stay disabled,
// "1" forces it on.
const EnvVar = "PYTHON_GIL"

// BuildVar is the sysconfig variable recording whether the GIL was
// compiled out of the interpreter.
const BuildVar = "Py_GIL_DISABLED"

// abiFreeThreaded is the abiflags marker carried by free-threaded builds
// (python3.13t and friends).
const abiFreeThreaded = "t"

// Signals carries the raw inputs the cascade inspects. The zero value
// means "nothing available" and probes to GILUnknown.
type Signals struct {
	// Implementation and Version identify the interpreter ("CPython",
	// "3.13.2"). They pass through to the Status untouched.
	Implementation string
	Version        string

	// Hook queries sys._is_gil_enabled(). nil means the interpreter does
	// not expose the hook; a non-nil error is treated the same way and
	// never propagated.
	Hook func() (gilEnabled bool, err error)

	// GILDisabledVar is sysconfig.get_config_var("Py_GIL_DISABLED"),
	// nil when the build configuration does not record it.
	GILDisabledVar *int

	// ABIFlags is sys.abiflags ("t" on free-threaded builds).
	ABIFlags string

	// LookupEnv resolves environment variables; nil means os.LookupEnv.
	// It is consulted at probe time, never cached, so the environment may
	// change between calls in the same process.
	LookupEnv func(key string) (string, bool)
}

// finding is one detector's answer plus its provenance.
type finding struct {
	state    GILState
	reliable bool
	explain  string
}

// detectors run in strict precedence order; the first to return ok wins.
var detectors = []func(Signals) (finding, bool){
	detectHook,
	detectBuildConfig,
	detectABIFlags,
	detectEnvOverride,
}

// Probe runs the detection cascade and returns a fresh Status. It never
// fails: when no detector produces an answer the Status reports
// GILUnknown with an explanation recommending an introspectable build.
func Probe(sig Signals) Status {
	st := Status{
		Implementation: sig.Implementation,
		Version:        sig.Version,
		GIL:            GILUnknown,
	}
	for _, detect := range detectors {
		f, ok := detect(sig)
		if !ok {
			continue
		}
		st.GIL = f.state
		st.Reliable = f.reliable
		st.Explanation = f.explain
		return st
	}
	st.Explanation = "no GIL detection mechanism available; upgrade to CPython 3.13+ or install a free-threaded build to make the mode introspectable"
	return st
}

// detectHook trusts the live runtime hook unconditionally. A hook that
// raises counts as an absent hook and the cascade continues.
func detectHook(sig Signals) (finding, bool) {
	if sig.Hook == nil {
		return finding{}, false
	}
	enabled, err := sig.Hook()
	if err != nil {
		return finding{}, false
	}
	if enabled {
		return finding{
			state:    GILEnabled,
			reliable: true,
			explain:  "sys._is_gil_enabled() reports the GIL is active; threads will not execute Python bytecode in parallel",
		}, true
	}
	return finding{
		state:    GILDisabled,
		reliable: true,
		explain:  "sys._is_gil_enabled() reports the GIL is disabled; this interpreter is running free-threaded",
	}, true
}

func detectBuildConfig(sig Signals) (finding, bool) {
	if sig.GILDisabledVar == nil {
		return finding{}, false
	}
	if *sig.GILDisabledVar != 0 {
		return finding{
			state:   GILDisabled,
			explain: "build configuration sets " + BuildVar + "=1: the GIL was compiled out (inferred from build metadata, not confirmed at runtime)",
		}, true
	}
	return finding{
		state:   GILEnabled,
		explain: "build configuration sets " + BuildVar + "=0: this is a standard GIL build (inferred from build metadata, not confirmed at runtime)",
	}, true
}

func detectABIFlags(sig Signals) (finding, bool) {
	if !strings.Contains(sig.ABIFlags, abiFreeThreaded) {
		return finding{}, false
	}
	return finding{
		state:   GILDisabled,
		explain: fmt.Sprintf("abiflags %q carry the free-threaded marker %q: the GIL was compiled out (inferred from the ABI tag)", sig.ABIFlags, abiFreeThreaded),
	}, true
}

// detectEnvOverride is the lowest-confidence signal: it reflects what the
// user asked for, not what the build can deliver. Values other than "0"
// and "1" are ignored.
func detectEnvOverride(sig Signals) (finding, bool) {
	lookup := sig.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	val, ok := lookup(EnvVar)
	if !ok {
		return finding{}, false
	}
	switch val {
	case "0":
		return finding{
			state:   GILDisabled,
			explain: EnvVar + "=0 requests the GIL stay disabled (environment override, lowest-confidence signal)",
		}, true
	case "1":
		return finding{
			state:   GILEnabled,
			explain: EnvVar + "=1 forces the GIL on (environment override, lowest-confidence signal)",
		}, true
	}
	return finding{}, false
}
