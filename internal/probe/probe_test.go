package probe

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// noEnv isolates tests from the real process environment.
func noEnv(string) (string, bool) { return "", false }

func intPtr(v int) *int { return &v }

func hookReturning(enabled bool) func() (bool, error) {
	return func() (bool, error) { return enabled, nil }
}

func TestProbe_Precedence(t *testing.T) {
	t.Run("hook wins over everything", func(t *testing.T) {
		// Contradictory lower signals must all lose to the live hook.
		st := Probe(Signals{
			Hook:           hookReturning(true),
			GILDisabledVar: intPtr(1),
			ABIFlags:       "t",
			LookupEnv:      func(string) (string, bool) { return "0", true },
		})
		if st.GIL != GILEnabled {
			t.Fatalf("GIL = %v, want enabled", st.GIL)
		}
		if !st.Reliable {
			t.Fatal("Reliable = false, want true when the hook answered")
		}
		if !strings.Contains(st.Explanation, "_is_gil_enabled") {
			t.Fatalf("Explanation %q does not name the hook", st.Explanation)
		}
		if strings.Contains(st.Explanation, BuildVar) {
			t.Fatalf("Explanation %q claims build metadata fired", st.Explanation)
		}
	})

	t.Run("hook reports disabled", func(t *testing.T) {
		st := Probe(Signals{Hook: hookReturning(false), LookupEnv: noEnv})
		if st.GIL != GILDisabled || !st.Reliable {
			t.Fatalf("got (%v, reliable=%v), want (disabled, true)", st.GIL, st.Reliable)
		}
		if !st.FreeThreadingAvailable() {
			t.Fatal("FreeThreadingAvailable() = false, want true")
		}
	})

	t.Run("build config fires when hook absent", func(t *testing.T) {
		st := Probe(Signals{GILDisabledVar: intPtr(1), ABIFlags: "t", LookupEnv: noEnv})
		if st.GIL != GILDisabled {
			t.Fatalf("GIL = %v, want disabled", st.GIL)
		}
		if st.Reliable {
			t.Fatal("Reliable = true for build-config inference, want false")
		}
		if !strings.Contains(st.Explanation, BuildVar) {
			t.Fatalf("Explanation %q does not name %s", st.Explanation, BuildVar)
		}
		if strings.Contains(st.Explanation, "abiflags") {
			t.Fatalf("Explanation %q claims the ABI tag fired", st.Explanation)
		}
	})

	t.Run("build config zero means standard build", func(t *testing.T) {
		st := Probe(Signals{GILDisabledVar: intPtr(0), LookupEnv: noEnv})
		if st.GIL != GILEnabled || st.Reliable {
			t.Fatalf("got (%v, reliable=%v), want (enabled, false)", st.GIL, st.Reliable)
		}
	})

	t.Run("abi tag fires when build config absent", func(t *testing.T) {
		st := Probe(Signals{ABIFlags: "t", LookupEnv: noEnv})
		if st.GIL != GILDisabled || st.Reliable {
			t.Fatalf("got (%v, reliable=%v), want (disabled, false)", st.GIL, st.Reliable)
		}
		if !strings.Contains(st.Explanation, "abiflags") {
			t.Fatalf("Explanation %q does not name the ABI tag", st.Explanation)
		}
	})

	t.Run("abi flags without marker are ignored", func(t *testing.T) {
		st := Probe(Signals{ABIFlags: "dm", LookupEnv: noEnv})
		if st.GIL != GILUnknown {
			t.Fatalf("GIL = %v, want unknown", st.GIL)
		}
	})

	t.Run("env override fires last", func(t *testing.T) {
		st := Probe(Signals{LookupEnv: func(key string) (string, bool) {
			if key != EnvVar {
				t.Fatalf("looked up %q, want %q", key, EnvVar)
			}
			return "0", true
		}})
		if st.GIL != GILDisabled || st.Reliable {
			t.Fatalf("got (%v, reliable=%v), want (disabled, false)", st.GIL, st.Reliable)
		}
		if !strings.Contains(st.Explanation, EnvVar) {
			t.Fatalf("Explanation %q does not name %s", st.Explanation, EnvVar)
		}
	})

	t.Run("env override value one forces GIL on", func(t *testing.T) {
		st := Probe(Signals{LookupEnv: func(string) (string, bool) { return "1", true }})
		if st.GIL != GILEnabled {
			t.Fatalf("GIL = %v, want enabled", st.GIL)
		}
	})

	t.Run("unparseable env value is ignored", func(t *testing.T) {
		st := Probe(Signals{LookupEnv: func(string) (string, bool) { return "yes", true }})
		if st.GIL != GILUnknown {
			t.Fatalf("GIL = %v, want unknown", st.GIL)
		}
	})

	t.Run("no signal at all", func(t *testing.T) {
		st := Probe(Signals{Implementation: "CPython", Version: "3.12.4", LookupEnv: noEnv})
		if st.GIL != GILUnknown || st.Reliable {
			t.Fatalf("got (%v, reliable=%v), want (unknown, false)", st.GIL, st.Reliable)
		}
		if st.Explanation == "" {
			t.Fatal("Explanation is empty")
		}
		if !strings.Contains(st.Explanation, "no GIL detection mechanism") {
			t.Fatalf("Explanation %q does not say no mechanism was available", st.Explanation)
		}
		if st.Implementation != "CPython" || st.Version != "3.12.4" {
			t.Fatalf("identity fields not carried through: %+v", st)
		}
	})
}

func TestProbe_RaisingHookFallsThrough(t *testing.T) {
	st := Probe(Signals{
		Hook:           func() (bool, error) { return false, errors.New("hook exploded") },
		GILDisabledVar: intPtr(1),
		LookupEnv:      noEnv,
	})
	if st.GIL != GILDisabled {
		t.Fatalf("GIL = %v, want disabled from build config", st.GIL)
	}
	if st.Reliable {
		t.Fatal("Reliable = true after hook failure, want false")
	}
	if !strings.Contains(st.Explanation, BuildVar) {
		t.Fatalf("Explanation %q should name the build config fallback", st.Explanation)
	}
}

func TestProbe_EnvLookupDefaultsToProcess(t *testing.T) {
	t.Setenv(EnvVar, "0")
	st := Probe(Signals{})
	if st.GIL != GILDisabled {
		t.Fatalf("GIL = %v, want disabled from process env", st.GIL)
	}

	// The environment is consulted on every call, never cached.
	t.Setenv(EnvVar, "1")
	st = Probe(Signals{})
	if st.GIL != GILEnabled {
		t.Fatalf("GIL = %v after env change, want enabled", st.GIL)
	}
}

func TestProbe_Idempotent(t *testing.T) {
	sig := Signals{
		Implementation: "CPython",
		Version:        "3.13.2",
		Hook:           hookReturning(false),
		LookupEnv:      noEnv,
	}
	first := Probe(sig)
	second := Probe(sig)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("consecutive probes differ (-first +second):\n%s", diff)
	}
}

func TestProbe_ConcurrentCallers(t *testing.T) {
	sig := Signals{
		Implementation: "CPython",
		Version:        "3.13.2",
		GILDisabledVar: intPtr(1),
		LookupEnv:      noEnv,
	}
	want := Probe(sig)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			got := Probe(sig)
			if diff := cmp.Diff(want, got); diff != "" {
				return errors.New("concurrent probe diverged:\n" + diff)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
