package probe

import "fmt"

// RequirementError reports that a caller-stated GIL requirement is not
// met. It is the only error the assertion API returns; Probe itself never
// fails.
type RequirementError struct {
	// Status is the full probe result behind the failure.
	Status Status
	// Requirement is the state the caller demanded.
	Requirement GILState

	remedy string
}

func (e *RequirementError) Error() string {
	var need string
	if e.Requirement == GILDisabled {
		need = "a free-threaded interpreter (GIL disabled)"
	} else {
		need = "a standard interpreter (GIL enabled)"
	}
	return fmt.Sprintf("requires %s, but detection found GIL %s: %s. %s",
		need, e.Status.GIL, e.Status.Explanation, e.remedy)
}

// Unknown reports whether the failure was an undetermined mode rather
// than a known violation. The CLI maps this to a distinct exit code.
func (e *RequirementError) Unknown() bool {
	return e.Status.GIL == GILUnknown
}

// AssertGILDisabled probes and fails unless the interpreter is
// free-threaded. allowUnknown turns an undetermined mode into a soft
// success instead of an error. The probed Status is returned either way.
func AssertGILDisabled(sig Signals, allowUnknown bool) (Status, error) {
	st := Probe(sig)
	if st.GIL == GILDisabled || (st.GIL == GILUnknown && allowUnknown) {
		return st, nil
	}
	return st, &RequirementError{
		Status:      st,
		Requirement: GILDisabled,
		remedy:      "switch to a free-threaded interpreter build (python3.13t or newer) or set " + EnvVar + "=0",
	}
}

// AssertGILEnabled is the mirror of AssertGILDisabled: it fails unless
// the GIL is on.
func AssertGILEnabled(sig Signals, allowUnknown bool) (Status, error) {
	st := Probe(sig)
	if st.GIL == GILEnabled || (st.GIL == GILUnknown && allowUnknown) {
		return st, nil
	}
	return st, &RequirementError{
		Status:      st,
		Requirement: GILEnabled,
		remedy:      "use a standard (GIL) interpreter build or set " + EnvVar + "=1",
	}
}
