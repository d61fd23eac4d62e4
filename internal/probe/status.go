package probe

// GILState is the tri-state answer to "is the GIL enabled?".
type GILState int

const (
	// GILUnknown means no detection mechanism produced an answer.
	GILUnknown GILState = iota
	// GILEnabled means the interpreter serializes threads behind the GIL.
	GILEnabled
	// GILDisabled means the interpreter is a free-threaded build.
	GILDisabled
)

func (s GILState) String() string {
	switch s {
	case GILEnabled:
		return "enabled"
	case GILDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Status describes the GIL mode of one interpreter at one point in time.
// It is a plain value: produced fresh by every Probe call, never mutated,
// never cached. Callers that suspect the environment changed must
// re-probe.
type Status struct {
	Implementation string
	Version        string
	GIL            GILState

	// Reliable is true only when the live introspection hook answered.
	// Inference from build metadata, ABI flags, or the environment leaves
	// it false. Reliable implies GIL != GILUnknown.
	Reliable bool

	// Explanation names the detection mechanism that fired and what the
	// result means operationally. Always non-empty.
	Explanation string
}

// FreeThreadingAvailable reports whether the interpreter can actually run
// threads in parallel: the GIL is disabled and a live hook confirmed it.
func (st Status) FreeThreadingAvailable() bool {
	return st.Reliable && st.GIL == GILDisabled
}

// Record is the machine-readable boundary shape of a Status: the
// tri-state becomes a nullable boolean and Reliable is published as
// api_available.
type Record struct {
	Implementation         string `json:"implementation"`
	Version                string `json:"version"`
	GILEnabled             *bool  `json:"gil_enabled"`
	APIAvailable           bool   `json:"api_available"`
	Explanation            string `json:"explanation"`
	FreeThreadingAvailable bool   `json:"free_threading_available"`
}

// NewRecord flattens a Status for JSON output.
func NewRecord(st Status) Record {
	var gil *bool
	switch st.GIL {
	case GILEnabled:
		v := true
		gil = &v
	case GILDisabled:
		v := false
		gil = &v
	}
	return Record{
		Implementation:         st.Implementation,
		Version:                st.Version,
		GILEnabled:             gil,
		APIAvailable:           st.Reliable,
		Explanation:            st.Explanation,
		FreeThreadingAvailable: st.FreeThreadingAvailable(),
	}
}
