package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"gilprobe/internal/probe"
)

var (
	freeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")).Bold(true)
	lockedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3b82f6")).Bold(true)
	unknownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#eab308")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
)

// writeStatus renders one status as either the JSON boundary record or a
// one-line human summary.
func writeStatus(w io.Writer, st probe.Status, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(probe.NewRecord(st))
	}
	_, err := fmt.Fprintln(w, summaryLine(st))
	return err
}

func summaryLine(st probe.Status) string {
	name := st.Implementation
	if name == "" {
		name = "unknown interpreter"
	}
	if st.Version != "" {
		name += " " + st.Version
	}

	var mode string
	switch st.GIL {
	case probe.GILDisabled:
		mode = freeStyle.Render("free-threaded (GIL disabled)")
	case probe.GILEnabled:
		mode = lockedStyle.Render("GIL enabled")
	default:
		mode = unknownStyle.Render("GIL state unknown")
	}

	confidence := "inferred"
	switch {
	case st.Reliable:
		confidence = "confirmed"
	case st.GIL == probe.GILUnknown:
		confidence = "undetermined"
	}

	return fmt.Sprintf("%s: %s [%s] %s", name, mode, confidence, dimStyle.Render(st.Explanation))
}
