package ctos

import (
	"fmt"
	"io"
	"os"
)

// Diagnostics is the sink the VHB and directory loaders, Dump,
// DeleteFile and CheckDisk report best-effort problems to (ReadMFD,
// ReadFileHeader and ReplaceContents take no sink): checksum
// mismatches, filename mismatches, deprecated
// on-disk quirks, and CheckDisk findings. It replaces the reference
// tool's global one-shot-warning state (cpdwarn) with a value the caller
// owns, per spec.md §9.
type Diagnostics interface {
	// Warnf records a problem that does not stop the calling operation.
	Warnf(format string, args ...interface{})

	// Notef records an informational message (e.g. the CylindersPerDisk
	// fixup, noted on every LoadActiveVHB call that applies it, so a
	// Volume that reloads its VHBs receives the note more than once).
	Notef(format string, args ...interface{})
}

// WriterDiagnostics writes every Warnf/Notef call to an io.Writer,
// matching the reference tool's `print(..., file=sys.stderr)` behavior.
type WriterDiagnostics struct {
	W io.Writer
}

// NewStderrDiagnostics returns a Diagnostics that writes to os.Stderr.
func NewStderrDiagnostics() *WriterDiagnostics {
	return &WriterDiagnostics{W: os.Stderr}
}

func (d *WriterDiagnostics) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(d.W, "warning: "+format+"\n", args...)
}

func (d *WriterDiagnostics) Notef(format string, args ...interface{}) {
	fmt.Fprintf(d.W, format+"\n", args...)
}

// NullDiagnostics discards every message. Open falls back to it when
// given a nil sink; it suits callers that only care about returned
// values (e.g. CheckDisk's error count).
type NullDiagnostics struct{}

func (NullDiagnostics) Warnf(string, ...interface{}) {}
func (NullDiagnostics) Notef(string, ...interface{}) {}

// CollectingDiagnostics accumulates every message instead of printing it,
// useful for tests that assert on specific findings.
type CollectingDiagnostics struct {
	Warnings []string
	Notes    []string
}

func NewCollectingDiagnostics() *CollectingDiagnostics {
	return &CollectingDiagnostics{}
}

func (d *CollectingDiagnostics) Warnf(format string, args ...interface{}) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

func (d *CollectingDiagnostics) Notef(format string, args ...interface{}) {
	d.Notes = append(d.Notes, fmt.Sprintf(format, args...))
}
