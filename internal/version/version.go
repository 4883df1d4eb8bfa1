// Package version exposes build metadata for the gridsight binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns the bare version string, e.g. "v0.3.1" or "dev".
func Short() string {
	return Version
}

// Info returns a human-readable one-line version summary.
func Info() string {
	return fmt.Sprintf("gridsight %s (commit %s, built %s, %s)", Version, commit(), Date, runtime.Version())
}

// Map returns version fields for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  commit(),
		"date":    Date,
		"go":      runtime.Version(),
	}
}

func commit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return Commit
}
