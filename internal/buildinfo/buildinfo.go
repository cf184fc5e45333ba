// Package buildinfo reports the stepflow version stamped in at link time.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/netbyu/ump-sub000/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is the JSON shape served by `stepflow version --json` and GET /health.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// GetInfo returns the stamped build information. When the binary was built
// without ldflags the commit falls back to the VCS revision recorded by the
// Go toolchain, if any.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
	}
	if info.Commit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			info.Commit = rev
		}
	}
	return info
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 7 {
				return s.Value[:7]
			}
			return s.Value
		}
	}
	return ""
}

// String renders e.g. "stepflow v1.2.0 (commit: a1b2c3d, built: 2026-02-17T10:00:00Z)".
func (i Info) String() string {
	return fmt.Sprintf("stepflow v%s (commit: %s, built: %s)", i.Version, i.Commit, i.Date)
}
