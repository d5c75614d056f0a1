// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/you/gnasty-alerts/internal/version.Version=v1.2.0"
package version

import (
	"runtime/debug"
	"time"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Resolve fills Commit and BuildTime from the VCS stamp embedded by the Go
// toolchain when they were not injected.
func Resolve() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" && s.Value != "" {
				Commit = s.Value
			}
		case "vcs.time":
			if BuildTime == "unknown" && s.Value != "" {
				BuildTime = s.Value
			}
		}
	}
}

// BuiltAt parses BuildTime, returning the zero time when it is unset or
// malformed.
func BuiltAt() time.Time {
	if BuildTime == "" || BuildTime == "unknown" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return time.Time{}
	}
	return t
}
