// Package version holds build metadata injected through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time, e.g. -X github.com/HerbHall/lockwatch/internal/version.Version=1.2.0.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the one-line banner printed by "lockwatch version".
func Info() string {
	return fmt.Sprintf("LockWatch %s (commit: %s, built: %s, go: %s, %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns only the version, e.g. "0.3.0" or "dev".
func Short() string { return Version }

// IsDev reports whether this is an untagged development build.
func IsDev() bool { return Version == "dev" }

// Map returns the build metadata for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
