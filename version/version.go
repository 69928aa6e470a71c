// Package version carries build metadata injected via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the release tag, "unknown" for untagged builds.
	Version = "unknown"
	// GitRevision is the commit hash the binary was built from.
	GitRevision = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String returns the multi-line version banner.
func String() string {
	return fmt.Sprintf(
		"Version:        %s\nGit revision:   %s\nBuilt:          %s\nGo version:     %s\nOS/Arch:        %s/%s\n",
		Version, GitRevision, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH,
	)
}
