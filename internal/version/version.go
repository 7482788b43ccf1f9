// Package version carries build metadata, set with -ldflags -X at release time.
package version

import "fmt"

var (
	// Version is the release tag of the codec binary.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for the version subcommand and run logs.
func String() string {
	return fmt.Sprintf("rangecodec %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
