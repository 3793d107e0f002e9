// Package version holds build identity, overridden at link time via
// -ldflags "-X github.com/snarelabs/snare/pkg/version.Version=...".
package version

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// GitCommit is the short commit hash the binary was built from.
	GitCommit = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)
