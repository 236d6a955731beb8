// Package version carries build-time metadata.
package version

// Version contains the application version information.
// Set via build-time ldflags in production:
// go build -ldflags "-X git.home.luguber.info/inful/reviewd/internal/version.Version=v1.0.0".
var Version = "unknown"

// Build metadata, also set via ldflags.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version with the commit when one is known.
func String() string {
	if GitCommit == "unknown" {
		return Version
	}
	return Version + " (" + GitCommit + ")"
}
