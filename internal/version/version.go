// Package version holds build metadata injected at link time:
//
//	go build -ldflags "-X git.home.luguber.info/inful/polydocs/internal/version.Version=v0.3.0"
package version

import "fmt"

// Version is the release tag, "dev" for local builds.
var Version = "dev"

// Build metadata, set alongside Version.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("polydocs %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
