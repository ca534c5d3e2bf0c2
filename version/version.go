// Package version reports build information. Values are set at link time:
//
//	go build -ldflags "-X github.com/jackzampolin/docex/version.GitRelease=v0.1.0"
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	// GitRelease is the release tag, or "dev" for local builds.
	GitRelease = "dev"

	// GitCommit is the commit hash the binary was built from.
	GitCommit = ""

	// GitCommitDate is the commit timestamp.
	GitCommitDate = ""

	// GoInfo is the Go version and platform.
	GoInfo = runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
)

func init() {
	if GitCommit != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			GitCommit = s.Value
		case "vcs.time":
			GitCommitDate = s.Value
		}
	}
}
