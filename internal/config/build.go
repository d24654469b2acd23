package config

import "runtime/debug"

// Set with -ldflags at release time, for example:
//
//	go build -ldflags "-X pushengine/internal/config.version=1.2.3 \
//	    -X pushengine/internal/config.commit=$(git rev-parse --short HEAD)"
//
// Binaries built without them fall back to the VCS stamp the Go toolchain
// embeds, so a deployed worker can still be traced to a revision.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// shortCommitLen matches `git rev-parse --short=12`.
const shortCommitLen = 12

// NewBuildInfo returns the metadata of the running binary.
func NewBuildInfo() BuildInfo {
	return newBuildInfo(debug.ReadBuildInfo)
}

func newBuildInfo(read func() (*debug.BuildInfo, bool)) BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
	if info.Commit != "none" {
		return info
	}

	bi, ok := read()
	if !ok || bi == nil {
		return info
	}
	var dirty bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(info.Commit) > shortCommitLen && info.Commit != "none" {
		info.Commit = info.Commit[:shortCommitLen]
	}
	if dirty && info.Commit != "none" {
		info.Commit += "-dirty"
	}
	return info
}

// Short renders "version (commit)" for cold-start logs and the health
// endpoint.
func (b BuildInfo) Short() string {
	return b.Version + " (" + b.Commit + ")"
}
