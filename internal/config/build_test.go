package config

import (
	"runtime/debug"
	"testing"
)

func stampedBinary(settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
}

func TestNewBuildInfo_Unstamped(t *testing.T) {
	info := newBuildInfo(func() (*debug.BuildInfo, bool) { return nil, false })

	want := BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"}
	if info != want {
		t.Errorf("newBuildInfo() = %+v, want %+v", info, want)
	}
	if got := info.Short(); got != "dev (none)" {
		t.Errorf("Short() = %q", got)
	}
}

func TestNewBuildInfo_FallsBackToVCSStamp(t *testing.T) {
	info := newBuildInfo(stampedBinary(
		debug.BuildSetting{Key: "vcs.revision", Value: "3f9c2a71be0d44e1a8c95f0b7d2e6a1c4b8f9e20"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "false"},
	))

	if info.Commit != "3f9c2a71be0d" {
		t.Errorf("Commit = %q, want shortened revision", info.Commit)
	}
	if info.BuildTime != "2026-03-01T12:00:00Z" {
		t.Errorf("BuildTime = %q", info.BuildTime)
	}
	if info.Version != "dev" {
		t.Errorf("Version = %q, want dev", info.Version)
	}
}

func TestNewBuildInfo_MarksDirtyTree(t *testing.T) {
	info := newBuildInfo(stampedBinary(
		debug.BuildSetting{Key: "vcs.revision", Value: "abc123"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))

	if info.Commit != "abc123-dirty" {
		t.Errorf("Commit = %q, want abc123-dirty", info.Commit)
	}
}

func TestNewBuildInfo_LinkerValuesWin(t *testing.T) {
	saved := commit
	commit = "release1"
	t.Cleanup(func() { commit = saved })

	info := newBuildInfo(stampedBinary(debug.BuildSetting{Key: "vcs.revision", Value: "ffffffffffffffff"}))
	if info.Commit != "release1" {
		t.Errorf("Commit = %q, want the -ldflags value", info.Commit)
	}
}
