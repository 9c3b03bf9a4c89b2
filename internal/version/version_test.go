package version

import (
	"runtime/debug"
	"testing"
)

func TestGetVersionInfoPrefersLinkerValues(t *testing.T) {
	previousVersion, previousBuilt, previousCommit := Version, Built, GitCommit
	previousRead := readBuildInfo
	t.Cleanup(func() {
		Version, Built, GitCommit = previousVersion, previousBuilt, previousCommit
		readBuildInfo = previousRead
	})

	Version = "1.2.3"
	Built = "2026-01-11T12:34:56Z"
	GitCommit = "abc123"
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			GoVersion: "go1.25.0",
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "ffffffffffffffff"},
				{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
			},
		}, true
	}

	info := GetVersionInfo()
	if info.Version != "1.2.3" {
		t.Fatalf("expected version to be 1.2.3, got %q", info.Version)
	}
	if info.Built != "2026-01-11T12:34:56Z" {
		t.Fatalf("expected built timestamp to be preserved, got %q", info.Built)
	}
	if info.GitCommit != "abc123" {
		t.Fatalf("expected git commit to be preserved, got %q", info.GitCommit)
	}
	if got := info.String(); got != "mcc 1.2.3 (abc123, 2026-01-11T12:34:56Z, go1.25.0)" {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestGetVersionInfoFallsBackToBuildSettings(t *testing.T) {
	previousVersion, previousBuilt, previousCommit := Version, Built, GitCommit
	previousRead := readBuildInfo
	t.Cleanup(func() {
		Version, Built, GitCommit = previousVersion, previousBuilt, previousCommit
		readBuildInfo = previousRead
	})

	Version, Built, GitCommit = "dev", "", ""
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			},
		}, true
	}

	info := GetVersionInfo()
	if info.GitCommit != "0123456789abcdef0123" {
		t.Fatalf("expected commit from build info, got %q", info.GitCommit)
	}
	if got := info.String(); got != "mcc dev (0123456789ab)" {
		t.Fatalf("unexpected string %q", got)
	}

	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
	if got := GetVersionInfo().String(); got != "mcc dev" {
		t.Fatalf("unexpected string without build info %q", got)
	}
}
