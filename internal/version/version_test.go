package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func TestCurrentPrefersBuildVersion(t *testing.T) {
	old := buildVersion
	buildVersion = "v1.2.3+dirty"
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v1.2.3" {
		t.Fatalf("expected build version without suffix, got %q", got)
	}
	if got := CurrentWithDirty(); got != "v1.2.3+dirty" {
		t.Fatalf("expected build version with suffix, got %q", got)
	}
}

func TestPseudoFromBuildInfo(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	info := &debug.BuildInfo{
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := pseudoFromBuildInfo(info, true)
	if got != "v0.0.0-20250102030405-1234567890ab+dirty" {
		t.Fatalf("unexpected version: %q", got)
	}
	if got := pseudoFromBuildInfo(info, false); strings.HasSuffix(got, "+dirty") {
		t.Fatalf("expected no dirty suffix, got %q", got)
	}
	if pseudoFromBuildInfo(nil, true) != "" {
		t.Fatalf("expected empty version for nil build info")
	}
}

func TestInfoString(t *testing.T) {
	info := Info{Module: "pkt.systems/vtview", Version: "v1.0.0", GoVersion: "go1.25.2"}
	if got := info.String(); got != "pkt.systems/vtview v1.0.0 (go1.25.2)" {
		t.Fatalf("unexpected info line %q", got)
	}
	info.GoVersion = ""
	if got := info.String(); got != "pkt.systems/vtview v1.0.0" {
		t.Fatalf("unexpected info line %q", got)
	}
}
