package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	old := Version
	Version = "1.2.0"
	defer func() { Version = old }()

	ua := UserAgent()
	if !strings.HasPrefix(ua, "edgerelay/1.2.0 (") {
		t.Errorf("Expected edgerelay/1.2.0 prefix, got %q", ua)
	}
	if !strings.Contains(ua, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("Expected platform in user agent, got %q", ua)
	}
}

func TestGet(t *testing.T) {
	old := Version
	Version = "1.2.0"
	defer func() { Version = old }()

	info := Get()
	if info.Version != "1.2.0" {
		t.Errorf("Expected version 1.2.0, got %q", info.Version)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("Expected go version %q, got %q", runtime.Version(), info.GoVersion)
	}
}

func TestFillFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	tests := []struct {
		name string
		in   Info
		want Info
	}{
		{
			name: "unset fields filled",
			in:   Info{Version: "dev", GitCommit: unknown, BuildDate: unknown},
			want: Info{Version: "v0.3.1", GitCommit: "0123456789ab-dirty", BuildDate: "2026-10-01T12:00:00Z"},
		},
		{
			name: "ldflags win",
			in:   Info{Version: "1.0.0", GitCommit: "abc", BuildDate: "today"},
			want: Info{Version: "1.0.0", GitCommit: "abc", BuildDate: "today"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			fillFromBuildInfo(&got, bi)
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}

	devel := Info{Version: "dev", GitCommit: unknown, BuildDate: unknown}
	fillFromBuildInfo(&devel, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if devel.Version != "dev" || devel.GitCommit != unknown {
		t.Errorf("Expected devel build to keep defaults, got %+v", devel)
	}
}
