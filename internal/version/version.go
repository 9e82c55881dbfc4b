// Package version reports build metadata. Release builds set the variables
// with -ldflags; plain `go build` binaries fall back to the VCS stamp the
// toolchain embeds.
package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

const unknown = "unknown"

// Set with -ldflags "-X github.com/smazurov/edgerelay/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = unknown
	BuildDate = unknown
	BuildID   = unknown
)

// Info is the build metadata served by the version command and endpoint.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

var readBuildInfo = sync.OnceValues(debug.ReadBuildInfo)

// Get returns the build metadata.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  platform(),
	}
	if bi, ok := readBuildInfo(); ok {
		fillFromBuildInfo(&info, bi)
	}
	return info
}

// fillFromBuildInfo fills fields -ldflags left unset.
func fillFromBuildInfo(info *Info, bi *debug.BuildInfo) {
	var revision, stamp string
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			stamp = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if info.GitCommit == unknown && revision != "" {
		if len(revision) > 12 {
			revision = revision[:12]
		}
		if dirty {
			revision += "-dirty"
		}
		info.GitCommit = revision
	}
	if info.BuildDate == unknown && stamp != "" {
		info.BuildDate = stamp
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
}

// String returns the application version.
func String() string {
	return Get().Version
}

// UserAgent identifies edgerelay in outgoing requests, e.g.
// "edgerelay/1.2.0 (linux/arm64)".
func UserAgent() string {
	return "edgerelay/" + Version + " (" + platform() + ")"
}

func platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
