package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// vcsRevision falls back to the revision stamped by the go tool when Commit
// was not set through ldflags.
func vcsRevision() (revision string, dirty bool) {
	if Commit != "" {
		return Commit, false
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return revision, dirty
}

// VersionInfo returns the multi-line output of the version command.
func VersionInfo() string {
	revision, dirty := vcsRevision()
	if revision == "" {
		revision = "unknown"
	} else if dirty {
		revision += " (modified)"
	}
	date := BuildDate
	if date == "" {
		date = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Version:    %s\n", Version)
	fmt.Fprintf(&b, "Commit:     %s\n", revision)
	fmt.Fprintf(&b, "Build Date: %s\n", date)
	fmt.Fprintf(&b, "Go Version: %s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return b.String()
}

// ShortVersion is the version label exported through the process info metric.
func ShortVersion() string {
	revision, _ := vcsRevision()
	if len(revision) >= 7 {
		return Version + "-" + revision[:7]
	}
	return Version
}
