// Package version reports the build version of the vncgate binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Injected with ldflags at build time:
//
//	-X github.com/coder/vncgate/version.tag=v1.2.3
var (
	tag    string
	commit string
	date   string
)

const (
	unknownVersion = "v0.0.0"
	develSuffix    = "-devel"
	unknown        = "unknown"
)

// vcs holds the settings the go tool stamps into the binary.
type vcs struct {
	revision string
	time     string
	modified bool
}

func readVCS() (vcs, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return vcs{}, false
	}
	var v vcs
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.revision = setting.Value
		case "vcs.time":
			v.time = setting.Value
		case "vcs.modified":
			v.modified = setting.Value == "true"
		}
	}
	return v, true
}

// Version returns the injected tag, or a devel version derived from VCS
// info.
func Version() string {
	if tag != "" {
		return ensureVPrefix(tag)
	}
	v, _ := readVCS()
	return develVersion(v)
}

func develVersion(v vcs) string {
	version := unknownVersion + develSuffix
	if v.revision == "" {
		return version
	}
	version += "+" + short(v.revision)
	if v.modified {
		version += "-dirty"
	}
	return version
}

// Tag returns the version without the "v" prefix.
func Tag() string {
	return strings.TrimPrefix(Version(), "v")
}

// Commit returns the commit hash if available.
func Commit() string {
	if commit != "" {
		return commit
	}
	if v, ok := readVCS(); ok && v.revision != "" {
		return v.revision
	}
	return unknown
}

// Date returns the build date if available.
func Date() string {
	if date != "" {
		return date
	}
	if v, ok := readVCS(); ok && v.time != "" {
		return v.time
	}
	return unknown
}

// Full returns the version with commit and date when known.
func Full() string {
	return full(Version(), Commit(), Date())
}

func full(version, commit, date string) string {
	parts := []string{version}
	if commit != unknown {
		parts = append(parts, "commit="+short(commit))
	}
	if date != unknown {
		parts = append(parts, "date="+date)
	}
	return strings.Join(parts, " ")
}

// UserAgent identifies a vncgate program in HTTP and WebSocket requests,
// for example "vncclient/v1.2.3 (linux/amd64)".
func UserAgent(program string) string {
	return fmt.Sprintf("%s/%s (%s/%s)", program, Version(), runtime.GOOS, runtime.GOARCH)
}

func short(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

func ensureVPrefix(version string) string {
	if !strings.HasPrefix(version, "v") {
		return "v" + version
	}
	return version
}
