// Package build exposes the binary's version and build metadata. The
// variables are set through -ldflags at release time; a plain go build
// falls back to the embedded VERSION file.
package build

import (
	_ "embed"
	"runtime"
	"strings"
	"time"
)

//go:embed VERSION
var versionFile string

var (
	Version   = ""
	Commit    = ""
	BuildTime = ""

	startedAt = time.Now()
)

//nolint:gochecknoinits // version fallback.
func init() {
	if Version == "" {
		Version = strings.TrimSpace(versionFile)
	}
}

// Info is the payload of the version endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Uptime    string `json:"uptime"`
}

func GetBuildInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Uptime:    time.Since(startedAt).Round(time.Second).String(),
	}
}

func (i Info) String() string {
	lines := []string{"version: " + i.Version}

	if i.Commit != "" {
		lines = append(lines, "commit: "+i.Commit)
	}

	if i.BuildTime != "" {
		lines = append(lines, "built: "+i.BuildTime)
	}

	lines = append(lines,
		"go: "+i.GoVersion,
		"platform: "+i.Platform,
		"uptime: "+i.Uptime,
	)

	return strings.Join(lines, "\n")
}
