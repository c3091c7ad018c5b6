package version

import (
	"fmt"
	"runtime"
)

// Overridden at build time:
//
//	go build -ldflags "-X github.com/soyeahso/dialtask/internal/version.Version=0.3.0
//	  -X github.com/soyeahso/dialtask/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns the long version line printed by `dialtask version`.
func Info() string {
	return fmt.Sprintf("dialtask %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the process to upstream services and IRC.
func UserAgent() string {
	return "dialtask/" + Version + "+" + short(Commit)
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
