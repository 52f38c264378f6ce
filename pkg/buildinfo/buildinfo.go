// Package buildinfo exposes the version stamped into the binary at link time.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/otherjamesbrown/meetcap/pkg/buildinfo.Version=v1.4.0 \
//	  -X github.com/otherjamesbrown/meetcap/pkg/buildinfo.Commit=3f9c2ab \
//	  -X github.com/otherjamesbrown/meetcap/pkg/buildinfo.BuildTime=2026-09-30T08:00:00Z"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info describes one running binary.
type Info struct {
	ServiceName string `json:"service_name" yaml:"service_name"`
	Version     string `json:"version" yaml:"version"`
	Commit      string `json:"commit" yaml:"commit"`
	BuildTime   string `json:"build_time" yaml:"build_time"`
	GoVersion   string `json:"go_version" yaml:"go_version"`
}

// Get returns build info for the named service.
func Get(serviceName string) Info {
	return Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
}

// String returns a one-liner like "v1.4.0 (3f9c2ab, 2026-09-30T08:00:00Z)".
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// UserAgent identifies outbound HTTP calls, e.g. "meetcap-worker/v1.4.0".
func UserAgent(serviceName string) string {
	return serviceName + "/" + Version
}

// Handler serves Get(serviceName) as JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Get(serviceName))
	}
}
