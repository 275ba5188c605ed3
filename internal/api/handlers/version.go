package handlers

import (
	"net/http"
	"runtime"
)

// Build metadata, stamped by the linker in release builds.
var (
	BuildVersion = "dev"
	BuildCommit  = ""
	BuildDate    = ""
)

// VersionInfo is the response shape of the version endpoint.
type VersionInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Built   string `json:"built,omitempty"`
	Go      string `json:"go"`
}

// Version reports service build information.
func Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionInfo{
		Service: "forcefield",
		Version: BuildVersion,
		Commit:  BuildCommit,
		Built:   BuildDate,
		Go:      runtime.Version(),
	})
}
