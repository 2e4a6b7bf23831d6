package env

import (
	"encoding/json"
	"net/http"
	"runtime"
)

const unset = "unset"

// Version is set at startup from the build info.
var Version = unset

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{ // nolint:errcheck
		"version": Version,
		"go":      runtime.Version(),
	})
}
