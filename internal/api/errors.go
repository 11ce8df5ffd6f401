package api

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/bay/pkg/bayerr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates an Allocator/Store/ContainerDriver error into the
// API's uniform JSON error shape and HTTP status via bayerr.Kind.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := bayerr.KindOf(err); ok {
		status = kind.HTTPStatus()
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// uploadStatusFor maps a failed upload's Ship-side error message to the
// HTTP status the client should see, per the size/not-found/access
// substring heuristics the Ship (a black box) is the only source of.
func uploadStatusFor(message string) int {
	return bayerr.UploadStatusFromMessage(message)
}
