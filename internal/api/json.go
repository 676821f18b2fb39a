package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// problemTypePrefix namespaces problem types, e.g. urn:bustrack:problem:invalid-sample.
const problemTypePrefix = "urn:bustrack:problem:"

// maxBodyBytes caps REST request bodies.
const maxBodyBytes = 1 << 20

// Problem is an RFC 7807 body. Type is derived from Title so clients can
// switch on it without parsing Detail.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeBody(w, "application/json", status, v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeBody(w, "application/problem+json", status, Problem{
		Type:     problemTypePrefix + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "-"),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func writeBody(w http.ResponseWriter, contentType string, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}
