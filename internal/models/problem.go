package models

import (
	"encoding/json"
	"net/http"
)

// Problem — RFC 7807-ish error body shared by every HTTP surface.
type Problem struct {
	Title  string            `json:"title"`
	Detail string            `json:"detail,omitempty"`
	Status int               `json:"status"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// WriteProblem writes a problem+json response. extra carries machine-readable
// hints (e.g. {"action": "register"} on an unknown-device heartbeat).
func WriteProblem(w http.ResponseWriter, status int, title, detail string, extra map[string]string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Title:  title,
		Detail: detail,
		Status: status,
		Extra:  extra,
	})
}
