package server

import (
	"encoding/json"
	"net/http"

	"roost/internal/health"
)

// RegisterServiceInfo mounts a small JSON banner at the root so agents
// and humans hitting the bare host see what is running and where the
// real surfaces live.
func (a *App) RegisterServiceInfo(path string) {
	if path == "" {
		path = "/"
	}
	a.Router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service": "roost",
			"version": health.Version,
			"api":     "/api/v1",
			"fleet":   "/fleet",
			"health":  "/healthz",
		})
	}).Methods(http.MethodGet)
}
