package configsvc

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"roost/internal/models"
)

type HTTP struct{ svc *Service }

func NewHTTP(svc *Service) *HTTP { return &HTTP{svc: svc} }

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/templates", h.listTemplates).Methods(http.MethodGet)

	// fallback has no target segment
	api.HandleFunc("/templates/fallback", h.activate).Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/templates/fallback", h.getTemplate).Methods(http.MethodGet)
	api.HandleFunc("/templates/fallback", h.deleteTemplate).Methods(http.MethodDelete)

	api.HandleFunc("/templates/{scope}/{target}", h.activate).Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/templates/{scope}/{target}", h.getTemplate).Methods(http.MethodGet)
	api.HandleFunc("/templates/{scope}/{target}", h.deleteTemplate).Methods(http.MethodDelete)
}

type templateOut struct {
	Scope       string          `json:"scope"`
	Target      string          `json:"target,omitempty"`
	Name        string          `json:"name,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	ContentHash string          `json:"content_hash"`
	Version     int             `json:"version"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toTemplateOut(t models.ConfigTemplate) templateOut {
	return templateOut{
		Scope:       t.Scope,
		Target:      t.Target,
		Name:        t.Name,
		Payload:     json.RawMessage(t.Payload),
		ContentHash: t.ContentHash,
		Version:     t.Version,
		UpdatedAt:   t.UpdatedAt,
	}
}

func scopeTarget(r *http.Request) (string, string) {
	vars := mux.Vars(r)
	scope, ok := vars["scope"]
	if !ok {
		return models.ScopeFallback, ""
	}
	return scope, vars["target"]
}

func (h *HTTP) activate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	scope, target := scopeTarget(r)

	var in struct {
		Name    string          `json:"name"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Payload) == 0 {
		http.Error(w, "invalid body (need {name, payload})", http.StatusBadRequest)
		return
	}

	t, err := h.svc.Activate(scope, target, in.Name, in.Payload)
	if err != nil {
		writeConfigErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(toTemplateOut(t))
}

func (h *HTTP) listTemplates(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ts, err := h.svc.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]templateOut, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTemplateOut(t))
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (h *HTTP) getTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	scope, target := scopeTarget(r)

	t, err := h.svc.Get(scope, target)
	if err != nil {
		writeConfigErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(toTemplateOut(t))
}

func (h *HTTP) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	scope, target := scopeTarget(r)
	if err := h.svc.Delete(scope, target); err != nil {
		writeConfigErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeConfigErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidScope), errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrInvalidPayload):
		models.WriteProblem(w, http.StatusBadRequest, "Invalid template", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not found", err.Error(), nil)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
