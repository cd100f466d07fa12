package scripts

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"roost/internal/models"
)

type HTTP struct {
	svc *Service
}

func NewHTTP(svc *Service) *HTTP { return &HTTP{svc: svc} }

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/scripts", h.publish).Methods(http.MethodPost)
	api.HandleFunc("/scripts", h.list).Methods(http.MethodGet)

	api.HandleFunc("/library", h.createLibrary).Methods(http.MethodPost)
	api.HandleFunc("/library", h.listLibrary).Methods(http.MethodGet)
	api.HandleFunc("/library/{id}", h.getLibrary).Methods(http.MethodGet)
	api.HandleFunc("/library/{id}", h.patchLibrary).Methods(http.MethodPatch)
	api.HandleFunc("/library/{id}", h.deleteLibrary).Methods(http.MethodDelete)
	api.HandleFunc("/library/{id}/publish", h.publishFromLibrary).Methods(http.MethodPost)
}

// versionOut omits the code body: listings stay light, devices fetch
// code through their own endpoint.
type versionOut struct {
	ID         uint      `json:"id"`
	Scope      string    `json:"scope"`
	Target     string    `json:"target"`
	Version    string    `json:"version"`
	ScriptType string    `json:"script_type"`
	Checksum   string    `json:"checksum"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

func toVersionOut(v models.ScriptVersion) versionOut {
	return versionOut{
		ID:         v.ID,
		Scope:      v.Scope,
		Target:     v.Target,
		Version:    v.Version,
		ScriptType: v.ScriptType,
		Checksum:   v.Checksum,
		Active:     v.Active,
		CreatedAt:  v.CreatedAt,
	}
}

func (h *HTTP) publish(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		Scope      string `json:"scope"`
		Target     string `json:"target"`
		Version    string `json:"version"`
		ScriptType string `json:"script_type"`
		Code       string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	v, err := h.svc.Publish(PublishInput{
		Scope:      req.Scope,
		Target:     req.Target,
		Version:    req.Version,
		ScriptType: req.ScriptType,
		Code:       req.Code,
	})
	if err != nil {
		writeScriptErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toVersionOut(v))
}

func (h *HTTP) list(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	f := Filter{
		Scope:      r.URL.Query().Get("scope"),
		Target:     r.URL.Query().Get("target"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	versions, err := h.svc.List(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]versionOut, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionOut(v))
	}
	_ = json.NewEncoder(w).Encode(out)
}

// ── Library ──────────────────────────────────────────────────────────

type libraryOut struct {
	ID               uint      `json:"id"`
	Name             string    `json:"name"`
	ScriptType       string    `json:"script_type"`
	Version          string    `json:"version"`
	Code             string    `json:"code"`
	TargetDeviceType string    `json:"target_device_type,omitempty"`
	Description      string    `json:"description,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toLibraryOut(l models.LibraryScript) libraryOut {
	return libraryOut{
		ID:               l.ID,
		Name:             l.Name,
		ScriptType:       l.ScriptType,
		Version:          l.Version,
		Code:             l.Code,
		TargetDeviceType: l.TargetDeviceType,
		Description:      l.Description,
		UpdatedAt:        l.UpdatedAt,
	}
}

func (h *HTTP) createLibrary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		Name             string `json:"name"`
		ScriptType       string `json:"script_type"`
		Version          string `json:"version"`
		Code             string `json:"code"`
		TargetDeviceType string `json:"target_device_type"`
		Description      string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	l, err := h.svc.CreateLibraryScript(LibraryInput{
		Name:             req.Name,
		ScriptType:       req.ScriptType,
		Version:          req.Version,
		Code:             req.Code,
		TargetDeviceType: req.TargetDeviceType,
		Description:      req.Description,
	})
	if err != nil {
		writeScriptErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toLibraryOut(l))
}

func (h *HTTP) listLibrary(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	items, err := h.svc.ListLibrary()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]libraryOut, 0, len(items))
	for _, l := range items {
		out = append(out, toLibraryOut(l))
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (h *HTTP) getLibrary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := h.svc.GetLibraryScript(id)
	if err != nil {
		writeScriptErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(toLibraryOut(l))
}

func (h *HTTP) patchLibrary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name             *string `json:"name"`
		ScriptType       *string `json:"script_type"`
		Version          *string `json:"version"`
		Code             *string `json:"code"`
		TargetDeviceType *string `json:"target_device_type"`
		Description      *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	l, err := h.svc.UpdateLibraryScript(id, LibraryPatch{
		Name:             req.Name,
		ScriptType:       req.ScriptType,
		Version:          req.Version,
		Code:             req.Code,
		TargetDeviceType: req.TargetDeviceType,
		Description:      req.Description,
	})
	if err != nil {
		writeScriptErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(toLibraryOut(l))
}

func (h *HTTP) deleteLibrary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteLibraryScript(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) publishFromLibrary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Scope  string `json:"scope"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	v, err := h.svc.PublishFromLibrary(id, req.Scope, req.Target)
	if err != nil {
		writeScriptErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toVersionOut(v))
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func writeScriptErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidScript),
		errors.Is(err, ErrInvalidScope),
		errors.Is(err, ErrInvalidTarget),
		errors.Is(err, ErrUnknownScriptType):
		models.WriteProblem(w, http.StatusBadRequest, "Invalid script", err.Error(), nil)
	case errors.Is(err, ErrNameTaken):
		models.WriteProblem(w, http.StatusConflict, "Name taken", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not found", err.Error(), nil)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
