package masters

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"roost/internal/models"
)

type HTTP struct{ svc *Service }

func NewHTTP(svc *Service) *HTTP { return &HTTP{svc: svc} }

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/masters", h.createMaster).Methods(http.MethodPost)
	api.HandleFunc("/masters", h.listMasters).Methods(http.MethodGet)
	api.HandleFunc("/masters/{id}", h.getMaster).Methods(http.MethodGet)
	api.HandleFunc("/masters/{id}", h.patchMaster).Methods(http.MethodPatch)
	api.HandleFunc("/masters/{id}", h.deleteMaster).Methods(http.MethodDelete)

	// Operator-initiated re-selection for one device.
	api.HandleFunc("/devices/{device_id}/reassign", h.reassignDevice).Methods(http.MethodPost)
}

type masterOut struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Priority    int       `json:"priority"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	Devices     int       `json:"devices"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *HTTP) toOut(m models.MasterInstance) masterOut {
	n, _ := h.svc.DeviceCount(m.ID)
	return masterOut{
		ID:          m.ID,
		Name:        m.Name,
		Endpoint:    m.Endpoint,
		Priority:    m.Priority,
		Enabled:     m.Enabled,
		Description: m.Description,
		Devices:     n,
		CreatedAt:   m.CreatedAt,
	}
}

func (h *HTTP) createMaster(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var in struct {
		Name        string `json:"name"`
		Endpoint    string `json:"endpoint"`
		Priority    *int   `json:"priority"`
		Enabled     bool   `json:"enabled"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		http.Error(w, "invalid body (need {name, ...})", http.StatusBadRequest)
		return
	}
	m, err := h.svc.Create(CreateInput{
		Name:        in.Name,
		Endpoint:    in.Endpoint,
		Priority:    in.Priority,
		Enabled:     in.Enabled,
		Description: in.Description,
	})
	if err != nil {
		if errors.Is(err, ErrNameTaken) {
			models.WriteProblem(w, http.StatusConflict, "Name taken", "master instance name must be unique", map[string]string{"name": in.Name})
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(h.toOut(m))
}

func (h *HTTP) listMasters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ms, err := h.svc.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]masterOut, 0, len(ms))
	for _, m := range ms {
		out = append(out, h.toOut(m))
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (h *HTTP) getMaster(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.Get(id)
	if err != nil {
		writeMasterErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(h.toOut(m))
}

func (h *HTTP) patchMaster(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in struct {
		Name        *string `json:"name"`
		Endpoint    *string `json:"endpoint"`
		Priority    *int    `json:"priority"`
		Enabled     *bool   `json:"enabled"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	m, err := h.svc.Update(id, UpdateInput{
		Name:        in.Name,
		Endpoint:    in.Endpoint,
		Priority:    in.Priority,
		Enabled:     in.Enabled,
		Description: in.Description,
	})
	if err != nil {
		writeMasterErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(h.toOut(m))
}

func (h *HTTP) deleteMaster(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) reassignDevice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	deviceID := mux.Vars(r)["device_id"]

	m, assigned, err := h.svc.Reassign(deviceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !assigned {
		_ = json.NewEncoder(w).Encode(map[string]any{"assigned": false, "fallback_mode": true})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"assigned":  true,
		"master_id": m.ID,
		"endpoint":  m.Endpoint,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	u, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || u == 0 {
		http.Error(w, "invalid master id", http.StatusBadRequest)
		return 0, false
	}
	return uint(u), true
}

func writeMasterErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not found", "master instance not found", nil)
	case errors.Is(err, ErrNameTaken):
		models.WriteProblem(w, http.StatusConflict, "Name taken", "master instance name must be unique", nil)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
