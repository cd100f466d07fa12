package registry

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

	api.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/summary", h.summary).Methods(http.MethodGet)
	api.HandleFunc("/devices/{device_id}", h.getDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{device_id}", h.patchDevice).Methods(http.MethodPatch)
	api.HandleFunc("/devices/{device_id}", h.deleteDevice).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{device_id}/logs", h.deviceLogs).Methods(http.MethodGet)
}

type deviceOut struct {
	DeviceID         string          `json:"device_id"`
	Name             string          `json:"name,omitempty"`
	DeviceType       string          `json:"device_type,omitempty"`
	Status           string          `json:"status"`
	LastSeenAt       *time.Time      `json:"last_seen_at,omitempty"`
	AssignedMasterID *uint           `json:"assigned_master_id,omitempty"`
	Capabilities     json.RawMessage `json:"capabilities,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	LastMetrics      json.RawMessage `json:"last_metrics,omitempty"`
	CheckInInterval  int             `json:"check_in_interval"`
	ScriptVersion    string          `json:"current_script_version,omitempty"`
	ConfigHash       string          `json:"last_config_hash,omitempty"`
	RegisteredAt     time.Time       `json:"registered_at"`
}

func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func toDeviceOut(d models.Device) deviceOut {
	return deviceOut{
		DeviceID:         d.DeviceID,
		Name:             d.Name,
		DeviceType:       d.DeviceType,
		Status:           d.Status,
		LastSeenAt:       d.LastSeenAt,
		AssignedMasterID: d.AssignedMasterID,
		Capabilities:     rawJSON(d.Capabilities),
		Metadata:         rawJSON(d.Metadata),
		LastMetrics:      rawJSON(d.LastMetrics),
		CheckInInterval:  d.CheckInInterval,
		ScriptVersion:    d.CurrentScriptVersion,
		ConfigHash:       d.LastConfigHash,
		RegisteredAt:     d.CreatedAt,
	}
}

func (h *HTTP) listDevices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	f := Filter{
		Status:     r.URL.Query().Get("status"),
		DeviceType: r.URL.Query().Get("device_type"),
	}
	if mid := r.URL.Query().Get("master_id"); mid != "" {
		u, err := strconv.ParseUint(mid, 10, 64)
		if err != nil {
			http.Error(w, "invalid master_id", http.StatusBadRequest)
			return
		}
		id := uint(u)
		f.MasterID = &id
	}

	devs, err := h.svc.List(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]deviceOut, 0, len(devs))
	for _, d := range devs {
		out = append(out, toDeviceOut(d))
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (h *HTTP) summary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	sum, err := h.svc.Summary()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(sum)
}

func (h *HTTP) getDevice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["device_id"]

	d, err := h.svc.Get(id)
	if err != nil {
		writeRegistryErr(w, id, err)
		return
	}
	_ = json.NewEncoder(w).Encode(toDeviceOut(d))
}

func (h *HTTP) patchDevice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["device_id"]

	var in struct {
		Name             *string `json:"name"`
		CheckInInterval  *int    `json:"check_in_interval"`
		AssignedMasterID *uint   `json:"assigned_master_id"` // 0 clears
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	d, err := h.svc.Update(id, Patch{
		Name:             in.Name,
		CheckInInterval:  in.CheckInInterval,
		AssignedMasterID: in.AssignedMasterID,
	})
	if err != nil {
		writeRegistryErr(w, id, err)
		return
	}
	_ = json.NewEncoder(w).Encode(toDeviceOut(d))
}

func (h *HTTP) deleteDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["device_id"]
	if err := h.svc.Deregister(id); err != nil {
		writeRegistryErr(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) deviceLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["device_id"]

	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		limit, _ = strconv.Atoi(ls)
	}

	lines, err := h.svc.Logs(id, limit)
	if err != nil {
		writeRegistryErr(w, id, err)
		return
	}
	type logOut struct {
		Level     string    `json:"level"`
		Message   string    `json:"message"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]logOut, 0, len(lines))
	for _, l := range lines {
		out = append(out, logOut{Level: l.Level, Message: l.Message, CreatedAt: l.CreatedAt})
	}
	_ = json.NewEncoder(w).Encode(out)
}

func writeRegistryErr(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, ErrInvalidIdentity):
		models.WriteProblem(w, http.StatusBadRequest, "Invalid identity", "device_id is empty or malformed", nil)
	case errors.Is(err, ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not found", "device not registered", map[string]string{"device_id": id})
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
