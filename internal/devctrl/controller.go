package devctrl

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"roost/internal/configsvc"
	"roost/internal/logs"
	"roost/internal/models"
	"roost/internal/registry"
)

// Device-facing surface. Agents speak JSON to /fleet/*; every response
// carries the X-Roost-Fleet header so an agent can tell a fleet
// controller from a stray proxy answering on the same port.

// Registry — срез реестра, нужный контроллеру устройств.
type Registry interface {
	Register(in registry.RegisterInput) (models.Device, bool, error)
	Get(deviceID string) (models.Device, error)
	Touch(deviceID, metricsJSON string) (models.Device, error)
	AppendLogs(deviceID string, entries []registry.LogEntry) (int, error)
	RecordConfigDelivery(deviceID, contentHash string) error
	RecordScriptVersion(deviceID, version string) error
}

// MasterPicker hands out a controller endpoint for a device.
type MasterPicker interface {
	AssignController(deviceID string) (models.MasterInstance, bool, error)
	Get(id uint) (models.MasterInstance, error)
}

// ConfigResolver resolves the effective configuration for a device.
type ConfigResolver interface {
	Resolve(deviceID, deviceType string) (configsvc.Resolved, bool, error)
}

// CommandQueue — the delivery half of the queue; enqueueing stays on the
// operator side.
type CommandQueue interface {
	PollPending(deviceID string, limit int) ([]models.Command, error)
	MarkDelivered(commandID string) (models.Command, error)
	Ack(commandID, result string) (models.Command, error)
	Fail(commandID, reason string) (models.Command, error)
}

// ScriptSource decides whether a device needs a new script.
type ScriptSource interface {
	CheckForUpdate(deviceID, deviceType, reportedVersion string) (models.ScriptVersion, bool, error)
}

const defaultCommandBatch = 10

type Controller struct {
	registry Registry
	masters  MasterPicker
	configs  ConfigResolver
	commands CommandQueue
	scripts  ScriptSource
	batch    int
}

func NewController(reg Registry, masters MasterPicker, configs ConfigResolver, commands CommandQueue, scripts ScriptSource, commandBatch int) *Controller {
	if commandBatch <= 0 {
		commandBatch = defaultCommandBatch
	}
	return &Controller{
		registry: reg,
		masters:  masters,
		configs:  configs,
		commands: commands,
		scripts:  scripts,
		batch:    commandBatch,
	}
}

func fleetHeaderMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Roost-Fleet", "true")
		next.ServeHTTP(w, r)
	})
}

func (c *Controller) RegisterRoutes(root *mux.Router) {
	root.HandleFunc("/fleet", c.handleRoot).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)

	sub := root.PathPrefix("/fleet").Subrouter()
	sub.Use(fleetHeaderMW)

	sub.HandleFunc("/", c.handleRoot).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	sub.HandleFunc("/register", c.handleRegister).Methods(http.MethodPost)
	sub.HandleFunc("/heartbeat", c.handleHeartbeat).Methods(http.MethodPost)
	sub.HandleFunc("/config/{device_id}", c.handleConfig).Methods(http.MethodGet)
	sub.HandleFunc("/commands/{device_id}", c.handleCommands).Methods(http.MethodGet)
	sub.HandleFunc("/commands/{command_id}/delivered", c.handleDelivered).Methods(http.MethodPost)
	sub.HandleFunc("/commands/{command_id}/ack", c.handleAck).Methods(http.MethodPost)
	sub.HandleFunc("/commands/{command_id}/fail", c.handleFail).Methods(http.MethodPost)
	sub.HandleFunc("/script/{device_id}", c.handleScript).Methods(http.MethodGet)
	sub.HandleFunc("/logs", c.handleLogs).Methods(http.MethodPost)
}

func (c *Controller) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("X-Roost-Fleet", "true")
	w.WriteHeader(http.StatusNoContent)
}

// POST /fleet/register
func (c *Controller) handleRegister(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		DeviceID        string         `json:"device_id"`
		Name            string         `json:"name"`
		DeviceType      string         `json:"device_type"`
		Capabilities    []string       `json:"capabilities"`
		Metadata        map[string]any `json:"metadata"`
		CheckInInterval int            `json:"check_in_interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad JSON", err.Error(), nil)
		return
	}

	dev, isNew, err := c.registry.Register(registry.RegisterInput{
		DeviceID:        req.DeviceID,
		Name:            req.Name,
		DeviceType:      req.DeviceType,
		Capabilities:    req.Capabilities,
		Metadata:        req.Metadata,
		CheckInInterval: req.CheckInInterval,
	})
	if err != nil {
		c.writeFleetErr(w, err, req.DeviceID)
		return
	}

	// Selection runs only while the device has no controller; an operator
	// pin or a prior assignment survives re-registration. Either way a
	// registration must not fail just because no controller is up.
	var (
		master   models.MasterInstance
		assigned bool
	)
	if dev.AssignedMasterID == nil {
		m, ok, err := c.masters.AssignController(dev.DeviceID)
		if err != nil {
			logs.Logger.Warnf("devctrl: assign controller for %s: %v", dev.DeviceID, err)
		} else if ok {
			master = m
			assigned = true
		}
	} else {
		m, err := c.masters.Get(*dev.AssignedMasterID)
		if err != nil {
			logs.Logger.Warnf("devctrl: master %d for %s: %v", *dev.AssignedMasterID, dev.DeviceID, err)
		} else {
			master = m
			assigned = true
		}
	}

	out := struct {
		DeviceID               string `json:"device_id"`
		Status                 string `json:"status"`
		IsNew                  bool   `json:"is_new"`
		AssignedMasterEndpoint string `json:"assigned_master_endpoint,omitempty"`
		FallbackMode           bool   `json:"fallback_mode,omitempty"`
		CheckInInterval        int    `json:"check_in_interval"`
		ConfigEndpoint         string `json:"config_endpoint"`
	}{
		DeviceID:        dev.DeviceID,
		Status:          dev.Status,
		IsNew:           isNew,
		CheckInInterval: dev.CheckInInterval,
		ConfigEndpoint:  "/fleet/config/" + dev.DeviceID,
	}
	if assigned {
		out.AssignedMasterEndpoint = master.Endpoint
	} else {
		out.FallbackMode = true
	}
	_ = json.NewEncoder(w).Encode(out)
}

// GET /fleet/config/{device_id}?known_hash=...
func (c *Controller) handleConfig(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	dev, err := c.registry.Get(deviceID)
	if err != nil {
		c.writeFleetErr(w, err, deviceID)
		return
	}

	res, ok, err := c.configs.Resolve(dev.DeviceID, dev.DeviceType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"no_configuration": true})
		return
	}

	etag := `"` + res.ContentHash + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Roost-Config-Sha256", res.ContentHash)
	w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if known := r.URL.Query().Get("known_hash"); known != "" && known == res.ContentHash {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"unchanged": true})
		return
	}

	if err := c.registry.RecordConfigDelivery(dev.DeviceID, res.ContentHash); err != nil {
		logs.Logger.Warnf("devctrl: record config delivery for %s: %v", dev.DeviceID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	out := struct {
		Payload     json.RawMessage `json:"payload"`
		ContentHash string          `json:"content_hash"`
		Scope       string          `json:"scope"`
		Version     int             `json:"version"`
	}{
		Payload:     json.RawMessage(res.Payload),
		ContentHash: res.ContentHash,
		Scope:       res.Scope,
		Version:     res.Version,
	}
	_ = json.NewEncoder(w).Encode(out)
}

// GET /fleet/script/{device_id}?reported_version=...
func (c *Controller) handleScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	deviceID := mux.Vars(r)["device_id"]
	reported := r.URL.Query().Get("reported_version")

	dev, err := c.registry.Get(deviceID)
	if err != nil {
		c.writeFleetErr(w, err, deviceID)
		return
	}
	if err := c.registry.RecordScriptVersion(dev.DeviceID, reported); err != nil {
		logs.Logger.Warnf("devctrl: record script version for %s: %v", dev.DeviceID, err)
	}

	v, ok, err := c.scripts.CheckForUpdate(dev.DeviceID, dev.DeviceType, reported)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{"unchanged": true})
		return
	}

	out := struct {
		Version    string `json:"version"`
		ScriptType string `json:"script_type"`
		Code       string `json:"code"`
		Checksum   string `json:"checksum"`
	}{
		Version:    v.Version,
		ScriptType: v.ScriptType,
		Code:       v.Code,
		Checksum:   v.Checksum,
	}
	_ = json.NewEncoder(w).Encode(out)
}

// commandOut — the wire view a device gets; result bookkeeping stays
// server side.
type commandOut struct {
	CommandID string          `json:"command_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Priority  int             `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`
}

func toCommandOut(cmd models.Command) commandOut {
	out := commandOut{
		CommandID: cmd.CommandID,
		Kind:      cmd.Kind,
		Priority:  cmd.Priority,
		CreatedAt: cmd.CreatedAt,
	}
	if cmd.Payload != "" {
		out.Payload = json.RawMessage(cmd.Payload)
	}
	return out
}

func (c *Controller) writeFleetErr(w http.ResponseWriter, err error, deviceID string) {
	switch {
	case errors.Is(err, registry.ErrInvalidIdentity):
		models.WriteProblem(w, http.StatusBadRequest, "Invalid device id", err.Error(), nil)
	case errors.Is(err, registry.ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Unknown device", "device is not registered", map[string]string{
			"device_id": deviceID,
			"action":    "register",
		})
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
