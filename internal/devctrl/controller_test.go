package devctrl

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roost/internal/cmdqueue"
	"roost/internal/configsvc"
	"roost/internal/masters"
	"roost/internal/registry"
	"roost/internal/scripts"
)

type fixture struct {
	router   *mux.Router
	registry *registry.Service
	masters  *masters.Service
	configs  *configsvc.Service
	queue    *cmdqueue.Service
	scripts  *scripts.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewService(nil, registry.Options{})
	ms := masters.NewService(nil, reg)
	cfg := configsvc.NewService(nil)
	q := cmdqueue.NewService(nil, reg)
	sc := scripts.NewService(nil)

	r := mux.NewRouter()
	NewController(reg, ms, cfg, q, sc, 10).RegisterRoutes(r)

	return &fixture{router: r, registry: reg, masters: ms, configs: cfg, queue: q, scripts: sc}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// TestRegister_FallbackWithoutMaster tests that a device registering
// while no controller is enabled gets fallback mode, not an error.
func TestRegister_FallbackWithoutMaster(t *testing.T) {
	// Setup
	f := newFixture(t)

	// Execute
	w := f.do(t, http.MethodPost, "/fleet/register", map[string]any{
		"device_id":   "sensor-001",
		"device_type": "sensor",
		"name":        "greenhouse north",
	})

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Roost-Fleet"))

	var out struct {
		DeviceID        string `json:"device_id"`
		Status          string `json:"status"`
		IsNew           bool   `json:"is_new"`
		FallbackMode    bool   `json:"fallback_mode"`
		CheckInInterval int    `json:"check_in_interval"`
		ConfigEndpoint  string `json:"config_endpoint"`
	}
	decode(t, w, &out)
	assert.Equal(t, "sensor-001", out.DeviceID)
	assert.Equal(t, "pending", out.Status)
	assert.True(t, out.IsNew)
	assert.True(t, out.FallbackMode)
	assert.Equal(t, 60, out.CheckInInterval)
	assert.Equal(t, "/fleet/config/sensor-001", out.ConfigEndpoint)
}

// TestRegister_AssignsEnabledMaster tests that the lowest-priority
// enabled controller endpoint is handed to a registering device.
func TestRegister_AssignsEnabledMaster(t *testing.T) {
	// Setup
	f := newFixture(t)
	pri := 10
	_, err := f.masters.Create(masters.CreateInput{Name: "primary", Endpoint: "https://m1.local:9000", Priority: &pri, Enabled: true})
	require.NoError(t, err)
	_, err = f.masters.Create(masters.CreateInput{Name: "backup", Endpoint: "https://m2.local:9000", Enabled: true})
	require.NoError(t, err)

	// Execute
	w := f.do(t, http.MethodPost, "/fleet/register", map[string]any{
		"device_id": "sensor-001",
	})

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		AssignedMasterEndpoint string `json:"assigned_master_endpoint"`
		FallbackMode           bool   `json:"fallback_mode"`
	}
	decode(t, w, &out)
	assert.Equal(t, "https://m1.local:9000", out.AssignedMasterEndpoint)
	assert.False(t, out.FallbackMode)
}

// TestRegister_KeepsExistingAssignment tests that re-registration leaves
// an already-assigned device on its controller instead of re-running
// selection over it.
func TestRegister_KeepsExistingAssignment(t *testing.T) {
	// Setup
	f := newFixture(t)
	p1, p2 := 1, 2
	_, err := f.masters.Create(masters.CreateInput{Name: "primary", Endpoint: "https://m1.local:9000", Priority: &p1, Enabled: true})
	require.NoError(t, err)
	backup, err := f.masters.Create(masters.CreateInput{Name: "backup", Endpoint: "https://m2.local:9000", Priority: &p2, Enabled: true})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/fleet/register", map[string]any{
		"device_id": "sensor-001",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// operator pins the device to the backup controller
	pin := backup.ID
	_, err = f.registry.Update("sensor-001", registry.Patch{AssignedMasterID: &pin})
	require.NoError(t, err)

	// Execute
	w = f.do(t, http.MethodPost, "/fleet/register", map[string]any{
		"device_id": "sensor-001",
	})

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		IsNew                  bool   `json:"is_new"`
		AssignedMasterEndpoint string `json:"assigned_master_endpoint"`
		FallbackMode           bool   `json:"fallback_mode"`
	}
	decode(t, w, &out)
	assert.False(t, out.IsNew)
	assert.Equal(t, "https://m2.local:9000", out.AssignedMasterEndpoint, "pinned endpoint comes back, not the selection winner")
	assert.False(t, out.FallbackMode)

	dev, err := f.registry.Get("sensor-001")
	require.NoError(t, err)
	require.NotNil(t, dev.AssignedMasterID)
	assert.Equal(t, backup.ID, *dev.AssignedMasterID)
}

// TestRegister_InvalidIdentity tests the problem response for a
// malformed device id.
func TestRegister_InvalidIdentity(t *testing.T) {
	// Setup
	f := newFixture(t)

	// Execute
	w := f.do(t, http.MethodPost, "/fleet/register", map[string]any{
		"device_id": "has space",
	})

	// Assert
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

// TestHeartbeat_UnknownDeviceToldToRegister tests that a heartbeat from
// an unregistered device gets a 404 pointing it back to registration.
func TestHeartbeat_UnknownDeviceToldToRegister(t *testing.T) {
	// Setup
	f := newFixture(t)

	// Execute
	w := f.do(t, http.MethodPost, "/fleet/heartbeat", map[string]any{
		"device_id": "ghost-1",
	})

	// Assert
	require.Equal(t, http.StatusNotFound, w.Code)
	var problem struct {
		Action   string `json:"action"`
		DeviceID string `json:"device_id"`
	}
	decode(t, w, &problem)
	assert.Equal(t, "register", problem.Action)
	assert.Equal(t, "ghost-1", problem.DeviceID)
}

// TestHeartbeat_MarksOnlineAndCountsPending tests the happy path: the
// device goes online, and the response advertises queued work.
func TestHeartbeat_MarksOnlineAndCountsPending(t *testing.T) {
	// Setup
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/fleet/register", map[string]any{"device_id": "sensor-001"}).Code)
	_, err := f.queue.Enqueue(cmdqueue.EnqueueInput{DeviceID: "sensor-001", Kind: "reboot"})
	require.NoError(t, err)

	// Execute
	w := f.do(t, http.MethodPost, "/fleet/heartbeat", map[string]any{
		"device_id": "sensor-001",
		"metrics":   map[string]any{"battery_percent": 81},
	})

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Ack             bool `json:"ack"`
		PendingCommands int  `json:"pending_commands"`
		CheckInInterval int  `json:"check_in_interval"`
	}
	decode(t, w, &out)
	assert.True(t, out.Ack)
	assert.Equal(t, 1, out.PendingCommands)
	assert.Equal(t, 60, out.CheckInInterval)

	dev, err := f.registry.Get("sensor-001")
	require.NoError(t, err)
	assert.Equal(t, "online", dev.Status)
	require.NotNil(t, dev.LastSeenAt)
	assert.Contains(t, dev.LastMetrics, "battery_percent")
}

// TestHeartbeat_InlineCommandResults tests that command confirmations
// piggybacked on a heartbeat reach the queue, and that a bogus one does
// not break the heartbeat.
func TestHeartbeat_InlineCommandResults(t *testing.T) {
	// Setup
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/fleet/register", map[string]any{"device_id": "sensor-001"}).Code)
	ok1, err := f.queue.Enqueue(cmdqueue.EnqueueInput{DeviceID: "sensor-001", Kind: "reboot"})
	require.NoError(t, err)
	ok2, err := f.queue.Enqueue(cmdqueue.EnqueueInput{DeviceID: "sensor-001", Kind: "set-interval"})
	require.NoError(t, err)
	_, err = f.queue.MarkDelivered(ok1.CommandID)
	require.NoError(t, err)
	_, err = f.queue.MarkDelivered(ok2.CommandID)
	require.NoError(t, err)

	// Execute
	w := f.do(t, http.MethodPost, "/fleet/heartbeat", map[string]any{
		"device_id": "sensor-001",
		"command_results": []map[string]string{
			{"command_id": ok1.CommandID, "status": "ok", "detail": "rebooted"},
			{"command_id": ok2.CommandID, "status": "error", "detail": "unsupported"},
			{"command_id": "no-such-command", "status": "ok"},
		},
	})

	// Assert
	require.Equal(t, http.StatusOK, w.Code)

	c1, err := f.queue.Get(ok1.CommandID)
	require.NoError(t, err)
	assert.Equal(t, "acked", c1.Status)
	assert.Equal(t, "rebooted", c1.Result)

	c2, err := f.queue.Get(ok2.CommandID)
	require.NoError(t, err)
	assert.Equal(t, "failed", c2.Status)
}

// TestConfig_FetchRecordsAndShortCircuits tests the config round trip:
// full payload first, unchanged on matching hash, 304 on matching ETag.
func TestConfig_FetchRecordsAndShortCircuits(t *testing.T) {
	// Setup
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/fleet/register", map[string]any{"device_id": "sensor-001", "device_type": "sensor"}).Code)
	_, err := f.configs.Activate("type", "sensor", "sensor defaults", json.RawMessage(`{"interval": 30, "unit": "c"}`))
	require.NoError(t, err)

	// Execute: first fetch
	w := f.do(t, http.MethodGet, "/fleet/config/sensor-001", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Payload     map[string]any `json:"payload"`
		ContentHash string         `json:"content_hash"`
		Scope       string         `json:"scope"`
		Version     int            `json:"version"`
	}
	decode(t, w, &out)
	assert.Equal(t, "type", out.Scope)
	assert.Equal(t, 1, out.Version)
	assert.Len(t, out.ContentHash, 64)
	assert.Equal(t, float64(30), out.Payload["interval"])

	dev, err := f.registry.Get("sensor-001")
	require.NoError(t, err)
	assert.Equal(t, out.ContentHash, dev.LastConfigHash)
	assert.NotNil(t, dev.LastConfigAt)

	// second fetch with the hash the device now holds
	w2 := f.do(t, http.MethodGet, "/fleet/config/sensor-001?known_hash="+out.ContentHash, nil)
	require.Equal(t, http.StatusOK, w2.Code)
	var short struct {
		Unchanged bool `json:"unchanged"`
	}
	decode(t, w2, &short)
	assert.True(t, short.Unchanged)

	// conditional fetch via ETag
	req := httptest.NewRequest(http.MethodGet, "/fleet/config/sensor-001", nil)
	req.Header.Set("If-None-Match", w.Header().Get("ETag"))
	w3 := httptest.NewRecorder()
	f.router.ServeHTTP(w3, req)
	assert.Equal(t, http.StatusNotModified, w3.Code)
}

// TestConfig_NoConfiguration tests the explicit no-configuration answer.
func TestConfig_NoConfiguration(t *testing.T) {
	// Setup
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/fleet/register", map[string]any{"device_id": "sensor-001"}).Code)

	// Execute
	w := f.do(t, http.MethodGet, "/fleet/config/sensor-001", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		NoConfiguration bool `json:"no_configuration"`
	}
	decode(t, w, &out)
	assert.True(t, out.NoConfiguration)
}

// TestCommands_PollThenConfirm tests the poll endpoint ordering and the
// delivered/ack confirmations.
func TestCommands_PollThenConfirm(t *testing.T) {
	// Setup
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/fleet/register", map[string]any{"device_id": "sensor-001"}).Code)
	low, urgent := 200, 1
	slow, err := f.queue.Enqueue(cmdqueue.EnqueueInput{DeviceID: "sensor-001", Kind: "report", Priority: &low})
	require.NoError(t, err)
	fast, err := f.queue.Enqueue(cmdqueue.EnqueueInput{DeviceID: "sensor-001", Kind: "reboot", Priority: &urgent})
	require.NoError(t, err)

	// Execute
	w := f.do(t, http.MethodGet, "/fleet/commands/sensor-001", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Commands []struct {
			CommandID string `json:"command_id"`
			Kind      string `json:"kind"`
		} `json:"commands"`
	}
	decode(t, w, &out)
	require.Len(t, out.Commands, 2)
	assert.Equal(t, fast.CommandID, out.Commands[0].CommandID)
	assert.Equal(t, slow.CommandID, out.Commands[1].CommandID)

	wd := f.do(t, http.MethodPost, "/fleet/commands/"+fast.CommandID+"/delivered", nil)
	require.Equal(t, http.StatusOK, wd.Code)
	var dOut struct {
		Ack    bool   `json:"ack"`
		Status string `json:"status"`
	}
	decode(t, wd, &dOut)
	assert.True(t, dOut.Ack)
	assert.Equal(t, "delivered", dOut.Status)

	wa := f.do(t, http.MethodPost, "/fleet/commands/"+fast.CommandID+"/ack", map[string]string{"result": "done"})
	require.Equal(t, http.StatusOK, wa.Code)

	got, err := f.queue.Get(fast.CommandID)
	require.NoError(t, err)
	assert.Equal(t, "acked", got.Status)
	assert.Equal(t, "done", got.Result)
}

// TestCommands_UnknownDevice tests polling for a device nobody
// registered.
func TestCommands_UnknownDevice(t *testing.T) {
	// Setup
	f := newFixture(t)

	// Execute
	w := f.do(t, http.MethodGet, "/fleet/commands/ghost-1", nil)

	// Assert
	require.Equal(t, http.StatusNotFound, w.Code)
}

// TestScript_UpdateRoundTrip tests the script check: update delivered
// when behind, unchanged once the device reports the active version.
func TestScript_UpdateRoundTrip(t *testing.T) {
	// Setup
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/fleet/register", map[string]any{"device_id": "sensor-001", "device_type": "sensor"}).Code)
	published, err := f.scripts.Publish(scripts.PublishInput{
		Scope:   "type",
		Target:  "sensor",
		Version: "1.2.0",
		Code:    "void loop() {}",
	})
	require.NoError(t, err)

	// Execute: behind → update
	w := f.do(t, http.MethodGet, "/fleet/script/sensor-001?reported_version=1.1.0", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Version    string `json:"version"`
		ScriptType string `json:"script_type"`
		Code       string `json:"code"`
		Checksum   string `json:"checksum"`
	}
	decode(t, w, &out)
	assert.Equal(t, "1.2.0", out.Version)
	assert.Equal(t, published.Checksum, out.Checksum)
	assert.Equal(t, "void loop() {}", out.Code)

	dev, err := f.registry.Get("sensor-001")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", dev.CurrentScriptVersion)

	// current → unchanged
	w2 := f.do(t, http.MethodGet, "/fleet/script/sensor-001?reported_version=1.2.0", nil)
	require.Equal(t, http.StatusOK, w2.Code)
	var short struct {
		Unchanged bool `json:"unchanged"`
	}
	decode(t, w2, &short)
	assert.True(t, short.Unchanged)
}

// TestLogs_Append tests shipping device logs through the fleet surface.
func TestLogs_Append(t *testing.T) {
	// Setup
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/fleet/register", map[string]any{"device_id": "sensor-001"}).Code)

	// Execute
	w := f.do(t, http.MethodPost, "/fleet/logs", map[string]any{
		"device_id": "sensor-001",
		"entries": []map[string]string{
			{"level": "info", "message": "boot ok"},
			{"level": "error", "message": "sensor read timeout"},
		},
	})

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Ack    bool `json:"ack"`
		Stored int  `json:"stored"`
	}
	decode(t, w, &out)
	assert.True(t, out.Ack)
	assert.Equal(t, 2, out.Stored)

	entries, err := f.registry.Logs("sensor-001", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sensor read timeout", entries[0].Message)
}
