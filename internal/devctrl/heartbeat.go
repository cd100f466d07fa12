package devctrl

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"roost/internal/cmdqueue"
	"roost/internal/logs"
	"roost/internal/models"
	"roost/internal/registry"
)

// POST /fleet/heartbeat
//
// One round trip per check-in: the agent reports liveness and metrics,
// confirms finished commands, and learns whether more work is waiting.
func (c *Controller) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		DeviceID       string         `json:"device_id"`
		Metrics        map[string]any `json:"metrics"`
		CommandResults []struct {
			CommandID string `json:"command_id"`
			Status    string `json:"status"`
			Detail    string `json:"detail"`
		} `json:"command_results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad JSON", err.Error(), nil)
		return
	}

	var metricsJSON string
	if len(req.Metrics) > 0 {
		raw, err := json.Marshal(req.Metrics)
		if err != nil {
			models.WriteProblem(w, http.StatusBadRequest, "Bad metrics", err.Error(), nil)
			return
		}
		metricsJSON = string(raw)
	}

	dev, err := c.registry.Touch(req.DeviceID, metricsJSON)
	if err != nil {
		c.writeFleetErr(w, err, req.DeviceID)
		return
	}

	for _, res := range req.CommandResults {
		switch normalizeResult(res.Status) {
		case models.CommandAcked:
			_, err = c.commands.Ack(res.CommandID, res.Detail)
		case models.CommandFailed:
			_, err = c.commands.Fail(res.CommandID, res.Detail)
		default:
			logs.Logger.Warnf("devctrl: %s reported unknown result status %q for %s", dev.DeviceID, res.Status, res.CommandID)
			continue
		}
		// A stale confirmation must not sink the whole heartbeat.
		if err != nil {
			logs.Logger.Warnf("devctrl: confirm %s from %s: %v", res.CommandID, dev.DeviceID, err)
		}
	}

	pending, err := c.commands.PollPending(dev.DeviceID, c.batch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := struct {
		Ack             bool `json:"ack"`
		PendingCommands int  `json:"pending_commands"`
		CheckInInterval int  `json:"check_in_interval"`
	}{
		Ack:             true,
		PendingCommands: len(pending),
		CheckInInterval: dev.CheckInInterval,
	}
	_ = json.NewEncoder(w).Encode(out)
}

// normalizeResult folds agent wire spellings onto queue states.
func normalizeResult(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "ok", "success", "done", "acked":
		return models.CommandAcked
	case "failed", "error":
		return models.CommandFailed
	default:
		return ""
	}
}

// GET /fleet/commands/{device_id}
func (c *Controller) handleCommands(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	deviceID := mux.Vars(r)["device_id"]

	cmds, err := c.commands.PollPending(deviceID, c.batch)
	if err != nil {
		if errors.Is(err, cmdqueue.ErrUnknownDevice) {
			c.writeFleetErr(w, registry.ErrNotFound, deviceID)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := struct {
		Commands []commandOut `json:"commands"`
	}{Commands: make([]commandOut, 0, len(cmds))}
	for _, cmd := range cmds {
		out.Commands = append(out.Commands, toCommandOut(cmd))
	}
	_ = json.NewEncoder(w).Encode(out)
}

// POST /fleet/commands/{command_id}/delivered
func (c *Controller) handleDelivered(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	commandID := mux.Vars(r)["command_id"]

	cmd, err := c.commands.MarkDelivered(commandID)
	if err != nil {
		writeCommandErr(w, err, commandID)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ack": true, "status": cmd.Status})
}

// POST /fleet/commands/{command_id}/ack
func (c *Controller) handleAck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	commandID := mux.Vars(r)["command_id"]

	var req struct {
		Result string `json:"result"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // body optional
	}

	if _, err := c.commands.Ack(commandID, req.Result); err != nil {
		writeCommandErr(w, err, commandID)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ack": true})
}

// POST /fleet/commands/{command_id}/fail
func (c *Controller) handleFail(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	commandID := mux.Vars(r)["command_id"]

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if _, err := c.commands.Fail(commandID, req.Reason); err != nil {
		writeCommandErr(w, err, commandID)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ack": true})
}

// POST /fleet/logs
func (c *Controller) handleLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		DeviceID string `json:"device_id"`
		Entries  []struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad JSON", err.Error(), nil)
		return
	}

	entries := make([]registry.LogEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, registry.LogEntry{Level: e.Level, Message: e.Message})
	}

	stored, err := c.registry.AppendLogs(req.DeviceID, entries)
	if err != nil {
		c.writeFleetErr(w, err, req.DeviceID)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ack": true, "stored": stored})
}

func writeCommandErr(w http.ResponseWriter, err error, commandID string) {
	if errors.Is(err, cmdqueue.ErrUnknownCommand) {
		models.WriteProblem(w, http.StatusNotFound, "Unknown command", err.Error(), map[string]string{
			"command_id": commandID,
		})
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
