package cmdqueue

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

	api.HandleFunc("/commands", h.enqueue).Methods(http.MethodPost)
	api.HandleFunc("/commands", h.listCommands).Methods(http.MethodGet)
	api.HandleFunc("/commands/{command_id}", h.getCommand).Methods(http.MethodGet)
}

type commandOut struct {
	CommandID   string          `json:"command_id"`
	DeviceID    string          `json:"device_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Result      string          `json:"result,omitempty"`
	ExecutedAt  *time.Time      `json:"executed_at,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toCommandOut(c models.Command) commandOut {
	out := commandOut{
		CommandID:   c.CommandID,
		DeviceID:    c.DeviceID,
		Kind:        c.Kind,
		Priority:    c.Priority,
		Status:      c.Status,
		Attempts:    c.Attempts,
		MaxAttempts: c.MaxAttempts,
		Result:      c.Result,
		ExecutedAt:  c.ExecutedAt,
		ExpiresAt:   c.ExpiresAt,
		CreatedAt:   c.CreatedAt,
	}
	if c.Payload != "" {
		out.Payload = json.RawMessage(c.Payload)
	}
	return out
}

func (h *HTTP) enqueue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var in struct {
		DeviceID    string          `json:"device_id"`
		Kind        string          `json:"kind"`
		Payload     json.RawMessage `json:"payload"`
		Priority    *int            `json:"priority"`
		MaxAttempts *int            `json:"max_attempts"`
		ExpiresAt   *time.Time      `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	c, err := h.svc.Enqueue(EnqueueInput{
		DeviceID:    in.DeviceID,
		Kind:        in.Kind,
		Payload:     in.Payload,
		Priority:    in.Priority,
		MaxAttempts: in.MaxAttempts,
		ExpiresAt:   in.ExpiresAt,
	})
	if err != nil {
		writeQueueErr(w, in.DeviceID, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toCommandOut(c))
}

func (h *HTTP) listCommands(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	cmds, err := h.svc.List(Filter{
		DeviceID: r.URL.Query().Get("device_id"),
		Status:   r.URL.Query().Get("status"),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]commandOut, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, toCommandOut(c))
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (h *HTTP) getCommand(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	c, err := h.svc.Get(mux.Vars(r)["command_id"])
	if err != nil {
		writeQueueErr(w, "", err)
		return
	}
	_ = json.NewEncoder(w).Encode(toCommandOut(c))
}

func writeQueueErr(w http.ResponseWriter, deviceID string, err error) {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		models.WriteProblem(w, http.StatusNotFound, "Unknown device", "device not registered", map[string]string{"device_id": deviceID})
	case errors.Is(err, ErrInvalidCommand):
		models.WriteProblem(w, http.StatusBadRequest, "Invalid command", err.Error(), nil)
	case errors.Is(err, ErrUnknownCommand):
		models.WriteProblem(w, http.StatusNotFound, "Not found", "command not found", nil)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
