package cmdqueue

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"roost/internal/models"
)

var (
	ErrUnknownDevice  = errors.New("device not registered")
	ErrUnknownCommand = errors.New("command not found")
	ErrInvalidCommand = errors.New("command kind required")
)

// DeviceChecker — the one registry question this package asks.
type DeviceChecker interface {
	Exists(deviceID string) (bool, error)
}

// Filter narrows List for the operator view.
type Filter struct {
	DeviceID string
	Status   string
}

// Store — контракт хранилища очереди команд.
type Store interface {
	Create(c *models.Command) error
	// FindByCommandID returns (nil, nil) when absent.
	FindByCommandID(commandID string) (*models.Command, error)
	Save(c *models.Command) error
	// PendingForDevice returns unexpired pending commands ordered by
	// priority asc, created_at asc, id asc; at most limit (0 = all).
	PendingForDevice(deviceID string, now time.Time, limit int) ([]models.Command, error)
	// List returns commands in poll order, filtered.
	List(f Filter) ([]models.Command, error)
}

// Service owns the per-device command queue. Delivery is at-least-once:
// a device may see the same command twice; acked and failed rows are
// terminal and never change again.
type Service struct {
	store   Store
	devices DeviceChecker
	locks   cmap.ConcurrentMap[string, *sync.Mutex]
	nowFn   func() time.Time
}

func NewService(store Store, devices DeviceChecker) *Service {
	if store == nil {
		store = NewMemStore()
	}
	return &Service{
		store:   store,
		devices: devices,
		locks:   cmap.New[*sync.Mutex](),
		nowFn:   time.Now,
	}
}

// lockCommand serializes one command's state transition.
func (s *Service) lockCommand(commandID string) func() {
	mu := &sync.Mutex{}
	if !s.locks.SetIfAbsent(commandID, mu) {
		mu, _ = s.locks.Get(commandID)
	}
	mu.Lock()
	return mu.Unlock
}

type EnqueueInput struct {
	DeviceID    string
	Kind        string
	Payload     json.RawMessage
	Priority    *int // lower = more urgent; default 100
	MaxAttempts *int // default 3
	ExpiresAt   *time.Time
}

// Enqueue queues a command for a registered device. Commands for unknown
// devices are refused: a queue nobody will ever poll is a bug upstream.
func (s *Service) Enqueue(in EnqueueInput) (models.Command, error) {
	if in.Kind == "" {
		return models.Command{}, ErrInvalidCommand
	}
	ok, err := s.devices.Exists(in.DeviceID)
	if err != nil {
		return models.Command{}, err
	}
	if !ok {
		return models.Command{}, ErrUnknownDevice
	}

	c := models.Command{
		CommandID:   uuid.NewString(),
		DeviceID:    in.DeviceID,
		Kind:        in.Kind,
		Priority:    100,
		Status:      models.CommandPending,
		MaxAttempts: 3,
		ExpiresAt:   in.ExpiresAt,
	}
	if len(in.Payload) > 0 {
		c.Payload = string(in.Payload)
	}
	if in.Priority != nil {
		c.Priority = *in.Priority
	}
	if in.MaxAttempts != nil && *in.MaxAttempts > 0 {
		c.MaxAttempts = *in.MaxAttempts
	}
	if err := s.store.Create(&c); err != nil {
		return models.Command{}, err
	}
	return c, nil
}

// PollPending is a pure read: polling mutates nothing, so a device that
// crashes mid-poll just polls again. Expired commands are invisible.
func (s *Service) PollPending(deviceID string, limit int) ([]models.Command, error) {
	ok, err := s.devices.Exists(deviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownDevice
	}
	return s.store.PendingForDevice(deviceID, s.nowFn(), limit)
}

// MarkDelivered counts one delivery attempt. When attempts reach
// max_attempts without an ack the command fails for good; a delivery
// confirmation for a terminal command is a no-op, never a resurrect.
func (s *Service) MarkDelivered(commandID string) (models.Command, error) {
	unlock := s.lockCommand(commandID)
	defer unlock()

	c, err := s.store.FindByCommandID(commandID)
	if err != nil {
		return models.Command{}, err
	}
	if c == nil {
		return models.Command{}, ErrUnknownCommand
	}
	if c.Status == models.CommandAcked || c.Status == models.CommandFailed {
		return *c, nil
	}

	c.Attempts++
	c.Status = models.CommandDelivered
	if c.Attempts >= c.MaxAttempts {
		c.Status = models.CommandFailed
		if c.Result == "" {
			c.Result = "delivery attempts exhausted"
		}
	}
	if err := s.store.Save(c); err != nil {
		return models.Command{}, err
	}
	return *c, nil
}

// Ack marks successful execution. Re-acking is a no-op; a late ack for a
// command that already failed stays failed (terminal means terminal).
func (s *Service) Ack(commandID, result string) (models.Command, error) {
	unlock := s.lockCommand(commandID)
	defer unlock()

	c, err := s.store.FindByCommandID(commandID)
	if err != nil {
		return models.Command{}, err
	}
	if c == nil {
		return models.Command{}, ErrUnknownCommand
	}
	if c.Status == models.CommandAcked || c.Status == models.CommandFailed {
		return *c, nil
	}

	now := s.nowFn()
	c.Status = models.CommandAcked
	c.ExecutedAt = &now
	if result != "" {
		c.Result = result
	}
	if err := s.store.Save(c); err != nil {
		return models.Command{}, err
	}
	return *c, nil
}

// Fail marks explicit device-side failure. Terminal.
func (s *Service) Fail(commandID, reason string) (models.Command, error) {
	unlock := s.lockCommand(commandID)
	defer unlock()

	c, err := s.store.FindByCommandID(commandID)
	if err != nil {
		return models.Command{}, err
	}
	if c == nil {
		return models.Command{}, ErrUnknownCommand
	}
	if c.Status == models.CommandAcked || c.Status == models.CommandFailed {
		return *c, nil
	}

	now := s.nowFn()
	c.Status = models.CommandFailed
	c.ExecutedAt = &now
	if reason != "" {
		c.Result = reason
	}
	if err := s.store.Save(c); err != nil {
		return models.Command{}, err
	}
	return *c, nil
}

// Get returns one command by its public id.
func (s *Service) Get(commandID string) (models.Command, error) {
	c, err := s.store.FindByCommandID(commandID)
	if err != nil {
		return models.Command{}, err
	}
	if c == nil {
		return models.Command{}, ErrUnknownCommand
	}
	return *c, nil
}

// List — operator view, same ordering devices see.
func (s *Service) List(f Filter) ([]models.Command, error) {
	return s.store.List(f)
}

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	byID   map[string]models.Command
	nextID uint
	mu     sync.RWMutex
}

func NewMemStore() *memStore {
	return &memStore{byID: make(map[string]models.Command)}
}

func cloneCommand(c models.Command) models.Command {
	cp := c
	if c.ExecutedAt != nil {
		t := *c.ExecutedAt
		cp.ExecutedAt = &t
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	return cp
}

func (m *memStore) Create(c *models.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt
	m.byID[c.CommandID] = cloneCommand(*c)
	return nil
}

func (m *memStore) FindByCommandID(commandID string) (*models.Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[commandID]
	if !ok {
		return nil, nil
	}
	cp := cloneCommand(c)
	return &cp, nil
}

func (m *memStore) Save(c *models.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = time.Now()
	m.byID[c.CommandID] = cloneCommand(*c)
	return nil
}

func pollLess(a, b models.Command) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (m *memStore) PendingForDevice(deviceID string, now time.Time, limit int) ([]models.Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Command, 0, 8)
	for _, c := range m.byID {
		if c.DeviceID != deviceID || c.Status != models.CommandPending {
			continue
		}
		if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			continue
		}
		out = append(out, cloneCommand(c))
	}
	sort.Slice(out, func(i, j int) bool { return pollLess(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) List(f Filter) ([]models.Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Command, 0, len(m.byID))
	for _, c := range m.byID {
		if f.DeviceID != "" && c.DeviceID != f.DeviceID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, cloneCommand(c))
	}
	sort.Slice(out, func(i, j int) bool { return pollLess(out[i], out[j]) })
	return out, nil
}
