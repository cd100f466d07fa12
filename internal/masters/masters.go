package masters

import (
	"errors"
	"sort"
	"sync"
	"time"

	"roost/internal/models"
)

var (
	ErrNotFound  = errors.New("master instance not found")
	ErrNameTaken = errors.New("master instance name already taken")
)

// DeviceDirectory — the slice of the registry this package needs: persist
// an assignment, enumerate a master's devices. Wired in server setup.
type DeviceDirectory interface {
	SetAssignedMaster(deviceID string, masterID *uint) error
	DevicesByMaster(masterID uint) ([]string, error)
}

// Store — контракт хранилища мастер-инстансов.
type Store interface {
	Create(m *models.MasterInstance) error
	FindByID(id uint) (*models.MasterInstance, error)
	FindByName(name string) (*models.MasterInstance, error)
	// List returns every instance ordered by priority asc, id asc.
	List() ([]models.MasterInstance, error)
	Save(m *models.MasterInstance) error
	Delete(id uint) error
}

// Pick selects the controller for a device: lowest priority number among
// enabled instances, ties broken by id ascending. Pure function over the
// snapshot it is given; callers decide what snapshot that is.
func Pick(instances []models.MasterInstance) (models.MasterInstance, bool) {
	best := models.MasterInstance{}
	found := false
	for _, m := range instances {
		if !m.Enabled {
			continue
		}
		if !found || m.Priority < best.Priority || (m.Priority == best.Priority && m.ID < best.ID) {
			best = m
			found = true
		}
	}
	return best, found
}

type Service struct {
	store Store
	dir   DeviceDirectory
}

func NewService(store Store, dir DeviceDirectory) *Service {
	if store == nil {
		store = NewMemStore()
	}
	return &Service{store: store, dir: dir}
}

// AssignController points a device at the best available master and
// persists the choice. ok=false means no enabled instance exists; the
// device is left explicitly unassigned, which is an outcome, not an error.
func (s *Service) AssignController(deviceID string) (models.MasterInstance, bool, error) {
	instances, err := s.store.List()
	if err != nil {
		return models.MasterInstance{}, false, err
	}
	m, ok := Pick(instances)
	if !ok {
		if err := s.dir.SetAssignedMaster(deviceID, nil); err != nil {
			return models.MasterInstance{}, false, err
		}
		return models.MasterInstance{}, false, nil
	}
	id := m.ID
	if err := s.dir.SetAssignedMaster(deviceID, &id); err != nil {
		return models.MasterInstance{}, false, err
	}
	return m, true, nil
}

// Reassign re-runs selection for one device, whatever it was pointed at.
func (s *Service) Reassign(deviceID string) (models.MasterInstance, bool, error) {
	return s.AssignController(deviceID)
}

// ReassignFrom moves every device off one master (it was disabled or
// deleted). Returns how many found a new controller.
func (s *Service) ReassignFrom(masterID uint) (int, error) {
	ids, err := s.dir.DevicesByMaster(masterID)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, deviceID := range ids {
		if _, ok, err := s.AssignController(deviceID); err == nil && ok {
			moved++
		}
	}
	return moved, nil
}

// ─────────────────────────── CRUD ───────────────────────────

type CreateInput struct {
	Name        string
	Endpoint    string
	Priority    *int
	Enabled     bool
	Description string
}

func (s *Service) Create(in CreateInput) (models.MasterInstance, error) {
	if existing, err := s.store.FindByName(in.Name); err != nil {
		return models.MasterInstance{}, err
	} else if existing != nil {
		return models.MasterInstance{}, ErrNameTaken
	}
	m := models.MasterInstance{
		Name:        in.Name,
		Endpoint:    in.Endpoint,
		Priority:    100,
		Enabled:     in.Enabled,
		Description: in.Description,
	}
	if in.Priority != nil {
		m.Priority = *in.Priority
	}
	if err := s.store.Create(&m); err != nil {
		return models.MasterInstance{}, err
	}
	return m, nil
}

func (s *Service) Get(id uint) (models.MasterInstance, error) {
	m, err := s.store.FindByID(id)
	if err != nil {
		return models.MasterInstance{}, err
	}
	if m == nil {
		return models.MasterInstance{}, ErrNotFound
	}
	return *m, nil
}

func (s *Service) List() ([]models.MasterInstance, error) {
	return s.store.List()
}

type UpdateInput struct {
	Name        *string
	Endpoint    *string
	Priority    *int
	Enabled     *bool
	Description *string
}

// Update patches an instance. Disabling it evicts its devices to the
// next-best controller.
func (s *Service) Update(id uint, in UpdateInput) (models.MasterInstance, error) {
	m, err := s.store.FindByID(id)
	if err != nil {
		return models.MasterInstance{}, err
	}
	if m == nil {
		return models.MasterInstance{}, ErrNotFound
	}

	wasEnabled := m.Enabled
	if in.Name != nil && *in.Name != m.Name {
		if other, err := s.store.FindByName(*in.Name); err != nil {
			return models.MasterInstance{}, err
		} else if other != nil && other.ID != id {
			return models.MasterInstance{}, ErrNameTaken
		}
		m.Name = *in.Name
	}
	if in.Endpoint != nil {
		m.Endpoint = *in.Endpoint
	}
	if in.Priority != nil {
		m.Priority = *in.Priority
	}
	if in.Enabled != nil {
		m.Enabled = *in.Enabled
	}
	if in.Description != nil {
		m.Description = *in.Description
	}
	if err := s.store.Save(m); err != nil {
		return models.MasterInstance{}, err
	}

	if wasEnabled && !m.Enabled {
		if _, err := s.ReassignFrom(id); err != nil {
			return *m, err
		}
	}
	return *m, nil
}

// Delete removes an instance and re-homes its devices.
func (s *Service) Delete(id uint) error {
	m, err := s.store.FindByID(id)
	if err != nil {
		return err
	}
	if m == nil {
		return nil // idempotent
	}
	if err := s.store.Delete(id); err != nil {
		return err
	}
	_, err = s.ReassignFrom(id)
	return err
}

// DeviceCount — devices currently pointed at one instance.
func (s *Service) DeviceCount(masterID uint) (int, error) {
	ids, err := s.dir.DevicesByMaster(masterID)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	byID   map[uint]models.MasterInstance
	nextID uint
	mu     sync.RWMutex
}

func NewMemStore() *memStore {
	return &memStore{byID: make(map[uint]models.MasterInstance)}
}

func (m *memStore) Create(mi *models.MasterInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	mi.ID = m.nextID
	mi.CreatedAt = time.Now()
	mi.UpdatedAt = mi.CreatedAt
	m.byID[mi.ID] = *mi
	return nil
}

func (m *memStore) FindByID(id uint) (*models.MasterInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mi, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := mi
	return &cp, nil
}

func (m *memStore) FindByName(name string) (*models.MasterInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mi := range m.byID {
		if mi.Name == name {
			cp := mi
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) List() ([]models.MasterInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.MasterInstance, 0, len(m.byID))
	for _, mi := range m.byID {
		out = append(out, mi)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) Save(mi *models.MasterInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi.UpdatedAt = time.Now()
	m.byID[mi.ID] = *mi
	return nil
}

func (m *memStore) Delete(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}
