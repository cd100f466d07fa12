package registry

import (
	"sort"
	"sync"
	"time"

	"roost/internal/models"
)

// Filter narrows List. Zero value = everything.
type Filter struct {
	Status     string
	DeviceType string
	MasterID   *uint
}

// Store — контракт хранилища реестра. gorm-реализация в internal/repo.
type Store interface {
	// FindByDeviceID returns (nil, nil) when the device is not registered.
	FindByDeviceID(deviceID string) (*models.Device, error)
	// Save creates when ID is zero, updates otherwise.
	Save(d *models.Device) error
	// Delete is idempotent.
	Delete(deviceID string) error
	// List returns devices ordered by device_id ascending.
	List(f Filter) ([]models.Device, error)
	CountByStatus() (map[string]int, error)

	// AppendLog stores one log line, then drops rows beyond keep for that
	// device (newest win).
	AppendLog(entry models.DeviceLog, keep int) error
	// Logs returns the newest lines first, at most limit.
	Logs(deviceID string, limit int) ([]models.DeviceLog, error)
}

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	byID   map[string]models.Device
	logs   map[string][]models.DeviceLog
	nextID uint
	mu     sync.RWMutex
}

func NewMemStore() *memStore {
	return &memStore{
		byID: make(map[string]models.Device),
		logs: make(map[string][]models.DeviceLog),
	}
}

func cloneDevice(d models.Device) models.Device {
	cp := d
	if d.LastSeenAt != nil {
		t := *d.LastSeenAt
		cp.LastSeenAt = &t
	}
	if d.AssignedMasterID != nil {
		id := *d.AssignedMasterID
		cp.AssignedMasterID = &id
	}
	if d.LastConfigAt != nil {
		t := *d.LastConfigAt
		cp.LastConfigAt = &t
	}
	return cp
}

func (m *memStore) FindByDeviceID(deviceID string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[deviceID]
	if !ok {
		return nil, nil
	}
	cp := cloneDevice(d)
	return &cp, nil
}

func (m *memStore) Save(d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if d.ID == 0 {
		m.nextID++
		d.ID = m.nextID
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	m.byID[d.DeviceID] = cloneDevice(*d)
	return nil
}

func (m *memStore) Delete(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, deviceID)
	delete(m.logs, deviceID)
	return nil
}

func (m *memStore) List(f Filter) ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Device, 0, len(m.byID))
	for _, d := range m.byID {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.DeviceType != "" && d.DeviceType != f.DeviceType {
			continue
		}
		if f.MasterID != nil {
			if d.AssignedMasterID == nil || *d.AssignedMasterID != *f.MasterID {
				continue
			}
		}
		out = append(out, cloneDevice(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (m *memStore) CountByStatus() (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int, 3)
	for _, d := range m.byID {
		counts[d.Status]++
	}
	return counts, nil
}

func (m *memStore) AppendLog(entry models.DeviceLog, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	lines := append(m.logs[entry.DeviceID], entry)
	if keep > 0 && len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	m.logs[entry.DeviceID] = lines
	return nil
}

func (m *memStore) Logs(deviceID string, limit int) ([]models.DeviceLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines := m.logs[deviceID]
	out := make([]models.DeviceLog, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, lines[i])
	}
	return out, nil
}
