package scripts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"roost/internal/models"
)

var (
	// ErrInvalidScript — empty code. Shipping an empty script would brick
	// the device's behavior loop, so it is refused at publish time.
	ErrInvalidScript     = errors.New("script code must not be empty")
	ErrInvalidScope      = errors.New("scope must be device|type")
	ErrInvalidTarget     = errors.New("target required")
	ErrUnknownScriptType = errors.New("script type must be arduino|micropython")
	ErrNotFound          = errors.New("script not found")
	ErrNameTaken         = errors.New("library script name already taken")
)

// script types devices can execute
var scriptTypes = map[string]struct{}{
	"arduino":     {},
	"micropython": {},
}

// Filter narrows List.
type Filter struct {
	Scope      string
	Target     string
	ActiveOnly bool
}

// Store — контракт хранилища скриптов.
type Store interface {
	// ActivateVersion deactivates the prior active row for the same
	// (scope, target) and inserts v as active, atomically. Old versions
	// stay around for audit.
	ActivateVersion(v *models.ScriptVersion) error
	FindActive(scope, target string) (*models.ScriptVersion, error)
	// List returns versions ordered by scope, target, id desc.
	List(f Filter) ([]models.ScriptVersion, error)

	CreateLibrary(l *models.LibraryScript) error
	FindLibraryByID(id uint) (*models.LibraryScript, error)
	FindLibraryByName(name string) (*models.LibraryScript, error)
	ListLibrary() ([]models.LibraryScript, error)
	SaveLibrary(l *models.LibraryScript) error
	DeleteLibrary(id uint) error
}

// Service owns script publication and update detection.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	if store == nil {
		store = NewMemStore()
	}
	return &Service{store: store}
}

// Checksum — sha256 hex over the code, stored with every version so a
// device can verify what it downloaded.
func Checksum(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

type PublishInput struct {
	Scope      string
	Target     string
	Version    string // default "1.0.0"
	ScriptType string // default "arduino"
	Code       string
}

// Publish installs a new active script for (scope, target), superseding
// the previous active version.
func (s *Service) Publish(in PublishInput) (models.ScriptVersion, error) {
	if strings.TrimSpace(in.Code) == "" {
		return models.ScriptVersion{}, ErrInvalidScript
	}
	if in.Scope != models.ScriptScopeDevice && in.Scope != models.ScriptScopeType {
		return models.ScriptVersion{}, ErrInvalidScope
	}
	if in.Target == "" {
		return models.ScriptVersion{}, ErrInvalidTarget
	}
	if in.Version == "" {
		in.Version = "1.0.0"
	}
	if in.ScriptType == "" {
		in.ScriptType = "arduino"
	}
	if _, ok := scriptTypes[in.ScriptType]; !ok {
		return models.ScriptVersion{}, ErrUnknownScriptType
	}

	v := models.ScriptVersion{
		Scope:      in.Scope,
		Target:     in.Target,
		Version:    in.Version,
		ScriptType: in.ScriptType,
		Code:       in.Code,
		Checksum:   Checksum(in.Code),
		Active:     true,
	}
	if err := s.store.ActivateVersion(&v); err != nil {
		return models.ScriptVersion{}, err
	}
	return v, nil
}

// CheckForUpdate resolves the active script for a device (device scope
// first, then type scope) and decides whether the device needs it.
// ok=false — nothing published, or the device already runs it, or the
// device somehow runs something newer (semver permitting).
func (s *Service) CheckForUpdate(deviceID, deviceType, reportedVersion string) (models.ScriptVersion, bool, error) {
	var active *models.ScriptVersion
	var err error

	if deviceID != "" {
		active, err = s.store.FindActive(models.ScriptScopeDevice, deviceID)
		if err != nil {
			return models.ScriptVersion{}, false, err
		}
	}
	if active == nil && deviceType != "" {
		active, err = s.store.FindActive(models.ScriptScopeType, deviceType)
		if err != nil {
			return models.ScriptVersion{}, false, err
		}
	}
	if active == nil {
		return models.ScriptVersion{}, false, nil
	}
	if !needsUpdate(active.Version, reportedVersion) {
		return models.ScriptVersion{}, false, nil
	}
	return *active, true, nil
}

// needsUpdate: equal strings never update; when both sides parse as
// semver the device updates only to something strictly newer; opaque
// version strings update on any difference.
func needsUpdate(activeVersion, reportedVersion string) bool {
	if reportedVersion == "" {
		return true
	}
	if reportedVersion == activeVersion {
		return false
	}
	av, errA := semver.NewVersion(activeVersion)
	rv, errR := semver.NewVersion(reportedVersion)
	if errA == nil && errR == nil {
		return av.GreaterThan(rv)
	}
	return true
}

func (s *Service) List(f Filter) ([]models.ScriptVersion, error) {
	return s.store.List(f)
}

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	versions []models.ScriptVersion
	library  map[uint]models.LibraryScript
	nextID   uint
	mu       sync.RWMutex
}

func NewMemStore() *memStore {
	return &memStore{library: make(map[uint]models.LibraryScript)}
}

func (m *memStore) ActivateVersion(v *models.ScriptVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.versions {
		if m.versions[i].Scope == v.Scope && m.versions[i].Target == v.Target {
			m.versions[i].Active = false
		}
	}
	m.nextID++
	v.ID = m.nextID
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	v.Active = true
	m.versions = append(m.versions, *v)
	return nil
}

func (m *memStore) FindActive(scope, target string) (*models.ScriptVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.versions) - 1; i >= 0; i-- {
		v := m.versions[i]
		if v.Scope == scope && v.Target == target && v.Active {
			cp := v
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) List(f Filter) ([]models.ScriptVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ScriptVersion, 0, len(m.versions))
	for _, v := range m.versions {
		if f.Scope != "" && v.Scope != f.Scope {
			continue
		}
		if f.Target != "" && v.Target != f.Target {
			continue
		}
		if f.ActiveOnly && !v.Active {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memStore) CreateLibrary(l *models.LibraryScript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l.ID = m.nextID
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt
	m.library[l.ID] = *l
	return nil
}

func (m *memStore) FindLibraryByID(id uint) (*models.LibraryScript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.library[id]
	if !ok {
		return nil, nil
	}
	cp := l
	return &cp, nil
}

func (m *memStore) FindLibraryByName(name string) (*models.LibraryScript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.library {
		if l.Name == name {
			cp := l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListLibrary() ([]models.LibraryScript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.LibraryScript, 0, len(m.library))
	for _, l := range m.library {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) SaveLibrary(l *models.LibraryScript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.UpdatedAt = time.Now()
	m.library[l.ID] = *l
	return nil
}

func (m *memStore) DeleteLibrary(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.library, id)
	return nil
}
