package configsvc

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"roost/internal/models"
)

var (
	ErrInvalidScope   = errors.New("scope must be device|type|fallback")
	ErrInvalidTarget  = errors.New("target required for device and type scopes")
	ErrInvalidPayload = errors.New("payload is not valid JSON")
	ErrNotFound       = errors.New("no configuration for that scope/target")
)

// Store — контракт хранилища шаблонов конфигурации.
type Store interface {
	// Activate upserts the single (scope, target) row. Replacing an
	// existing row bumps Version; there is no history table.
	Activate(scope, target, name, payload, contentHash string) (models.ConfigTemplate, error)
	FindActive(scope, target string) (*models.ConfigTemplate, error)
	// List returns templates ordered by scope, target.
	List() ([]models.ConfigTemplate, error)
	Delete(scope, target string) error
}

// Service owns configuration activation and resolution.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	if store == nil {
		store = NewMemStore()
	}
	return &Service{store: store}
}

func validScope(scope string) bool {
	switch scope {
	case models.ScopeDevice, models.ScopeType, models.ScopeFallback:
		return true
	}
	return false
}

// Activate canonicalizes the payload, hashes it, and installs it as the
// active configuration for (scope, target), superseding whatever was
// there. The hash is computed exactly once, here; readers only ever see
// payload and hash from the same row.
func (s *Service) Activate(scope, target, name string, payload json.RawMessage) (models.ConfigTemplate, error) {
	if !validScope(scope) {
		return models.ConfigTemplate{}, ErrInvalidScope
	}
	if scope == models.ScopeFallback {
		target = ""
	} else if target == "" {
		return models.ConfigTemplate{}, ErrInvalidTarget
	}

	canonical, hash, err := Canonicalize(payload)
	if err != nil {
		return models.ConfigTemplate{}, ErrInvalidPayload
	}
	return s.store.Activate(scope, target, name, canonical, hash)
}

func (s *Service) Get(scope, target string) (models.ConfigTemplate, error) {
	if !validScope(scope) {
		return models.ConfigTemplate{}, ErrInvalidScope
	}
	if scope == models.ScopeFallback {
		target = ""
	}
	t, err := s.store.FindActive(scope, target)
	if err != nil {
		return models.ConfigTemplate{}, err
	}
	if t == nil {
		return models.ConfigTemplate{}, ErrNotFound
	}
	return *t, nil
}

func (s *Service) List() ([]models.ConfigTemplate, error) {
	return s.store.List()
}

// Delete removes the (scope, target) row. Removing an absent row is a
// no-op.
func (s *Service) Delete(scope, target string) error {
	if !validScope(scope) {
		return ErrInvalidScope
	}
	if scope == models.ScopeFallback {
		target = ""
	}
	return s.store.Delete(scope, target)
}

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	byKey  map[string]models.ConfigTemplate
	nextID uint
	mu     sync.RWMutex
}

func NewMemStore() *memStore {
	return &memStore{byKey: make(map[string]models.ConfigTemplate)}
}

func storeKey(scope, target string) string { return scope + "\x00" + target }

func (m *memStore) Activate(scope, target, name, payload, contentHash string) (models.ConfigTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storeKey(scope, target)
	now := time.Now()
	if ex, ok := m.byKey[key]; ok {
		ex.Name = name
		ex.Payload = payload
		ex.ContentHash = contentHash
		ex.Version++
		ex.UpdatedAt = now
		m.byKey[key] = ex
		return ex, nil
	}

	m.nextID++
	t := models.ConfigTemplate{
		Scope:       scope,
		Target:      target,
		Name:        name,
		Payload:     payload,
		ContentHash: contentHash,
		Version:     1,
	}
	t.ID = m.nextID
	t.CreatedAt = now
	t.UpdatedAt = now
	m.byKey[key] = t
	return t, nil
}

func (m *memStore) FindActive(scope, target string) (*models.ConfigTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byKey[storeKey(scope, target)]
	if !ok {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func (m *memStore) List() ([]models.ConfigTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ConfigTemplate, 0, len(m.byKey))
	for _, t := range m.byKey {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Target < out[j].Target
	})
	return out, nil
}

func (m *memStore) Delete(scope, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byKey, storeKey(scope, target))
	return nil
}
