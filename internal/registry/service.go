package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
	"unicode"

	cmap "github.com/orcaman/concurrent-map/v2"

	"roost/internal/models"
	"roost/internal/registry/metaschema"
)

var (
	// ErrInvalidIdentity — empty or malformed device_id. Registration is
	// the one operation that must not invent an identity for the caller.
	ErrInvalidIdentity = errors.New("invalid device identity")
	// ErrNotFound — the device_id is well-formed but not registered.
	ErrNotFound = errors.New("device not found")
)

const maxDeviceIDLen = 128

// Options — liveness knobs. Zero values fall back to the documented
// defaults.
type Options struct {
	OfflineThreshold  time.Duration
	RegistrationGrace time.Duration
	DefaultCheckIn    int // seconds
	LogRetention      int // rows per device
}

// Service owns device identity and liveness. All state transitions are
// serialized per device_id; there is no global write lock.
type Service struct {
	store Store
	locks cmap.ConcurrentMap[string, *sync.Mutex]
	nowFn func() time.Time

	offlineAfter   time.Duration
	grace          time.Duration
	defaultCheckIn int
	logKeep        int
}

func NewService(store Store, opt Options) *Service {
	if store == nil {
		store = NewMemStore()
	}
	if opt.OfflineThreshold <= 0 {
		opt.OfflineThreshold = 300 * time.Second
	}
	if opt.RegistrationGrace <= 0 {
		opt.RegistrationGrace = 15 * time.Minute
	}
	if opt.DefaultCheckIn <= 0 {
		opt.DefaultCheckIn = 60
	}
	if opt.LogRetention <= 0 {
		opt.LogRetention = 500
	}
	return &Service{
		store:          store,
		locks:          cmap.New[*sync.Mutex](),
		nowFn:          time.Now,
		offlineAfter:   opt.OfflineThreshold,
		grace:          opt.RegistrationGrace,
		defaultCheckIn: opt.DefaultCheckIn,
		logKeep:        opt.LogRetention,
	}
}

// lockDevice serializes one device's read-modify-write. The mutex table
// grows with the fleet and is never pruned; entries are tiny.
func (s *Service) lockDevice(deviceID string) func() {
	mu := &sync.Mutex{}
	if !s.locks.SetIfAbsent(deviceID, mu) {
		mu, _ = s.locks.Get(deviceID)
	}
	mu.Lock()
	return mu.Unlock
}

func validDeviceID(id string) bool {
	if id == "" || len(id) > maxDeviceIDLen {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ─────────────────────────── registration ───────────────────────────

type RegisterInput struct {
	DeviceID        string
	Name            string
	DeviceType      string
	Capabilities    []string
	Metadata        map[string]any
	CheckInInterval int // seconds; 0 = keep existing / default
}

// Register upserts by device_id. Re-registration refreshes descriptive
// fields and merges metadata; it never resets status or last_seen_at, so
// a rebooting device does not lose its liveness history.
func (s *Service) Register(in RegisterInput) (models.Device, bool, error) {
	if !validDeviceID(in.DeviceID) {
		return models.Device{}, false, ErrInvalidIdentity
	}

	unlock := s.lockDevice(in.DeviceID)
	defer unlock()

	existing, err := s.store.FindByDeviceID(in.DeviceID)
	if err != nil {
		return models.Device{}, false, err
	}

	meta := metaschema.Normalize(in.Metadata)

	if existing != nil {
		if in.Name != "" {
			existing.Name = in.Name
		}
		if in.DeviceType != "" {
			existing.DeviceType = in.DeviceType
		}
		if len(in.Capabilities) > 0 {
			existing.Capabilities = mustJSON(in.Capabilities)
		}
		if len(meta) > 0 {
			existing.Metadata = mergeMetadata(existing.Metadata, meta)
		}
		if in.CheckInInterval > 0 {
			existing.CheckInInterval = in.CheckInInterval
		}
		if err := s.store.Save(existing); err != nil {
			return models.Device{}, false, err
		}
		return *existing, false, nil
	}

	d := models.Device{
		DeviceID:        in.DeviceID,
		Name:            in.Name,
		DeviceType:      in.DeviceType,
		Status:          models.StatusPending,
		CheckInInterval: s.defaultCheckIn,
	}
	if len(in.Capabilities) > 0 {
		d.Capabilities = mustJSON(in.Capabilities)
	}
	if len(meta) > 0 {
		d.Metadata = mustJSON(meta)
	}
	if in.CheckInInterval > 0 {
		d.CheckInInterval = in.CheckInInterval
	}
	if err := s.store.Save(&d); err != nil {
		return models.Device{}, false, err
	}
	return d, true, nil
}

func (s *Service) Get(deviceID string) (models.Device, error) {
	if !validDeviceID(deviceID) {
		return models.Device{}, ErrInvalidIdentity
	}
	d, err := s.store.FindByDeviceID(deviceID)
	if err != nil {
		return models.Device{}, err
	}
	if d == nil {
		return models.Device{}, ErrNotFound
	}
	return *d, nil
}

// Exists reports whether the device is registered. Malformed ids simply
// do not exist.
func (s *Service) Exists(deviceID string) (bool, error) {
	if !validDeviceID(deviceID) {
		return false, nil
	}
	d, err := s.store.FindByDeviceID(deviceID)
	if err != nil {
		return false, err
	}
	return d != nil, nil
}

func (s *Service) List(f Filter) ([]models.Device, error) {
	return s.store.List(f)
}

// Deregister removes the device. Removing an absent device is a no-op,
// so retries are safe.
func (s *Service) Deregister(deviceID string) error {
	if !validDeviceID(deviceID) {
		return ErrInvalidIdentity
	}
	unlock := s.lockDevice(deviceID)
	defer unlock()
	return s.store.Delete(deviceID)
}

// ─────────────────────────── operator updates ───────────────────────────

// Patch — operator-editable fields. Status and last_seen_at are derived
// and stay out of reach.
type Patch struct {
	Name             *string
	CheckInInterval  *int
	AssignedMasterID *uint // 0 clears the assignment
}

func (s *Service) Update(deviceID string, p Patch) (models.Device, error) {
	if !validDeviceID(deviceID) {
		return models.Device{}, ErrInvalidIdentity
	}
	unlock := s.lockDevice(deviceID)
	defer unlock()

	d, err := s.store.FindByDeviceID(deviceID)
	if err != nil {
		return models.Device{}, err
	}
	if d == nil {
		return models.Device{}, ErrNotFound
	}

	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.CheckInInterval != nil && *p.CheckInInterval > 0 {
		d.CheckInInterval = *p.CheckInInterval
	}
	if p.AssignedMasterID != nil {
		if *p.AssignedMasterID == 0 {
			d.AssignedMasterID = nil
		} else {
			id := *p.AssignedMasterID
			d.AssignedMasterID = &id
		}
	}
	if err := s.store.Save(d); err != nil {
		return models.Device{}, err
	}
	return *d, nil
}

// SetAssignedMaster persists a controller assignment (nil clears). Used
// by the master-selection service; same per-device serialization as every
// other write.
func (s *Service) SetAssignedMaster(deviceID string, masterID *uint) error {
	unlock := s.lockDevice(deviceID)
	defer unlock()

	d, err := s.store.FindByDeviceID(deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}
	d.AssignedMasterID = masterID
	return s.store.Save(d)
}

// DevicesByMaster lists device ids currently pointed at one controller.
func (s *Service) DevicesByMaster(masterID uint) ([]string, error) {
	devs, err := s.store.List(Filter{MasterID: &masterID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(devs))
	for _, d := range devs {
		ids = append(ids, d.DeviceID)
	}
	return ids, nil
}

// RecordConfigDelivery remembers which configuration hash a device last
// fetched, so operators can spot devices running stale config.
func (s *Service) RecordConfigDelivery(deviceID, contentHash string) error {
	unlock := s.lockDevice(deviceID)
	defer unlock()

	d, err := s.store.FindByDeviceID(deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}
	now := s.nowFn()
	d.LastConfigHash = contentHash
	d.LastConfigAt = &now
	return s.store.Save(d)
}

// RecordScriptVersion remembers the script version a device reported or
// was just handed.
func (s *Service) RecordScriptVersion(deviceID, version string) error {
	if version == "" {
		return nil
	}
	unlock := s.lockDevice(deviceID)
	defer unlock()

	d, err := s.store.FindByDeviceID(deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}
	if d.CurrentScriptVersion == version {
		return nil
	}
	d.CurrentScriptVersion = version
	return s.store.Save(d)
}

// ─────────────────────────── summary ───────────────────────────

type Summary struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
	Pending int `json:"pending"`
}

func (s *Service) Summary() (Summary, error) {
	counts, err := s.store.CountByStatus()
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		Online:  counts[models.StatusOnline],
		Offline: counts[models.StatusOffline],
		Pending: counts[models.StatusPending],
	}
	for _, n := range counts {
		sum.Total += n
	}
	return sum, nil
}

// ─────────────────────────── helpers ───────────────────────────

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// mergeMetadata overlays add onto the stored JSON object, key by key.
// Unparseable stored text is discarded rather than poisoning the merge.
func mergeMetadata(stored string, add map[string]any) string {
	merged := map[string]any{}
	if stored != "" {
		_ = json.Unmarshal([]byte(stored), &merged)
	}
	for k, v := range add {
		merged[k] = v
	}
	return mustJSON(merged)
}
