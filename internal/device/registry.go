package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// seenWriteInterval limits how often a repeatedly seen online device has
// its last_seen column rewritten.
const seenWriteInterval = 30 * time.Second

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry fronts a Repository with an in-memory cache.
//
// The cache is loaded by RefreshCache at startup and kept in sync by the
// registry's own writes. Devices handed out are copies, so callers may
// modify them freely. All methods are safe for concurrent use.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	fresh := make(map[string]*Device, len(devices))
	for i := range devices {
		fresh[devices[i].ID] = devices[i].Clone()
	}

	r.cacheMu.Lock()
	r.cache = fresh
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice returns a device by ID, or ErrDeviceNotFound.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(d)
	return d, nil
}

// ListDevices returns every cached device ordered by name then ID.
func (r *Registry) ListDevices(_ context.Context) []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.Clone())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// DeviceCount returns the number of cached devices.
func (r *Registry) DeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// CreateDevice validates and stores a new device, generating an ID and
// defaulting the state to offline when they are empty.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.State == "" {
		d.State = StateOffline
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}
	r.store(d)

	r.logger.Info("device created", "id", d.ID, "name", d.Name)
	return nil
}

// MarkSeen records traffic from device id. Unknown devices are registered
// as online under moduleID; known ones are switched to online. Repeat
// sightings of an online device only touch storage every seenWriteInterval.
func (r *Registry) MarkSeen(ctx context.Context, id, moduleID string) error {
	now := r.now()

	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	var fresh bool
	if ok {
		fresh = cached.State == StateOnline && cached.LastSeen != nil &&
			now.Sub(*cached.LastSeen) < seenWriteInterval
	}
	r.cacheMu.RUnlock()

	if fresh {
		return nil
	}

	if !ok {
		d := &Device{
			ID:       id,
			Name:     id,
			State:    StateOnline,
			ModuleID: moduleID,
			LastSeen: &now,
		}
		if err := d.Validate(); err != nil {
			return err
		}
		err := r.repo.Create(ctx, d)
		if err == nil {
			r.store(d)
			r.logger.Info("device discovered", "id", id, "module_id", moduleID)
			return nil
		}
		if !errors.Is(err, ErrDeviceExists) {
			return err
		}
		// Stored but not cached yet: fall through to a state update.
	}

	return r.setState(ctx, id, StateOnline, now)
}

// SetState changes the state of an existing device.
func (r *Registry) SetState(ctx context.Context, id string, state State) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	return r.setState(ctx, id, state, r.now())
}

func (r *Registry) setState(ctx context.Context, id string, state State, seen time.Time) error {
	if err := r.repo.UpdateState(ctx, id, state, seen); err != nil {
		return err
	}

	r.cacheMu.Lock()
	cached, ok := r.cache[id]
	var previous State
	if ok {
		previous = cached.State
		updated := cached.Clone()
		updated.State = state
		updated.LastSeen = &seen
		updated.UpdatedAt = seen
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	if !ok {
		// Not cached: load the stored copy so the cache matches storage.
		d, err := r.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		r.store(d)
	}

	if previous != state {
		r.logger.Info("device state changed", "id", id, "state", state)
	} else {
		r.logger.Debug("device seen", "id", id)
	}
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

func (r *Registry) store(d *Device) {
	r.cacheMu.Lock()
	r.cache[d.ID] = d.Clone()
	r.cacheMu.Unlock()
}
