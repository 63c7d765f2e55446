// Package registry implements the sensor catalog: a dynamic set of
// physical, runtime, dynamic, and virtual sensors addressed by stable
// handles.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/recent"
	"github.com/sensorfabric/sensord/internal/sensor"
	"github.com/sensorfabric/sensord/internal/status"
)

// Entry is the registry's record for one sensor: the static descriptor
// plus the bookkeeping bits the registry itself owns.
type Entry struct {
	Sensor  sensor.Sensor
	Debug   bool
	Virtual bool
}

// Registry owns every sensor descriptor known to the service. It does not
// own Active Sensor Records (internal/connection does); it only tracks
// identity and capability.
type Registry struct {
	mu      sync.RWMutex
	byHandle map[sensor.Handle]*Entry
	order    []sensor.Handle // insertion order, for stable iteration/dump

	nextRuntime sensor.Handle
	recent      *recent.Log
	log         zerolog.Logger
}

// New builds an empty registry. recentLog may be nil if the caller does
// not need remove() to clear cached last-values (tests commonly pass nil).
func New(recentLog *recent.Log, log zerolog.Logger) *Registry {
	return &Registry{
		byHandle:    make(map[sensor.Handle]*Entry),
		nextRuntime: sensor.RuntimeHandleBase,
		recent:      recentLog,
		log:         log.With().Str("component", "registry").Logger(),
	}
}

// Add inserts a sensor descriptor. It fails if the handle already exists
// or, for runtime sensors with handle == InvalidHandle, if the runtime
// range is exhausted.
func (r *Registry) Add(s sensor.Sensor, debug, virtual bool) (sensor.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Handle == sensor.InvalidHandle {
		if r.nextRuntime >= sensor.RuntimeHandleEnd {
			r.log.Error().Msg("runtime sensor handle range exhausted")
			return sensor.InvalidHandle, false
		}
		s.Handle = r.nextRuntime
		r.nextRuntime++
	}

	if _, exists := r.byHandle[s.Handle]; exists {
		r.log.Error().Int32("handle", int32(s.Handle)).Msg("handle collision on add")
		return sensor.InvalidHandle, false
	}

	r.byHandle[s.Handle] = &Entry{Sensor: s, Debug: debug, Virtual: virtual}
	r.order = append(r.order, s.Handle)
	return s.Handle, true
}

// Remove deletes the sensor identified by handle and clears any cached
// recent-event entry for it. Returns false if the handle was not present.
func (r *Registry) Remove(handle sensor.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byHandle[handle]; !ok {
		return false
	}
	delete(r.byHandle, handle)
	for i, h := range r.order {
		if h == handle {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.recent != nil {
		r.recent.Remove(handle)
	}
	return true
}

// Lookup returns a copy of the entry for handle, if present.
func (r *Registry) Lookup(handle sensor.Handle) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byHandle[handle]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// LookupOrErr is Lookup wrapped as a status.Error for request handlers.
func (r *Registry) LookupOrErr(handle sensor.Handle) (Entry, error) {
	e, ok := r.Lookup(handle)
	if !ok {
		return Entry{}, status.New(status.BadValue, fmt.Sprintf("unknown sensor handle %d", handle))
	}
	return e, nil
}

// ForEach calls fn for every registered sensor in stable insertion order.
// fn must not call back into the registry; ForEach holds the read lock for
// its whole iteration to present a consistent snapshot.
func (r *Registry) ForEach(fn func(Entry)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.order {
		fn(*r.byHandle[h])
	}
}

// IsNewHandle reports whether handle is not currently registered.
func (r *Registry) IsNewHandle(handle sensor.Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.byHandle[handle]
	return !exists
}

// UserSensors returns every non-debug sensor, sorted by handle, the set
// exposed to ordinary (non-privileged) callers.
func (r *Registry) UserSensors() []sensor.Sensor {
	return r.filter(func(e Entry) bool { return !e.Debug })
}

// UserDebugSensors returns every sensor including debug-only ones,
// exposed to privileged callers (shell/dump).
func (r *Registry) UserDebugSensors() []sensor.Sensor {
	return r.filter(func(Entry) bool { return true })
}

// DynamicSensors returns sensors carrying the dynamic flag.
func (r *Registry) DynamicSensors() []sensor.Sensor {
	return r.filter(func(e Entry) bool { return e.Sensor.IsDynamic() })
}

// DeviceSensors returns sensors belonging to the given device ID.
func (r *Registry) DeviceSensors(deviceID sensor.DeviceID) []sensor.Sensor {
	return r.filter(func(e Entry) bool { return e.Sensor.DeviceID == deviceID })
}

func (r *Registry) filter(pred func(Entry) bool) []sensor.Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]sensor.Sensor, 0, len(r.order))
	for _, h := range r.order {
		e := r.byHandle[h]
		if pred(*e) {
			out = append(out, e.Sensor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Count returns the number of registered sensors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// VirtualCount returns the number of registered virtual (synthesized)
// sensors.
func (r *Registry) VirtualCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.byHandle {
		if e.Virtual {
			n++
		}
	}
	return n
}
