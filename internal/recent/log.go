// Package recent implements the per-handle last-value cache used for
// on-change replay and the privileged diagnostic dump.
package recent

import (
	"sync"

	"github.com/sensorfabric/sensord/internal/sensor"
)

// entry holds the last recorded event for a handle plus whether it is
// still valid for replay.
type entry struct {
	event sensor.Event
	stale bool
	valid bool
}

// Log is safe for concurrent use by the dispatch loop (writer) and request
// handling goroutines (readers, via Get).
type Log struct {
	mu      sync.RWMutex
	entries map[sensor.Handle]*entry
}

func New() *Log {
	return &Log{entries: make(map[sensor.Handle]*entry)}
}

// Record stores evt as the most recent sample for its sensor, clearing the
// stale flag. Meta events (META_DATA, DYNAMIC_SENSOR_META, ADDITIONAL_INFO)
// must never be passed here; the dispatch loop filters them out before
// calling Record.
func (l *Log) Record(evt sensor.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[evt.SensorHandle]
	if !ok {
		e = &entry{}
		l.entries[evt.SensorHandle] = e
	}
	e.event = evt
	e.stale = false
	e.valid = true
}

// MarkStale invalidates the cached value for handle, e.g. when its Active
// Sensor Record is destroyed.
func (l *Log) MarkStale(handle sensor.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[handle]; ok {
		e.stale = true
	}
}

// Get returns the last recorded event for handle and whether it is
// present and non-stale (i.e. eligible for on-change replay).
func (l *Log) Get(handle sensor.Handle) (sensor.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[handle]
	if !ok || !e.valid || e.stale {
		return sensor.Event{}, false
	}
	return e.event, true
}

// Raw returns the last recorded event regardless of staleness, along with
// whether one exists at all. Used by the privileged diagnostic dump, which
// shows stale entries too.
func (l *Log) Raw(handle sensor.Handle) (evt sensor.Event, stale bool, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, present := l.entries[handle]
	if !present || !e.valid {
		return sensor.Event{}, false, false
	}
	return e.event, e.stale, true
}

// Remove deletes the cached entry for handle entirely, called when a
// sensor is removed from the registry.
func (l *Log) Remove(handle sensor.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, handle)
}

// Snapshot returns a copy of every handle currently tracked, for dump
// purposes.
func (l *Log) Snapshot() map[sensor.Handle]sensor.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[sensor.Handle]sensor.Event, len(l.entries))
	for h, e := range l.entries {
		if e.valid {
			out[h] = e.event
		}
	}
	return out
}
