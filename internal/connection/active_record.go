package connection

import (
	"sync"

	"github.com/sensorfabric/sensord/internal/sensor"
)

// ActiveRecord is the Active Sensor Record: it exists iff at least one
// connection is subscribed to its handle, and tracks the FIFO of
// connections awaiting a flush-complete response.
type ActiveRecord struct {
	Handle sensor.Handle

	mu           sync.Mutex
	owners       map[*EventConnection]struct{}
	pendingFlush []*EventConnection
	minLatencyNs int64
}

func newActiveRecord(handle sensor.Handle) *ActiveRecord {
	return &ActiveRecord{
		Handle:       handle,
		owners:       make(map[*EventConnection]struct{}),
		minLatencyNs: -1,
	}
}

func (r *ActiveRecord) addOwner(c *EventConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[c] = struct{}{}
}

// removeOwner drops c from the record and reports whether the record is
// now empty (and should therefore be destroyed by the caller).
func (r *ActiveRecord) removeOwner(c *EventConnection) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, c)
	for i, pending := range r.pendingFlush {
		if pending == c {
			r.pendingFlush = append(r.pendingFlush[:i], r.pendingFlush[i+1:]...)
		}
	}
	return len(r.owners) == 0
}

func (r *ActiveRecord) hasOwner(c *EventConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owners[c]
	return ok
}

func (r *ActiveRecord) ownerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

func (r *ActiveRecord) pushPendingFlush(c *EventConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingFlush = append(r.pendingFlush, c)
}

// popPendingFlush removes and returns the head of the flush FIFO, the
// destination for the next META_DATA event on this handle.
func (r *ActiveRecord) popPendingFlush() (*EventConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pendingFlush) == 0 {
		return nil, false
	}
	c := r.pendingFlush[0]
	r.pendingFlush = r.pendingFlush[1:]
	return c, true
}

// PopPendingFlush is popPendingFlush exported for the dispatch loop,
// which lives in a different package but needs to route META_DATA events
// to their recorded destination.
func (r *ActiveRecord) PopPendingFlush() (*EventConnection, bool) { return r.popPendingFlush() }

// RemoveOwnerPublic is removeOwner exported for the dispatch loop's
// one-shot auto-disable path.
func (r *ActiveRecord) RemoveOwnerPublic(c *EventConnection) bool { return r.removeOwner(c) }

// ActiveSet owns every currently-live ActiveRecord, keyed by handle.
type ActiveSet struct {
	mu      sync.Mutex
	records map[sensor.Handle]*ActiveRecord
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{records: make(map[sensor.Handle]*ActiveRecord)}
}

// GetOrCreate returns the record for handle, creating it if absent.
// created is true when a new record was just allocated.
func (a *ActiveSet) GetOrCreate(handle sensor.Handle) (record *ActiveRecord, created bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.records[handle]; ok {
		return r, false
	}
	r := newActiveRecord(handle)
	a.records[handle] = r
	return r, true
}

func (a *ActiveSet) Get(handle sensor.Handle) (*ActiveRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[handle]
	return r, ok
}

// Remove deletes the record for handle, used once its owner set is empty.
func (a *ActiveSet) Remove(handle sensor.Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, handle)
}

func (a *ActiveSet) Exists(handle sensor.Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.records[handle]
	return ok
}

// Handles returns every handle currently tracked, for the diagnostic dump.
func (a *ActiveSet) Handles() []sensor.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]sensor.Handle, 0, len(a.records))
	for h := range a.records {
		out = append(out, h)
	}
	return out
}

func (a *ActiveSet) ConnectionCount(handle sensor.Handle) int {
	a.mu.Lock()
	r, ok := a.records[handle]
	a.mu.Unlock()
	if !ok {
		return 0
	}
	return r.ownerCount()
}
