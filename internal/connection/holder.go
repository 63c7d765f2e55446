package connection

import (
	"sync"

	"github.com/sensorfabric/sensord/internal/hal"
	"github.com/sensorfabric/sensord/internal/sensor"
)

// Holder owns every live connection, event and direct alike. Its
// defining property is the snapshot-under-lock primitive: callers take
// the holder's mutex only long enough to copy out a slice of pointers,
// then iterate and call into individual connections outside the lock,
// mirroring the register/unregister/broadcast discipline of a typical
// connection hub.
type Holder struct {
	mu     sync.Mutex
	events map[int64]*EventConnection
	direct map[int64]*DirectConnection
	hal    hal.HAL
}

func NewHolder(h hal.HAL) *Holder {
	return &Holder{
		events: make(map[int64]*EventConnection),
		direct: make(map[int64]*DirectConnection),
		hal:    h,
	}
}

func (h *Holder) AddEventConnection(c *EventConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[c.ID] = c
}

func (h *Holder) RemoveEventConnection(id int64) {
	h.mu.Lock()
	c, ok := h.events[id]
	delete(h.events, id)
	h.mu.Unlock()
	if ok {
		c.Destroy()
	}
}

func (h *Holder) AddDirectConnection(c *DirectConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.direct[c.ID] = c
}

func (h *Holder) RemoveDirectConnection(id int64) {
	h.mu.Lock()
	c, ok := h.direct[id]
	delete(h.direct, id)
	h.mu.Unlock()
	if ok {
		_ = c.Destroy()
	}
}

// SnapshotEvents returns every live event connection as of this call. The
// slice is a private copy; the dispatch loop iterates it lock-free.
func (h *Holder) SnapshotEvents() []*EventConnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*EventConnection, 0, len(h.events))
	for _, c := range h.events {
		out = append(out, c)
	}
	return out
}

func (h *Holder) SnapshotDirect() []*DirectConnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*DirectConnection, 0, len(h.direct))
	for _, c := range h.direct {
		out = append(out, c)
	}
	return out
}

func (h *Holder) EventConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// PauseDirectConnections implements policy.Effects: every direct channel
// backs up its current rates and zeroes them on the HAL.
func (h *Holder) PauseDirectConnections() {
	for _, c := range h.SnapshotDirect() {
		c.Pause()
	}
}

// ResumeDirectConnections implements policy.Effects: every direct channel
// restores the rates captured by the matching Pause.
func (h *Holder) ResumeDirectConnections() {
	for _, c := range h.SnapshotDirect() {
		c.Resume()
	}
}

// ApplyMicToggleCap applies the orthogonal mic-toggle clamp to every
// direct channel, independent of any pause backup in effect.
func (h *Holder) ApplyMicToggleCap(capLevel int32) {
	for _, c := range h.SnapshotDirect() {
		c.ApplyMicToggleCap(capLevel)
	}
}

func (h *Holder) ReleaseMicToggleCap() {
	for _, c := range h.SnapshotDirect() {
		c.ReleaseMicToggleCap()
	}
}

// DisableAllSensors implements policy.Effects by delegating straight to
// the HAL; it carries no per-connection state of its own.
func (h *Holder) DisableAllSensors() error { return h.hal.DisableAllSensors() }

// EnableAllSensors implements policy.Effects.
func (h *Holder) EnableAllSensors() error { return h.hal.EnableAllSensors() }

// SetHALMode implements policy.Effects.
func (h *Holder) SetHALMode(mode sensor.Mode) error { return h.hal.SetMode(mode) }
