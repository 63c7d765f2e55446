package connection

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/audit"
	"github.com/sensorfabric/sensord/internal/hal"
	"github.com/sensorfabric/sensord/internal/policy"
	"github.com/sensorfabric/sensord/internal/recent"
	"github.com/sensorfabric/sensord/internal/registry"
	"github.com/sensorfabric/sensord/internal/sensor"
	"github.com/sensorfabric/sensord/internal/status"
	"github.com/sensorfabric/sensord/internal/wakelock"
)

// Subscription is one connection's per-handle state: the rate it asked
// for and its outstanding flush-complete count.
type Subscription struct {
	PeriodNs          int64
	LatencyNs         int64
	WakeUpRequested   bool
	PendingFlushCount int
}

// Deps bundles every subsystem an EventConnection needs to reach, so a
// connection never stashes a pointer to the process-wide service struct.
type Deps struct {
	Registry *registry.Registry
	Active   *ActiveSet
	Recent   *recent.Log
	Policy   *policy.Policy
	HAL      hal.HAL
	Wake     wakelock.WakeLock
	Audit    *audit.Ring
}

// EventConnection is one client's live subscription set: the event-queue
// half of a connection, as opposed to a direct (shared-memory) channel.
type EventConnection struct {
	ID        int64
	OpPackage string
	CallerUID uint32

	deps Deps
	sink Sink
	log  zerolog.Logger

	mu    sync.Mutex
	subs  map[sensor.Handle]*Subscription
	queue *eventQueue

	wakeRefcount int32
	destroyed    bool
}

const defaultQueueCapacity = 256

func NewEventConnection(id int64, opPackage string, callerUID uint32, sink Sink, deps Deps, log zerolog.Logger) *EventConnection {
	return &EventConnection{
		ID:        id,
		OpPackage: opPackage,
		CallerUID: callerUID,
		deps:      deps,
		sink:      sink,
		log: log.With().Str("component", "event_connection").
			Int64("connection_id", id).Str("op_package", opPackage).Logger(),
		subs:  make(map[sensor.Handle]*Subscription),
		queue: newEventQueue(defaultQueueCapacity),
	}
}

// Enable subscribes c to handle, activating the sensor on the HAL if it
// was not already active for some other connection and replaying the
// last known value for on-change sensors that are already running.
func (c *EventConnection) Enable(handle sensor.Handle, periodNs, latencyNs int64, wakeUpRequested bool) error {
	entry, err := c.deps.Registry.LookupOrErr(handle)
	if err != nil {
		return err
	}

	if c.deps.Policy != nil && !c.deps.Policy.CanAccess(entry.Sensor, c.OpPackage, c.CallerUID) {
		return status.New(status.PermissionDenied, "caller may not access this sensor")
	}

	periodNs = clampToSensorRange(periodNs, entry.Sensor)

	if c.deps.Policy != nil {
		periodNs, err = c.deps.Policy.AdjustSamplingPeriod(periodNs, c.OpPackage, entry.Sensor.MinDelayNs)
		if err != nil {
			return err
		}
		periodNs = c.deps.Policy.ApplyMicToggleCap(periodNs, micToggleCapPeriodNs)
	}

	record, created := c.deps.Active.GetOrCreate(handle)

	c.mu.Lock()
	_, alreadySubscribed := c.subs[handle]
	c.mu.Unlock()

	if created {
		if c.deps.Recent != nil {
			c.deps.Recent.MarkStale(handle)
		}
	} else if !alreadySubscribed && entry.Sensor.ReportingMode == sensor.ReportingOnChange {
		if evt, ok := c.deps.Recent.Get(handle); ok {
			c.deliverOne(evt)
		}
	}

	if err := c.deps.HAL.Batch(handle, 0, periodNs, latencyNs); err != nil {
		return err
	}

	if !created && entry.Sensor.ReportingMode == sensor.ReportingContinuous && record.ownerCount() > 0 {
		if err := c.deps.HAL.Flush(handle); err == nil {
			record.pushPendingFlush(c)
		}
	}

	if created {
		if err := c.deps.HAL.Activate(handle, true); err != nil {
			c.deps.Active.Remove(handle)
			return err
		}
	}

	c.mu.Lock()
	c.subs[handle] = &Subscription{PeriodNs: periodNs, LatencyNs: latencyNs, WakeUpRequested: wakeUpRequested}
	c.mu.Unlock()

	record.addOwner(c)

	if c.deps.Audit != nil {
		c.deps.Audit.Append(audit.RegistrationEntry{
			Package: c.OpPackage, Handle: handle, PeriodNs: periodNs, LatencyNs: latencyNs,
			Action: audit.ActionActivate,
		})
	}
	c.log.Debug().Int32("handle", int32(handle)).Int64("period_ns", periodNs).Msg("sensor enabled")
	return nil
}

// Disable removes c's subscription to handle, deactivating it on the HAL
// once no connection holds it.
func (c *EventConnection) Disable(handle sensor.Handle) error {
	c.mu.Lock()
	if _, ok := c.subs[handle]; !ok {
		c.mu.Unlock()
		return status.New(status.BadValue, "not subscribed to this handle")
	}
	delete(c.subs, handle)
	c.mu.Unlock()

	record, ok := c.deps.Active.Get(handle)
	if !ok {
		return nil
	}
	if empty := record.removeOwner(c); empty {
		if err := c.deps.HAL.Activate(handle, false); err != nil {
			return err
		}
		c.deps.Active.Remove(handle)
	}

	if c.deps.Audit != nil {
		c.deps.Audit.Append(audit.RegistrationEntry{
			Package: c.OpPackage, Handle: handle, Action: audit.ActionDeactivate,
		})
	}
	c.log.Debug().Int32("handle", int32(handle)).Msg("sensor disabled")
	return nil
}

// SetEventRate updates the sampling period of an existing subscription
// without a full disable/enable cycle.
func (c *EventConnection) SetEventRate(handle sensor.Handle, periodNs int64) error {
	c.mu.Lock()
	sub, ok := c.subs[handle]
	c.mu.Unlock()
	if !ok {
		return status.New(status.BadValue, "not subscribed to this handle")
	}

	entry, err := c.deps.Registry.LookupOrErr(handle)
	if err != nil {
		return err
	}
	periodNs = clampToSensorRange(periodNs, entry.Sensor)

	if c.deps.Policy != nil {
		periodNs, err = c.deps.Policy.AdjustSamplingPeriod(periodNs, c.OpPackage, periodNs)
		if err != nil {
			return err
		}
	}

	if err := c.deps.HAL.Batch(handle, 0, periodNs, sub.LatencyNs); err != nil {
		return err
	}

	c.mu.Lock()
	sub.PeriodNs = periodNs
	c.mu.Unlock()
	return nil
}

// Flush requests one synthetic completion event for a still-active,
// non-one-shot subscription. One-shot sensors cannot be flushed; they
// auto-disable on first delivery and never hold a pending completion.
func (c *EventConnection) Flush(handle sensor.Handle) error {
	c.mu.Lock()
	sub, ok := c.subs[handle]
	c.mu.Unlock()
	if !ok {
		return status.New(status.BadValue, "not subscribed to this handle")
	}

	entry, err := c.deps.Registry.LookupOrErr(handle)
	if err != nil {
		return err
	}
	if entry.Sensor.ReportingMode == sensor.ReportingOneShot {
		return status.New(status.InvalidOperation, "one-shot sensors cannot be flushed")
	}

	record, ok := c.deps.Active.Get(handle)
	if !ok {
		return status.New(status.InvalidOperation, "sensor is not active")
	}
	if err := c.deps.HAL.Flush(handle); err != nil {
		return err
	}
	record.pushPendingFlush(c)

	c.mu.Lock()
	sub.PendingFlushCount++
	c.mu.Unlock()
	return nil
}

// SendEvents is the dispatch loop's fanout call: deliver every event in
// batch that c is subscribed to, plus any event at an index where c is
// the recorded flush destination. flushDest is parallel to batch and may
// contain nils. Returns the set of handles that auto-disabled themselves
// by virtue of being one-shot, so the caller can tear down their Active
// Sensor Record.
func (c *EventConnection) SendEvents(batch []sensor.Event, flushDest []*EventConnection) (autoDisabled []sensor.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}

	var toDeliver []sensor.Event
	for i, evt := range batch {
		_, subscribed := c.subs[evt.SensorHandle]
		isFlushDest := i < len(flushDest) && flushDest[i] == c
		if !subscribed && !isFlushDest {
			continue
		}
		toDeliver = append(toDeliver, evt)

		if evt.Flags&sensor.EventFlagWakeUpNeedsAck != 0 {
			atomic.AddInt32(&c.wakeRefcount, 1)
		}
	}

	for _, evt := range toDeliver {
		if dropped := c.queue.push(evt); dropped {
			c.log.Warn().Int32("handle", int32(evt.SensorHandle)).Msg("queue full, dropped oldest non-wake event")
		}
	}
	pending := c.queue.drain()
	if len(pending) > 0 {
		if err := c.sink.WriteEvents(pending); err != nil {
			c.log.Error().Err(err).Msg("failed writing events to sink")
		}
	}

	for _, evt := range toDeliver {
		if entry, ok := c.lookupUnsafe(evt.SensorHandle); ok && entry.Sensor.ReportingMode == sensor.ReportingOneShot {
			delete(c.subs, evt.SensorHandle)
			autoDisabled = append(autoDisabled, evt.SensorHandle)
		}
	}
	return autoDisabled
}

func (c *EventConnection) lookupUnsafe(handle sensor.Handle) (registry.Entry, bool) {
	return c.deps.Registry.Lookup(handle)
}

// deliverOne pushes a single replayed event straight to the sink,
// bypassing the queue since it happens outside the dispatch loop's
// fanout call.
func (c *EventConnection) deliverOne(evt sensor.Event) {
	if err := c.sink.WriteEvents([]sensor.Event{evt}); err != nil {
		c.log.Error().Err(err).Msg("failed replaying on-change value")
	}
}

// AckWake is called by the ack-receiver goroutine once this connection's
// client has acknowledged a wake-up event, decrementing the refcount that
// gates wakelock release.
func (c *EventConnection) AckWake(count int32) {
	for {
		cur := atomic.LoadInt32(&c.wakeRefcount)
		next := cur - count
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt32(&c.wakeRefcount, cur, next) {
			return
		}
	}
}

// WakeRefcount reports outstanding unacknowledged wake events, used by the
// dispatch loop's wakelock release arbitration.
func (c *EventConnection) WakeRefcount() int32 {
	return atomic.LoadInt32(&c.wakeRefcount)
}

// Destroy tears down every subscription this connection holds and closes
// its sink. Safe to call more than once.
func (c *EventConnection) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	handles := make([]sensor.Handle, 0, len(c.subs))
	for h := range c.subs {
		handles = append(handles, h)
	}
	c.subs = make(map[sensor.Handle]*Subscription)
	c.mu.Unlock()

	for _, h := range handles {
		if record, ok := c.deps.Active.Get(h); ok {
			if empty := record.removeOwner(c); empty {
				_ = c.deps.HAL.Activate(h, false)
				c.deps.Active.Remove(h)
			}
		}
	}
	_ = c.sink.Close()
}

const micToggleCapPeriodNs = 200_000_000 // 5 Hz, mirrors the mic-indicator sampling cap

// clampToSensorRange enforces the sensor's own [MinDelayNs, MaxDelayNs]
// range unconditionally, ahead of any permission-based rate cap. A zero
// bound means the sensor declares no limit on that side.
func clampToSensorRange(periodNs int64, s sensor.Sensor) int64 {
	if s.MinDelayNs > 0 && periodNs < s.MinDelayNs {
		periodNs = s.MinDelayNs
	}
	if s.MaxDelayNs > 0 && periodNs > s.MaxDelayNs {
		periodNs = s.MaxDelayNs
	}
	return periodNs
}
