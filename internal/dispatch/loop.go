// Package dispatch implements the single-producer event loop: it polls
// the HAL, expands the batch through the virtual sensor engine, orders
// events by timestamp, routes flush completions and dynamic-sensor
// connect/disconnect notifications, and fans the result out to every
// live connection while arbitrating the system wakelock.
package dispatch

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/connection"
	"github.com/sensorfabric/sensord/internal/fusion"
	"github.com/sensorfabric/sensord/internal/hal"
	"github.com/sensorfabric/sensord/internal/recent"
	"github.com/sensorfabric/sensord/internal/registry"
	"github.com/sensorfabric/sensord/internal/sensor"
)

// Loop owns the dispatch thread's collaborators. One Loop runs on exactly
// one goroutine (started by Run), matching the single dedicated-thread
// model the fanout discipline depends on.
type Loop struct {
	HAL      hal.HAL
	Registry *registry.Registry
	Active   *connection.ActiveSet
	Holder   *connection.Holder
	Recent   *recent.Log
	Wake     wakeLocker
	Fusion   *fusion.State
	Virtual  []fusion.VirtualSensor

	MetaHandle sensor.Handle

	log zerolog.Logger
}

// wakeLocker is the subset of wakelock.WakeLock the loop needs, named
// locally so this package does not import wakelock just for the
// interface shape.
type wakeLocker interface {
	Acquire()
	Release()
	Held() bool
}

func New(h hal.HAL, reg *registry.Registry, active *connection.ActiveSet, holder *connection.Holder, rec *recent.Log, wake wakeLocker, fusionState *fusion.State, virtual []fusion.VirtualSensor, metaHandle sensor.Handle, log zerolog.Logger) *Loop {
	return &Loop{
		HAL:        h,
		Registry:   reg,
		Active:     active,
		Holder:     holder,
		Recent:     rec,
		Wake:       wake,
		Fusion:     fusionState,
		Virtual:    virtual,
		MetaHandle: metaHandle,
		log:        log.With().Str("component", "dispatch").Logger(),
	}
}

const basePollBufferSize = 256

// Run executes iterations until ctx is cancelled. Each HAL poll call
// blocks, so ctx cancellation is only observed between iterations, never
// by interrupting an in-flight poll.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := l.iterate(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) pollBufferSize() int {
	n := basePollBufferSize / (1 + len(l.Virtual))
	if n < 1 {
		n = 1
	}
	return n
}

func (l *Loop) iterate(ctx context.Context) error {
	buf := make([]sensor.Event, l.pollBufferSize())
	n, err := l.HAL.Poll(ctx, buf)
	if err != nil {
		if err == hal.ErrDeadObject && l.HAL.IsReconnecting() {
			l.runReconnectionProtocol()
			return nil
		}
		return err
	}
	batch := buf[:n]
	// Clear every per-event bit except the HAL's wake-up-needs-ack marker,
	// which the wake count below and each connection's refcount rely on.
	for i := range batch {
		batch[i].Flags &= sensor.EventFlagWakeUpNeedsAck
	}

	wakeCount := 0
	for _, evt := range batch {
		if evt.Flags&sensor.EventFlagWakeUpNeedsAck != 0 {
			wakeCount++
		}
	}
	if wakeCount > 0 && !l.Wake.Held() {
		l.Wake.Acquire()
		if err := l.HAL.WriteWakeLockHandled(wakeCount); err != nil {
			l.log.Warn().Err(err).Msg("write_wake_lock_handled failed")
		}
	}

	for _, evt := range batch {
		if evt.Type == sensor.TypeMetaData || evt.Type == sensor.TypeAdditionalInfo {
			continue
		}
		l.Recent.Record(evt)
		l.Fusion.Feed(evt)
	}

	batch = l.expandVirtualSensors(batch)

	sort.SliceStable(batch, func(i, j int) bool { return batch[i].TimestampNs < batch[j].TimestampNs })

	flushDest := make([]*connection.EventConnection, len(batch))
	for i, evt := range batch {
		switch evt.Type {
		case sensor.TypeMetaData:
			if record, ok := l.Active.Get(sensor.Handle(evt.Payload.MetaType)); ok {
				if dest, ok := record.PopPendingFlush(); ok {
					flushDest[i] = dest
				}
			}
		case sensor.TypeDynamicSensorMeta:
			l.handleDynamicSensorMeta(evt)
		}
	}

	conns := l.Holder.SnapshotEvents()
	for _, c := range conns {
		autoDisabled := c.SendEvents(batch, flushDest)
		for _, handle := range autoDisabled {
			if record, ok := l.Active.Get(handle); ok {
				if empty := record.RemoveOwnerPublic(c); empty {
					_ = l.HAL.Activate(handle, false)
					l.Active.Remove(handle)
				}
			}
		}
	}

	if l.Wake.Held() {
		release := true
		for _, c := range conns {
			if c.WakeRefcount() > 0 {
				release = false
				break
			}
		}
		if release {
			l.Wake.Release()
		}
	}

	return nil
}

func (l *Loop) expandVirtualSensors(batch []sensor.Event) []sensor.Event {
	if len(l.Virtual) == 0 {
		return batch
	}
	out := make([]sensor.Event, len(batch), len(batch)*2)
	copy(out, batch)
	for _, input := range batch {
		for _, vs := range l.Virtual {
			if evt, ok := vs.Process(l.Fusion, input); ok {
				out = append(out, evt)
			}
		}
	}
	return out
}

func (l *Loop) handleDynamicSensorMeta(evt sensor.Event) {
	handle := evt.Payload.DynHandle
	if evt.Payload.DynAdd {
		if _, ok := l.Registry.Lookup(handle); !ok {
			descriptor, ok := l.HAL.DynamicSensorInfo(handle)
			if !ok {
				l.log.Error().Int32("handle", int32(handle)).Msg("dynamic sensor connect with no announced descriptor")
				return
			}
			l.Registry.Add(descriptor, false, false)
		}
		if err := l.HAL.HandleDynamicSensorConnection(handle, true); err != nil {
			l.log.Error().Err(err).Int32("handle", int32(handle)).Msg("dynamic sensor connect failed")
		}
		return
	}

	l.Registry.Remove(handle)
	if err := l.HAL.HandleDynamicSensorConnection(handle, false); err != nil {
		l.log.Error().Err(err).Int32("handle", int32(handle)).Msg("dynamic sensor disconnect failed")
	}
	for _, c := range l.Holder.SnapshotEvents() {
		_ = c.Disable(handle)
	}
}

// runReconnectionProtocol emits a synthetic disconnect for every known
// dynamic sensor, deregisters each, delivers the events to every
// connection, then asks the HAL to reconnect.
func (l *Loop) runReconnectionProtocol() {
	l.log.Warn().Msg("hal dead object detected, running reconnection protocol")
	handles := l.HAL.GetDynamicSensorHandles()
	now := time.Now().UnixNano()

	events := make([]sensor.Event, 0, len(handles))
	for _, h := range handles {
		events = append(events, sensor.Event{
			Version:      1,
			SensorHandle: l.MetaHandle,
			Type:         sensor.TypeDynamicSensorMeta,
			TimestampNs:  now,
			Payload:      sensor.Payload{DynHandle: h, DynAdd: false},
		})
		l.Registry.Remove(h)
		if err := l.HAL.HandleDynamicSensorConnection(h, false); err != nil {
			l.log.Error().Err(err).Int32("handle", int32(h)).Msg("dynamic sensor disconnect failed")
		}
	}

	flushDest := make([]*connection.EventConnection, len(events))
	for _, c := range l.Holder.SnapshotEvents() {
		c.SendEvents(events, flushDest)
	}

	if err := l.HAL.Reconnect(); err != nil {
		l.log.Error().Err(err).Msg("hal reconnect failed")
	}
}
