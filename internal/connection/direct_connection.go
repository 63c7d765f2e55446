package connection

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/hal"
	"github.com/sensorfabric/sensord/internal/policy"
	"github.com/sensorfabric/sensord/internal/sensor"
	"github.com/sensorfabric/sensord/internal/status"
)

// RuntimeSensorRouter dispatches direct-channel configuration for sensors
// that do not belong to the default HAL device. Devices other than
// DefaultDevice register one of these per device ID; the HAL path is used
// for DefaultDevice instead.
type RuntimeSensorRouter interface {
	ConfigureDirectChannel(sensorHandle sensor.Handle, rateLevel int32) error
}

// DirectConnection is one client's shared-memory channel: a HAL-assigned
// token plus the per-sensor rate table, and the two independent backup
// sets (mode-pause, mic-toggle-cap) that let either be reversed without
// disturbing the other.
type DirectConnection struct {
	ID        int64
	OpPackage string
	CallerUID uint32

	h      hal.HAL
	policy *policy.Policy
	log    zerolog.Logger

	mu       sync.Mutex
	channel  hal.ChannelHandle
	rates    map[sensor.Handle]int32 // current configured rate level per sensor
	routers  map[sensor.Handle]RuntimeSensorRouter

	pauseBackup  map[sensor.Handle]int32 // nil means not currently paused
	micCapBackup map[sensor.Handle]int32 // nil means mic cap not currently engaged
	micCapLevel  int32
	destroyed    bool
}

func NewDirectConnection(id int64, opPackage string, callerUID uint32, memory hal.DirectChannelMemory, h hal.HAL, pol *policy.Policy, log zerolog.Logger) (*DirectConnection, error) {
	if memory.Format != hal.FormatSensorEvent {
		return nil, status.New(status.InvalidOperation, "direct channels only support the fixed sensor-event layout")
	}
	channel, err := h.RegisterDirectChannel(memory)
	if err != nil {
		return nil, err
	}
	return &DirectConnection{
		ID:        id,
		OpPackage: opPackage,
		CallerUID: callerUID,
		h:         h,
		policy:    pol,
		log: log.With().Str("component", "direct_connection").
			Int64("connection_id", id).Str("op_package", opPackage).Logger(),
		channel: channel,
		rates:   make(map[sensor.Handle]int32),
		routers: make(map[sensor.Handle]RuntimeSensorRouter),
	}, nil
}

// RegisterRouter associates a non-default-device sensor with the
// RuntimeSensorCallback that owns its device, so Configure routes rate
// changes there instead of to the HAL.
func (d *DirectConnection) RegisterRouter(handle sensor.Handle, router RuntimeSensorRouter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routers[handle] = router
}

// Configure sets the delivery rate for one sensor over this channel,
// routing to the HAL for the default device or to the registered runtime
// callback otherwise.
func (d *DirectConnection) Configure(handle sensor.Handle, deviceID sensor.DeviceID, rateLevel int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return status.New(status.InvalidOperation, "direct connection destroyed")
	}

	if deviceID == sensor.DefaultDevice {
		if err := d.h.ConfigureDirectChannel(d.channel, handle, rateLevel); err != nil {
			return err
		}
	} else {
		router, ok := d.routers[handle]
		if !ok {
			return status.New(status.BadValue, "no runtime sensor callback registered for this device")
		}
		if err := router.ConfigureDirectChannel(handle, rateLevel); err != nil {
			return err
		}
	}

	if rateLevel == 0 {
		delete(d.rates, handle)
	} else {
		d.rates[handle] = rateLevel
	}
	return nil
}

// Pause backs up every currently configured rate and zeroes it on the
// HAL, used when entering restricted mode, on UID-idle, or when sensor
// privacy engages. A no-op if already paused.
func (d *DirectConnection) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pauseBackup != nil {
		return
	}
	d.pauseBackup = make(map[sensor.Handle]int32, len(d.rates))
	for handle, rate := range d.rates {
		d.pauseBackup[handle] = rate
		d.zeroLocked(handle)
	}
}

// Resume restores every rate captured by the most recent Pause. If the
// mic-toggle cap is still engaged, a restored rate above the cap is
// written through at the cap level instead, and the pre-cap rate moves
// into the mic-cap backup so a later ReleaseMicToggleCap still restores
// the true original.
func (d *DirectConnection) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pauseBackup == nil {
		return
	}
	backup := d.pauseBackup
	d.pauseBackup = nil
	for handle, rate := range backup {
		if d.micCapBackup != nil && rate > d.micCapLevel {
			if _, captured := d.micCapBackup[handle]; !captured {
				d.micCapBackup[handle] = rate
			}
			d.restoreLocked(handle, d.micCapLevel)
			continue
		}
		d.restoreLocked(handle, rate)
	}
}

// ApplyMicToggleCap reduces every rate above capLevel to capLevel, saving
// originals so ReleaseMicToggleCap can restore them. Composes
// independently with Pause/Resume: a sensor paused and mic-capped at the
// same time restores correctly regardless of which reversal happens
// first, since Resume and ReleaseMicToggleCap each check whether the
// other suppression is still engaged before writing a rate through.
func (d *DirectConnection) ApplyMicToggleCap(capLevel int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.micCapBackup != nil {
		return
	}
	d.micCapLevel = capLevel
	d.micCapBackup = make(map[sensor.Handle]int32, len(d.rates))
	for handle, rate := range d.rates {
		if rate <= capLevel {
			continue
		}
		d.micCapBackup[handle] = rate
		d.restoreLocked(handle, capLevel)
	}
}

// ReleaseMicToggleCap restores every rate captured by the most recent
// ApplyMicToggleCap. If the channel is still paused, the restored rate is
// only folded back into the pause backup rather than written through, so
// the suppression stays in effect until Resume runs.
func (d *DirectConnection) ReleaseMicToggleCap() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.micCapBackup == nil {
		return
	}
	backup := d.micCapBackup
	d.micCapBackup = nil
	for handle, rate := range backup {
		if d.pauseBackup != nil {
			d.pauseBackup[handle] = rate
			continue
		}
		d.restoreLocked(handle, rate)
	}
}

func (d *DirectConnection) zeroLocked(handle sensor.Handle) {
	d.restoreLocked(handle, 0)
}

func (d *DirectConnection) restoreLocked(handle sensor.Handle, rate int32) {
	d.configureLocked(handle, rate)
	d.rates[handle] = rate
}

func (d *DirectConnection) configureLocked(handle sensor.Handle, rateLevel int32) {
	if router, ok := d.routers[handle]; ok {
		if err := router.ConfigureDirectChannel(handle, rateLevel); err != nil {
			d.log.Error().Err(err).Int32("handle", int32(handle)).Msg("runtime sensor rate change failed")
		}
		return
	}
	if err := d.h.ConfigureDirectChannel(d.channel, handle, rateLevel); err != nil {
		d.log.Error().Err(err).Int32("handle", int32(handle)).Msg("direct channel rate change failed")
	}
}

// Destroy unregisters the channel from the HAL. Safe to call more than once.
func (d *DirectConnection) Destroy() error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.destroyed = true
	d.mu.Unlock()
	return d.h.UnregisterDirectChannel(d.channel)
}
