// Package hal declares the opaque hardware abstraction layer contract the
// dispatch engine drives. The real driver lives outside this module; hal
// only fixes the interface boundary and ships a deterministic software
// fake used by every test in this repository.
package hal

import (
	"context"

	"github.com/sensorfabric/sensord/internal/sensor"
)

// ErrDeadObject is returned by Poll when the underlying driver connection
// has dropped. Callers should consult IsReconnecting before deciding
// whether to run the reconnection protocol.
var ErrDeadObject = &deadObjectError{}

type deadObjectError struct{}

func (*deadObjectError) Error() string { return "hal: dead object" }

// HAL is the driver boundary this service multiplexes. Every method may block.
// Poll is called only from the dispatch loop's goroutine; the other methods
// are called from request-handling goroutines and must be safe to
// interleave with Poll.
type HAL interface {
	InitCheck() error
	SensorList() []sensor.Sensor

	// Poll blocks until at least one event is ready, then fills buf and
	// returns the number of events written. Returns ErrDeadObject if the
	// driver connection has dropped.
	Poll(ctx context.Context, buf []sensor.Event) (int, error)

	Activate(handle sensor.Handle, enable bool) error
	Batch(handle sensor.Handle, flags sensor.BatchFlags, periodNs, latencyNs int64) error
	Flush(handle sensor.Handle) error
	InjectSensorData(evt sensor.Event) error
	SetMode(mode sensor.Mode) error
	WriteWakeLockHandled(count int) error

	RegisterDirectChannel(memoryDescriptor DirectChannelMemory) (ChannelHandle, error)
	ConfigureDirectChannel(channel ChannelHandle, sensorHandle sensor.Handle, rateLevel int32) error
	UnregisterDirectChannel(channel ChannelHandle) error

	HandleDynamicSensorConnection(handle sensor.Handle, connected bool) error

	// DynamicSensorInfo returns the descriptor a connected dynamic sensor
	// announced for handle, discovered out-of-band from the driver at
	// hot-plug time. ok is false if the driver has no descriptor for handle.
	DynamicSensorInfo(handle sensor.Handle) (sensor.Sensor, bool)

	IsReconnecting() bool
	Reconnect() error
	GetDynamicSensorHandles() []sensor.Handle

	EnableAllSensors() error
	DisableAllSensors() error

	SetUIDStateForConnection(connectionID int64, active bool) error
}

// ChannelHandle is the HAL-assigned token for a direct (shared-memory)
// channel, returned by RegisterDirectChannel.
type ChannelHandle int64

// DirectChannelMemory describes the shared-memory region a client handed
// to the service for a direct channel. The service never interprets the
// contents; it only validates the declared size and forwards the
// descriptor to the HAL.
type DirectChannelMemory struct {
	FD       int
	SizeByte int64
	Format   MemoryFormat
}

// MemoryFormat enumerates the layouts the HAL can be configured to write.
// FormatSensorEvent is the only layout the service supports end to end;
// connection.NewDirectConnection rejects the others with
// status.InvalidOperation.
type MemoryFormat int

const (
	FormatSensorEvent MemoryFormat = iota
	FormatAshmem
	FormatGrallocHandle
)

// MetaSensorHandle is the fallback handle for synthetic META_DATA and
// DYNAMIC_SENSOR_META events. service.New scans SensorList once at init
// and uses the handle of a sensor.TypeMetaData entry when there is one;
// otherwise (as with the fake) it uses this reserved constant.
const MetaSensorHandle sensor.Handle = 0
