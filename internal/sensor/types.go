// Package sensor defines the data model shared by every layer of the
// service: sensor descriptors, wire events, reporting modes, and the
// operating-mode enum. Nothing in this package touches the HAL, the
// registry, or dispatch — it is pure data.
package sensor

import (
	"fmt"

	"github.com/google/uuid"
)

// NewDynamicSensorUUID mints a fresh random identity for a hot-plugged
// dynamic sensor, the value a HAL implementation stamps onto Sensor.UUID
// before calling Registry.Add for it.
func NewDynamicSensorUUID() [16]byte {
	return [16]byte(uuid.New())
}

// Handle uniquely and permanently identifies a sensor for the life of the
// process. Handles are never reused, even after a remove.
type Handle int32

// Handle ranges. Platform sensors are assigned from a static list below
// PlatformHandleMax; dynamic sensors (HAL hot-plugged) occupy a disjoint
// block; runtime sensors (user-space callback backed) are allocated
// sequentially starting at RuntimeHandleBase.
const (
	PlatformHandleMax  Handle = 0xFFFF
	DynamicHandleBase  Handle = 0x10000
	DynamicHandleEnd   Handle = 0x1FFFF
	RuntimeHandleBase  Handle = 0x20000
	RuntimeHandleEnd   Handle = 0x2FFFF
	InvalidHandle      Handle = -1
)

// DeviceID identifies the physical or virtual device a sensor belongs to.
// The default HAL device is 0; runtime sensors and multi-device HALs use
// non-zero values.
type DeviceID int32

const DefaultDevice DeviceID = 0

// Type is the sensor's semantic type (accelerometer, gyroscope, ...).
type Type int32

const (
	TypeAccelerometer Type = iota + 1
	TypeMagneticField
	TypeOrientation
	TypeGyroscope
	TypeLight
	TypePressure
	TypeProximity
	TypeGravity
	TypeLinearAcceleration
	TypeRotationVector
	TypeRelativeHumidity
	TypeAmbientTemperature
	TypeGameRotationVector
	TypeGeomagneticRotationVector
	TypeStepCounter
	TypeStepDetector
	TypeHeartRate
	TypeAccelerometerLimitedAxes
	TypeGyroscopeLimitedAxes
	TypeHeadTracker
	TypeAdditionalInfo
	TypeMetaData
	TypeDynamicSensorMeta
)

func (t Type) String() string {
	names := map[Type]string{
		TypeAccelerometer:             "accelerometer",
		TypeMagneticField:             "magnetic_field",
		TypeOrientation:               "orientation",
		TypeGyroscope:                 "gyroscope",
		TypeLight:                     "light",
		TypePressure:                  "pressure",
		TypeProximity:                 "proximity",
		TypeGravity:                   "gravity",
		TypeLinearAcceleration:        "linear_acceleration",
		TypeRotationVector:            "rotation_vector",
		TypeRelativeHumidity:          "relative_humidity",
		TypeAmbientTemperature:        "ambient_temperature",
		TypeGameRotationVector:        "game_rotation_vector",
		TypeGeomagneticRotationVector: "geomagnetic_rotation_vector",
		TypeStepCounter:               "step_counter",
		TypeStepDetector:              "step_detector",
		TypeHeartRate:                 "heart_rate",
		TypeAccelerometerLimitedAxes:  "accelerometer_limited_axes",
		TypeGyroscopeLimitedAxes:      "gyroscope_limited_axes",
		TypeHeadTracker:               "head_tracker",
		TypeAdditionalInfo:            "additional_info",
		TypeMetaData:                  "meta_data",
		TypeDynamicSensorMeta:         "dynamic_sensor_meta",
	}
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", int32(t))
}

// ReportingMode classifies how often a sensor's events arrive.
type ReportingMode int

const (
	ReportingContinuous ReportingMode = iota
	ReportingOnChange
	ReportingOneShot
	ReportingSpecial
)

// Flags bits carried on a Sensor descriptor.
type Flags uint32

const (
	FlagWakeUp Flags = 1 << iota
	FlagDynamic
	FlagAdditionalInfo
)

func (f Flags) Has(bit Flags) bool { return f&bit == bit }

// Sensor is the static descriptor: identity plus capabilities. It never
// changes after registration; per-client state lives in Subscription.
type Sensor struct {
	Handle             Handle
	Type               Type
	Name               string
	Vendor             string
	MinDelayNs         int64
	MaxDelayNs         int64
	FifoMaxEventCount  int32
	ReportingMode      ReportingMode
	Flags              Flags
	RequiredPermission string
	RequiredAppOp      string
	UUID               [16]byte
	DeviceID           DeviceID
}

func (s Sensor) IsWakeUp() bool  { return s.Flags.Has(FlagWakeUp) }
func (s Sensor) IsDynamic() bool { return s.Flags.Has(FlagDynamic) }

// EventFlags carries per-event bits, distinct from the sensor's static Flags.
type EventFlags uint32

const EventFlagWakeUpNeedsAck EventFlags = 1 << 0

// Event is the fixed-layout record produced by the HAL (or a virtual
// sensor) and delivered to subscribers.
type Event struct {
	Version      int32
	SensorHandle Handle
	Type         Type
	TimestampNs  int64
	Payload      Payload
	Flags        EventFlags
}

// Payload is a union-like holder for an event's data. Only one field is
// meaningful per event Type; callers branch on Event.Type.
type Payload struct {
	Vec3      [3]float32 // accel/gyro/mag/gravity/linear-acc
	Vec4      [4]float32 // rotation-vector style (x,y,z,w) plus accuracy below
	Scalar    float32    // light/pressure/proximity/temperature/humidity/heart-rate
	Accuracy  float32    // estimated heading accuracy for rotation vectors
	MetaType  int32      // for META_DATA: the handle whose flush completed, packed here
	DynHandle Handle     // for DYNAMIC_SENSOR_META
	DynAdd    bool       // true=connected, false=disconnected
}

// Mode is the top-level operating posture of the service.
type Mode int

const (
	ModeNormal Mode = iota
	ModeRestricted
	ModeDataInjection
	ModeReplayDataInjection
	ModeHalBypassReplayInjection
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRestricted:
		return "restricted"
	case ModeDataInjection:
		return "data_injection"
	case ModeReplayDataInjection:
		return "replay_data_injection"
	case ModeHalBypassReplayInjection:
		return "hal_bypass_replay_injection"
	default:
		return "unknown"
	}
}

func (m Mode) IsInjection() bool {
	return m == ModeDataInjection || m == ModeReplayDataInjection || m == ModeHalBypassReplayInjection
}

// BatchFlags passed to hal.Batch; currently just a placeholder for the
// HAL-specific batching bitmask the real driver ABI defines.
type BatchFlags uint32
