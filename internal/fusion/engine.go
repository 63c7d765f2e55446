// Package fusion implements the Virtual Sensor Engine: pure functions over
// recent physical samples that produce derived ("virtual") sensor events.
// The math here is a deliberately simplified complementary filter, not
// vendor-accurate sensor fusion — its job is to exercise the
// dispatch/expansion contract, not to model physics.
package fusion

import (
	"math"

	"github.com/sensorfabric/sensord/internal/sensor"
)

const windowSize = 64

// sample is one physical reading kept in the fusion ring buffer.
type sample struct {
	vec   [3]float32
	tsNs  int64
	valid bool
}

// State is the shared fusion state the engine's virtual sensors read from.
// One State is owned by the dispatch loop and fed every physical event it
// sees before virtual sensors run.
type State struct {
	accel [windowSize]sample
	gyro  [windowSize]sample
	mag   [windowSize]sample
	ai, gi, mi int

	// gravityEstimate is updated incrementally by a simple low-pass filter
	// so Gravity/LinearAcceleration can run in O(1) instead of rescanning
	// the whole window every event.
	gravityEstimate [3]float32
	haveGravity     bool
}

// NewState returns an empty fusion state.
func NewState() *State { return &State{} }

// Feed records a physical sample into the rolling window. Only
// accelerometer, gyroscope, and magnetometer events are meaningful inputs;
// other types are ignored.
func (s *State) Feed(evt sensor.Event) {
	switch evt.Type {
	case sensor.TypeAccelerometer:
		s.accel[s.ai] = sample{evt.Payload.Vec3, evt.TimestampNs, true}
		s.ai = (s.ai + 1) % windowSize
		s.updateGravity(evt.Payload.Vec3)
	case sensor.TypeGyroscope:
		s.gyro[s.gi] = sample{evt.Payload.Vec3, evt.TimestampNs, true}
		s.gi = (s.gi + 1) % windowSize
	case sensor.TypeMagneticField:
		s.mag[s.mi] = sample{evt.Payload.Vec3, evt.TimestampNs, true}
		s.mi = (s.mi + 1) % windowSize
	}
}

const gravityAlpha = 0.8

func (s *State) updateGravity(accel [3]float32) {
	if !s.haveGravity {
		s.gravityEstimate = accel
		s.haveGravity = true
		return
	}
	for i := range s.gravityEstimate {
		s.gravityEstimate[i] = gravityAlpha*s.gravityEstimate[i] + (1-gravityAlpha)*accel[i]
	}
}

func (s *State) latestAccel() (sample, bool) {
	idx := (s.ai - 1 + windowSize) % windowSize
	v := s.accel[idx]
	return v, v.valid
}

func (s *State) latestMag() (sample, bool) {
	idx := (s.mi - 1 + windowSize) % windowSize
	v := s.mag[idx]
	return v, v.valid
}

// VirtualSensor is the capability table entry for one synthesized sensor:
// a single indirection over Process, a tagged variant with a capability
// table rather than a vtable tower.
type VirtualSensor struct {
	Handle sensor.Handle
	Type   sensor.Type
	// Process consumes one physical input event and the shared fusion
	// state, returning at most one derived output event.
	Process func(state *State, input sensor.Event) (sensor.Event, bool)
}

// Gravity estimates the gravity vector from the low-pass-filtered
// accelerometer signal.
func Gravity(handle sensor.Handle) VirtualSensor {
	return VirtualSensor{
		Handle: handle,
		Type:   sensor.TypeGravity,
		Process: func(state *State, input sensor.Event) (sensor.Event, bool) {
			if input.Type != sensor.TypeAccelerometer || !state.haveGravity {
				return sensor.Event{}, false
			}
			return sensor.Event{
				SensorHandle: handle,
				Type:         sensor.TypeGravity,
				TimestampNs:  input.TimestampNs,
				Payload:      sensor.Payload{Vec3: state.gravityEstimate},
			}, true
		},
	}
}

// LinearAcceleration subtracts the gravity estimate from raw accelerometer
// samples.
func LinearAcceleration(handle sensor.Handle) VirtualSensor {
	return VirtualSensor{
		Handle: handle,
		Type:   sensor.TypeLinearAcceleration,
		Process: func(state *State, input sensor.Event) (sensor.Event, bool) {
			if input.Type != sensor.TypeAccelerometer || !state.haveGravity {
				return sensor.Event{}, false
			}
			var lin [3]float32
			for i := range lin {
				lin[i] = input.Payload.Vec3[i] - state.gravityEstimate[i]
			}
			return sensor.Event{
				SensorHandle: handle,
				Type:         sensor.TypeLinearAcceleration,
				TimestampNs:  input.TimestampNs,
				Payload:      sensor.Payload{Vec3: lin},
			}, true
		},
	}
}

// GameRotationVector integrates gyroscope samples into an orientation
// quaternion, ignoring the magnetometer (hence "game": no absolute north
// reference).
func GameRotationVector(handle sensor.Handle) VirtualSensor {
	return VirtualSensor{
		Handle: handle,
		Type:   sensor.TypeGameRotationVector,
		Process: func(state *State, input sensor.Event) (sensor.Event, bool) {
			if input.Type != sensor.TypeGyroscope {
				return sensor.Event{}, false
			}
			q := quaternionFromGyro(input.Payload.Vec3)
			return sensor.Event{
				SensorHandle: handle,
				Type:         sensor.TypeGameRotationVector,
				TimestampNs:  input.TimestampNs,
				Payload:      sensor.Payload{Vec4: q},
			}, true
		},
	}
}

// RotationVector combines the gyro-derived orientation with the
// accelerometer/magnetometer heading, producing an accuracy estimate
// alongside the quaternion.
func RotationVector(handle sensor.Handle) VirtualSensor {
	return VirtualSensor{
		Handle: handle,
		Type:   sensor.TypeRotationVector,
		Process: func(state *State, input sensor.Event) (sensor.Event, bool) {
			if input.Type != sensor.TypeGyroscope {
				return sensor.Event{}, false
			}
			mag, haveMag := state.latestMag()
			accel, haveAccel := state.latestAccel()
			if !haveMag || !haveAccel {
				return sensor.Event{}, false
			}
			q := quaternionFromGyro(input.Payload.Vec3)
			acc := headingAccuracy(accel.vec, mag.vec)
			return sensor.Event{
				SensorHandle: handle,
				Type:         sensor.TypeRotationVector,
				TimestampNs:  input.TimestampNs,
				Payload:      sensor.Payload{Vec4: q, Accuracy: acc},
			}, true
		},
	}
}

// GeomagneticRotationVector derives orientation from accelerometer +
// magnetometer alone (no gyroscope available).
func GeomagneticRotationVector(handle sensor.Handle) VirtualSensor {
	return VirtualSensor{
		Handle: handle,
		Type:   sensor.TypeGeomagneticRotationVector,
		Process: func(state *State, input sensor.Event) (sensor.Event, bool) {
			if input.Type != sensor.TypeMagneticField {
				return sensor.Event{}, false
			}
			accel, haveAccel := state.latestAccel()
			if !haveAccel {
				return sensor.Event{}, false
			}
			q := quaternionFromVectors(accel.vec, input.Payload.Vec3)
			return sensor.Event{
				SensorHandle: handle,
				Type:         sensor.TypeGeomagneticRotationVector,
				TimestampNs:  input.TimestampNs,
				Payload:      sensor.Payload{Vec4: q},
			}, true
		},
	}
}

// Orientation derives classic azimuth/pitch/roll from the accelerometer
// and magnetometer, superseded on modern devices by RotationVector but
// kept for legacy subscribers.
func Orientation(handle sensor.Handle) VirtualSensor {
	return VirtualSensor{
		Handle: handle,
		Type:   sensor.TypeOrientation,
		Process: func(state *State, input sensor.Event) (sensor.Event, bool) {
			if input.Type != sensor.TypeMagneticField {
				return sensor.Event{}, false
			}
			accel, haveAccel := state.latestAccel()
			if !haveAccel {
				return sensor.Event{}, false
			}
			azimuth := float32(math.Atan2(float64(input.Payload.Vec3[0]), float64(input.Payload.Vec3[1])))
			pitch := float32(math.Atan2(-float64(accel.vec[1]), float64(accel.vec[2])))
			roll := float32(math.Atan2(float64(accel.vec[0]), float64(accel.vec[2])))
			return sensor.Event{
				SensorHandle: handle,
				Type:         sensor.TypeOrientation,
				TimestampNs:  input.TimestampNs,
				Payload:      sensor.Payload{Vec3: [3]float32{azimuth, pitch, roll}},
			}, true
		},
	}
}

// LimitedAxes passes a base sensor's reading through to a limited-axes
// variant, zeroing the axes the automotive profile excludes (Z, by
// convention, for the in-cabin IMU family).
func LimitedAxes(handle sensor.Handle, derivedType sensor.Type) VirtualSensor {
	return VirtualSensor{
		Handle: handle,
		Type:   derivedType,
		Process: func(state *State, input sensor.Event) (sensor.Event, bool) {
			var want sensor.Type
			switch derivedType {
			case sensor.TypeAccelerometerLimitedAxes:
				want = sensor.TypeAccelerometer
			case sensor.TypeGyroscopeLimitedAxes:
				want = sensor.TypeGyroscope
			default:
				return sensor.Event{}, false
			}
			if input.Type != want {
				return sensor.Event{}, false
			}
			v := input.Payload.Vec3
			v[2] = 0
			return sensor.Event{
				SensorHandle: handle,
				Type:         derivedType,
				TimestampNs:  input.TimestampNs,
				Payload:      sensor.Payload{Vec3: v},
			}, true
		},
	}
}

func quaternionFromGyro(angularVelocity [3]float32) [4]float32 {
	mag := float32(math.Sqrt(float64(angularVelocity[0]*angularVelocity[0] + angularVelocity[1]*angularVelocity[1] + angularVelocity[2]*angularVelocity[2])))
	if mag == 0 {
		return [4]float32{0, 0, 0, 1}
	}
	half := mag / 2
	s := float32(math.Sin(float64(half))) / mag
	return [4]float32{angularVelocity[0] * s, angularVelocity[1] * s, angularVelocity[2] * s, float32(math.Cos(float64(half)))}
}

func quaternionFromVectors(down, north [3]float32) [4]float32 {
	cross := [3]float32{
		down[1]*north[2] - down[2]*north[1],
		down[2]*north[0] - down[0]*north[2],
		down[0]*north[1] - down[1]*north[0],
	}
	w := down[0]*north[0] + down[1]*north[1] + down[2]*north[2]
	q := [4]float32{cross[0], cross[1], cross[2], w}
	norm := float32(math.Sqrt(float64(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])))
	if norm == 0 {
		return [4]float32{0, 0, 0, 1}
	}
	for i := range q {
		q[i] /= norm
	}
	return q
}

func headingAccuracy(accel, mag [3]float32) float32 {
	// Crude proxy: accuracy degrades as the magnetometer reading departs
	// from a plausible Earth-field magnitude, and as the accelerometer
	// departs from 1g; both are symptomatic of magnetic interference or
	// device motion, which is exactly when the real driver also widens its
	// uncertainty estimate.
	magMag := float32(math.Sqrt(float64(mag[0]*mag[0] + mag[1]*mag[1] + mag[2]*mag[2])))
	accelMag := float32(math.Sqrt(float64(accel[0]*accel[0] + accel[1]*accel[1] + accel[2]*accel[2])))
	const earthField = 45.0
	const gravity = 9.81
	deviation := float32(math.Abs(float64(magMag-earthField))/earthField + math.Abs(float64(accelMag-gravity))/gravity)
	if deviation > 1 {
		deviation = 1
	}
	return deviation
}
