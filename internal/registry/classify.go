package registry

import "github.com/sensorfabric/sensord/internal/sensor"

// Capabilities summarizes which base physical sensors a HAL supplies,
// used to decide which software virtual sensors must be synthesized.
type Capabilities struct {
	HasAccel bool
	HasGyro  bool
	HasMag   bool

	HasGravity            bool
	HasLinearAcceleration  bool
	HasRotationVector      bool
	HasGeomagneticRotation bool
	HasGameRotation        bool

	Automotive bool
}

// DetectCapabilities classifies a raw HAL sensor list into a Capabilities
// summary.
func DetectCapabilities(list []sensor.Sensor) Capabilities {
	var c Capabilities
	for _, s := range list {
		switch s.Type {
		case sensor.TypeAccelerometer:
			c.HasAccel = true
		case sensor.TypeGyroscope:
			c.HasGyro = true
		case sensor.TypeMagneticField:
			c.HasMag = true
		case sensor.TypeGravity:
			c.HasGravity = true
		case sensor.TypeLinearAcceleration:
			c.HasLinearAcceleration = true
		case sensor.TypeRotationVector:
			c.HasRotationVector = true
		case sensor.TypeGeomagneticRotationVector:
			c.HasGeomagneticRotation = true
		case sensor.TypeGameRotationVector:
			c.HasGameRotation = true
		}
	}
	return c
}

// VirtualPlan is the set of virtual sensor types that must be synthesized
// in software because the HAL does not already supply them, plus, in
// automotive mode, the limited-axes IMU family layered on top of the base
// sensors that do exist.
type VirtualPlan struct {
	Types         []sensor.Type
	LimitedAxes   []sensor.Type
}

// Plan decides the synthesized set: the complement of what the HAL
// already supplies among
// {gravity, linear-acc, rotation-vector, geomagnetic-rotation-vector, game-rotation-vector}.
func Plan(c Capabilities) VirtualPlan {
	var p VirtualPlan

	if c.HasGyro && c.HasAccel && c.HasMag {
		// Orientation is derived from rotation vector; always synthesized
		// alongside it when the HAL lacks a native rotation vector sensor.
		if !c.HasRotationVector {
			p.Types = append(p.Types, sensor.TypeRotationVector, sensor.TypeOrientation)
		}
	}
	if c.HasGyro && c.HasAccel {
		if !c.HasGravity {
			p.Types = append(p.Types, sensor.TypeGravity)
		}
		if !c.HasLinearAcceleration {
			p.Types = append(p.Types, sensor.TypeLinearAcceleration)
		}
		if !c.HasGameRotation {
			p.Types = append(p.Types, sensor.TypeGameRotationVector)
		}
	}
	if c.HasAccel && c.HasMag {
		if !c.HasGeomagneticRotation {
			p.Types = append(p.Types, sensor.TypeGeomagneticRotationVector)
		}
	}

	if c.Automotive {
		if c.HasAccel {
			p.LimitedAxes = append(p.LimitedAxes, sensor.TypeAccelerometerLimitedAxes)
		}
		if c.HasGyro {
			p.LimitedAxes = append(p.LimitedAxes, sensor.TypeGyroscopeLimitedAxes)
		}
	}

	return p
}
