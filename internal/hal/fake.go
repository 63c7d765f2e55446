package hal

import (
	"context"
	"sync"

	"github.com/sensorfabric/sensord/internal/sensor"
)

// Fake is a deterministic, in-process stand-in for a real HAL driver. It
// lets dispatch-loop tests push exact event batches and observe exactly
// which Activate/Batch/Flush/SetMode calls the core made, instead of
// talking to real hardware.
type Fake struct {
	mu sync.Mutex

	sensors []sensor.Sensor

	pending    [][]sensor.Event
	signal     chan struct{}
	dead       bool
	reconnects int

	// Call logs, inspected by tests.
	ActivateCalls []ActivateCall
	BatchCalls    []BatchCall
	FlushCalls    []sensor.Handle
	ModeCalls     []sensor.Mode
	InjectCalls   []sensor.Event
	WakeLockCalls []int

	dynamicHandles []sensor.Handle
	dynamicInfo    map[sensor.Handle]sensor.Sensor
}

type ActivateCall struct {
	Handle sensor.Handle
	Enable bool
}

type BatchCall struct {
	Handle    sensor.Handle
	Flags     sensor.BatchFlags
	PeriodNs  int64
	LatencyNs int64
}

// NewFake builds a Fake seeded with the given static sensor list.
func NewFake(sensors []sensor.Sensor) *Fake {
	return &Fake{
		sensors:     append([]sensor.Sensor(nil), sensors...),
		signal:      make(chan struct{}, 1),
		dynamicInfo: make(map[sensor.Handle]sensor.Sensor),
	}
}

func (f *Fake) wake() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// NewDynamicSensor builds a Sensor descriptor for a hot-plugged dynamic
// sensor with a freshly minted identity, ready to be registered and then
// announced via a DYNAMIC_SENSOR_META connect event.
func NewDynamicSensor(handle sensor.Handle, typ sensor.Type, name string) sensor.Sensor {
	return sensor.Sensor{
		Handle:        handle,
		Type:          typ,
		Name:          name,
		ReportingMode: sensor.ReportingContinuous,
		Flags:         sensor.FlagDynamic,
		UUID:          sensor.NewDynamicSensorUUID(),
	}
}

// AnnounceDynamicSensor makes s available from DynamicSensorInfo, modeling
// the driver-side descriptor a real dynamic sensor exposes at hot-plug time
// alongside its DYNAMIC_SENSOR_META connect event.
func (f *Fake) AnnounceDynamicSensor(s sensor.Sensor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dynamicInfo[s.Handle] = s
}

// PushBatch enqueues a batch of events for the next Poll call(s) to drain.
func (f *Fake) PushBatch(events []sensor.Event) {
	f.mu.Lock()
	f.pending = append(f.pending, append([]sensor.Event(nil), events...))
	f.mu.Unlock()
	f.wake()
}

// KillAndMarkReconnecting simulates a dropped HAL connection: the next
// Poll returns ErrDeadObject and IsReconnecting reports true until
// Reconnect is called.
func (f *Fake) KillAndMarkReconnecting() {
	f.mu.Lock()
	f.dead = true
	f.mu.Unlock()
	f.wake()
}

func (f *Fake) InitCheck() error { return nil }

func (f *Fake) SensorList() []sensor.Sensor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sensor.Sensor(nil), f.sensors...)
}

func (f *Fake) Poll(ctx context.Context, buf []sensor.Event) (int, error) {
	for {
		f.mu.Lock()
		if f.dead {
			f.mu.Unlock()
			return 0, ErrDeadObject
		}
		if len(f.pending) > 0 {
			batch := f.pending[0]
			f.pending = f.pending[1:]
			n := copy(buf, batch)
			f.mu.Unlock()
			return n, nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-f.signal:
		}
	}
}

func (f *Fake) Activate(handle sensor.Handle, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ActivateCalls = append(f.ActivateCalls, ActivateCall{handle, enable})
	return nil
}

func (f *Fake) Batch(handle sensor.Handle, flags sensor.BatchFlags, periodNs, latencyNs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BatchCalls = append(f.BatchCalls, BatchCall{handle, flags, periodNs, latencyNs})
	return nil
}

func (f *Fake) Flush(handle sensor.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FlushCalls = append(f.FlushCalls, handle)
	return nil
}

func (f *Fake) InjectSensorData(evt sensor.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InjectCalls = append(f.InjectCalls, evt)
	return nil
}

func (f *Fake) SetMode(mode sensor.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ModeCalls = append(f.ModeCalls, mode)
	return nil
}

func (f *Fake) WriteWakeLockHandled(count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WakeLockCalls = append(f.WakeLockCalls, count)
	return nil
}

func (f *Fake) RegisterDirectChannel(mem DirectChannelMemory) (ChannelHandle, error) {
	return ChannelHandle(mem.FD), nil
}

func (f *Fake) ConfigureDirectChannel(channel ChannelHandle, sensorHandle sensor.Handle, rateLevel int32) error {
	return nil
}

func (f *Fake) UnregisterDirectChannel(channel ChannelHandle) error { return nil }

func (f *Fake) HandleDynamicSensorConnection(handle sensor.Handle, connected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if connected {
		f.dynamicHandles = append(f.dynamicHandles, handle)
	} else {
		for i, h := range f.dynamicHandles {
			if h == handle {
				f.dynamicHandles = append(f.dynamicHandles[:i], f.dynamicHandles[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (f *Fake) DynamicSensorInfo(handle sensor.Handle) (sensor.Sensor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.dynamicInfo[handle]
	return s, ok
}

func (f *Fake) IsReconnecting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dead
}

func (f *Fake) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = false
	f.reconnects++
	return nil
}

func (f *Fake) GetDynamicSensorHandles() []sensor.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sensor.Handle(nil), f.dynamicHandles...)
}

func (f *Fake) EnableAllSensors() error  { return nil }
func (f *Fake) DisableAllSensors() error { return nil }

func (f *Fake) SetUIDStateForConnection(connectionID int64, active bool) error { return nil }
