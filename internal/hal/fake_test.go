package hal

import (
	"context"
	"testing"
	"time"

	"github.com/sensorfabric/sensord/internal/sensor"
)

func TestFakePollReturnsPushedBatch(t *testing.T) {
	f := NewFake(nil)
	f.PushBatch([]sensor.Event{{SensorHandle: 1}, {SensorHandle: 2}})

	buf := make([]sensor.Event, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := f.Poll(ctx, buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}
}

func TestFakePollBlocksUntilPushOrCancel(t *testing.T) {
	f := NewFake(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Poll(ctx, make([]sensor.Event, 1))
	if err != ctx.Err() {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}

func TestFakeKillAndMarkReconnecting(t *testing.T) {
	f := NewFake(nil)
	f.KillAndMarkReconnecting()
	if !f.IsReconnecting() {
		t.Fatal("expected IsReconnecting true after kill")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Poll(ctx, make([]sensor.Event, 1))
	if err != ErrDeadObject {
		t.Fatalf("expected ErrDeadObject, got %v", err)
	}

	if err := f.Reconnect(); err != nil {
		t.Fatalf("unexpected reconnect error: %v", err)
	}
	if f.IsReconnecting() {
		t.Error("expected IsReconnecting false after Reconnect")
	}
}

func TestFakeActivateBatchFlushCallLogs(t *testing.T) {
	f := NewFake(nil)
	f.Activate(1, true)
	f.Batch(1, 0, 20_000_000, 0)
	f.Flush(1)
	f.SetMode(sensor.ModeDataInjection)

	if len(f.ActivateCalls) != 1 || len(f.BatchCalls) != 1 || len(f.FlushCalls) != 1 || len(f.ModeCalls) != 1 {
		t.Fatalf("expected one call logged per method, got %+v", f)
	}
}

func TestFakeHandleDynamicSensorConnectionTracksHandles(t *testing.T) {
	f := NewFake(nil)
	f.HandleDynamicSensorConnection(10, true)
	f.HandleDynamicSensorConnection(11, true)
	if got := f.GetDynamicSensorHandles(); len(got) != 2 {
		t.Fatalf("expected 2 dynamic handles, got %v", got)
	}

	f.HandleDynamicSensorConnection(10, false)
	got := f.GetDynamicSensorHandles()
	if len(got) != 1 || got[0] != 11 {
		t.Errorf("expected only handle 11 remaining, got %v", got)
	}
}

func TestNewDynamicSensorBuildsDynamicDescriptor(t *testing.T) {
	s := NewDynamicSensor(100, sensor.TypeHeartRate, "Heart Rate")
	if !s.IsDynamic() {
		t.Error("expected dynamic flag set")
	}
	if s.Handle != 100 || s.Type != sensor.TypeHeartRate || s.Name != "Heart Rate" {
		t.Errorf("unexpected descriptor %+v", s)
	}
	if s.UUID == ([16]byte{}) {
		t.Error("expected a non-zero minted UUID")
	}
}

func TestFakeSensorListReturnsCopy(t *testing.T) {
	seed := []sensor.Sensor{{Handle: 1, Type: sensor.TypeAccelerometer}}
	f := NewFake(seed)
	list := f.SensorList()
	list[0].Type = sensor.TypeGyroscope
	if f.SensorList()[0].Type != sensor.TypeAccelerometer {
		t.Error("expected SensorList to return an independent copy")
	}
}

func TestFakeDynamicSensorInfoReturnsAnnouncedDescriptor(t *testing.T) {
	f := NewFake(nil)
	if _, ok := f.DynamicSensorInfo(100); ok {
		t.Fatal("expected no descriptor before announcement")
	}

	f.AnnounceDynamicSensor(NewDynamicSensor(100, sensor.TypeHeartRate, "Heart Rate"))
	s, ok := f.DynamicSensorInfo(100)
	if !ok {
		t.Fatal("expected descriptor after announcement")
	}
	if s.Type != sensor.TypeHeartRate || s.Name != "Heart Rate" {
		t.Errorf("unexpected descriptor %+v", s)
	}
}
