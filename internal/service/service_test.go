package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/config"
	"github.com/sensorfabric/sensord/internal/hal"
	"github.com/sensorfabric/sensord/internal/pkgmanager"
	"github.com/sensorfabric/sensord/internal/policy"
	"github.com/sensorfabric/sensord/internal/privacy"
	"github.com/sensorfabric/sensord/internal/sensor"
)

type fakeAppOps struct{}

func (fakeAppOps) CheckOp(pkg, op string) policy.AppOpMode { return policy.AppOpIgnored }

func newTestService(t *testing.T, sensors []sensor.Sensor) *Service {
	t.Helper()
	cfg := &config.Config{
		ServiceDir:       t.TempDir(),
		RegistrationRing: 64,
		ConnectionQueue:  64,
	}
	deps := Deps{
		HAL:        hal.NewFake(sensors),
		PkgManager: pkgmanager.NewFake(),
		Privacy:    privacy.NewSoftware(),
		AppOps:     fakeAppOps{},
		Version:    "test",
	}
	svc, err := New(cfg, deps, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return svc
}

func TestNewRegistersHALSensors(t *testing.T) {
	svc := newTestService(t, []sensor.Sensor{{Handle: 1, Type: sensor.TypeAccelerometer}})
	if _, ok := svc.Registry.Lookup(1); !ok {
		t.Error("expected HAL sensor registered")
	}
}

func TestNewRejectsDuplicateHALHandles(t *testing.T) {
	cfg := &config.Config{ServiceDir: t.TempDir()}
	deps := Deps{
		HAL: hal.NewFake([]sensor.Sensor{
			{Handle: 1, Type: sensor.TypeAccelerometer},
			{Handle: 1, Type: sensor.TypeGyroscope},
		}),
		PkgManager: pkgmanager.NewFake(),
		Privacy:    privacy.NewSoftware(),
		AppOps:     fakeAppOps{},
		Version:    "test",
	}
	if _, err := New(cfg, deps, zerolog.Nop()); err == nil {
		t.Fatal("expected an error for colliding HAL sensor handles")
	}
}

func TestNextConnectionIDIsMonotonic(t *testing.T) {
	svc := newTestService(t, nil)
	first := svc.NextConnectionID()
	second := svc.NextConnectionID()
	if second != first+1 {
		t.Errorf("expected monotonically increasing IDs, got %d then %d", first, second)
	}
}

func TestRequestModeTransitionRecordsMetric(t *testing.T) {
	svc := newTestService(t, nil)
	if err := svc.RequestModeTransition(sensor.ModeRestricted, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Policy.Mode() != sensor.ModeRestricted {
		t.Errorf("expected policy mode restricted, got %v", svc.Policy.Mode())
	}
}

func TestInjectRuntimeEventReachesRuntimeLoop(t *testing.T) {
	svc := newTestService(t, nil)
	svc.Registry.Add(sensor.Sensor{Handle: sensor.RuntimeHandleBase, Type: sensor.TypeHeartRate}, false, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.runtimeLoop.Run(ctx)

	svc.InjectRuntimeEvent(sensor.Event{SensorHandle: sensor.RuntimeHandleBase, Type: sensor.TypeHeartRate, TimestampNs: 1})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := svc.Recent.Get(sensor.RuntimeHandleBase); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the injected event to reach the recent log via the runtime loop")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected Run to surface the context cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}

func TestShutdownWithoutStartedServersIsNoOp(t *testing.T) {
	svc := newTestService(t, nil)
	svc.Shutdown(context.Background())
}
