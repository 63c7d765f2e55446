package connection

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/hal"
)

func newTestDirectConnection(t *testing.T) (*DirectConnection, *hal.Fake) {
	t.Helper()
	fakeHAL := hal.NewFake(nil)
	mem := hal.DirectChannelMemory{FD: 3, SizeByte: 4096, Format: hal.FormatSensorEvent}
	d, err := NewDirectConnection(1, "com.example.app", 10100, mem, fakeHAL, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDirectConnection failed: %v", err)
	}
	return d, fakeHAL
}

func TestNewDirectConnectionRejectsUnsupportedFormat(t *testing.T) {
	fakeHAL := hal.NewFake(nil)
	mem := hal.DirectChannelMemory{FD: 3, SizeByte: 4096, Format: hal.FormatAshmem}
	if _, err := NewDirectConnection(1, "com.example.app", 10100, mem, fakeHAL, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unsupported memory format")
	}
}

func TestDirectConnectionConfigureDefaultDevice(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	if err := d.Configure(1, 0, 5); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if d.rates[1] != 5 {
		t.Errorf("expected rate 5 recorded, got %d", d.rates[1])
	}
}

func TestDirectConnectionConfigureZeroRateClearsEntry(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	d.Configure(1, 0, 5)
	if err := d.Configure(1, 0, 0); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if _, ok := d.rates[1]; ok {
		t.Error("expected rate entry cleared when rate set to 0")
	}
}

func TestDirectConnectionConfigureNonDefaultDeviceRequiresRouter(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	if err := d.Configure(1, 1, 5); err == nil {
		t.Fatal("expected error when no router registered for non-default device")
	}
}

func TestDirectConnectionPauseResumeRestoresRates(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	d.Configure(1, 0, 5)
	d.Configure(2, 0, 8)

	d.Pause()
	if d.rates[1] != 0 || d.rates[2] != 0 {
		t.Errorf("expected rates zeroed after pause, got %v", d.rates)
	}

	d.Resume()
	if d.rates[1] != 5 || d.rates[2] != 8 {
		t.Errorf("expected rates restored after resume, got %v", d.rates)
	}
}

func TestDirectConnectionPauseIsNoOpWhenAlreadyPaused(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	d.Configure(1, 0, 5)
	d.Pause()
	d.Configure(1, 0, 9) // simulate a rate change while paused, bypassing backup intentionally
	d.Pause()            // second pause should not re-snapshot
	d.Resume()
	if d.rates[1] != 5 {
		t.Errorf("expected first pause's backup preserved, got %d", d.rates[1])
	}
}

func TestDirectConnectionMicToggleCapClampsAboveLevel(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	d.Configure(1, 0, 10)
	d.Configure(2, 0, 2)

	d.ApplyMicToggleCap(5)
	if d.rates[1] != 5 {
		t.Errorf("expected rate above cap clamped to 5, got %d", d.rates[1])
	}
	if d.rates[2] != 2 {
		t.Errorf("expected rate already below cap left unchanged, got %d", d.rates[2])
	}

	d.ReleaseMicToggleCap()
	if d.rates[1] != 10 {
		t.Errorf("expected original rate restored after release, got %d", d.rates[1])
	}
}

func TestDirectConnectionMicToggleCapEngagedWhilePausedDoesNotUnpause(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	d.Configure(1, 0, 10)

	d.Pause()
	d.ApplyMicToggleCap(5)
	if d.rates[1] != 0 {
		t.Errorf("expected rate to stay zeroed while paused, got %d", d.rates[1])
	}

	d.ReleaseMicToggleCap()
	if d.rates[1] != 0 {
		t.Errorf("expected releasing the cap while still paused to leave the rate zeroed, got %d", d.rates[1])
	}

	d.Resume()
	if d.rates[1] != 10 {
		t.Errorf("expected resume to restore the original rate once the cap was already released, got %d", d.rates[1])
	}
}

func TestDirectConnectionResumeRespectsStillActiveMicCap(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	d.Configure(1, 0, 10)

	d.Pause()
	d.ApplyMicToggleCap(5)
	d.Resume()
	if d.rates[1] != 5 {
		t.Errorf("expected resume to clamp to the still-active mic cap, got %d", d.rates[1])
	}

	d.ReleaseMicToggleCap()
	if d.rates[1] != 10 {
		t.Errorf("expected releasing the cap after resume to restore the original rate, got %d", d.rates[1])
	}
}

func TestDirectConnectionDestroyIsIdempotent(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	if err := d.Destroy(); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if err := d.Destroy(); err != nil {
		t.Fatalf("second destroy should be a no-op, got error: %v", err)
	}
}

func TestDirectConnectionConfigureAfterDestroyFails(t *testing.T) {
	d, _ := newTestDirectConnection(t)
	d.Destroy()
	if err := d.Configure(1, 0, 5); err == nil {
		t.Fatal("expected error configuring a destroyed connection")
	}
}
