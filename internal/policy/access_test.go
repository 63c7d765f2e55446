package policy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/sensor"
	"github.com/sensorfabric/sensord/internal/status"
)

func TestCanAccessNoPermissionRequiredAlwaysAllowed(t *testing.T) {
	p, _, _ := newTestPolicy()
	s := sensor.Sensor{Type: sensor.TypeAccelerometer}
	if !p.CanAccess(s, "com.example.app", 10100) {
		t.Error("expected access without a required permission to be allowed")
	}
}

func TestCanAccessHeadTrackerGatedToSystemCallers(t *testing.T) {
	p, _, _ := newTestPolicy()
	s := sensor.Sensor{Type: sensor.TypeHeadTracker}

	if p.CanAccess(s, "com.example.app", 10100) {
		t.Error("expected non-system caller to be denied head-tracker access")
	}
	if !p.CanAccess(s, "android", headTrackerSystemUID) {
		t.Error("expected system UID to be allowed head-tracker access")
	}
	if !p.CanAccess(s, "android.audio", headTrackerAudioUID) {
		t.Error("expected audio UID to be allowed head-tracker access")
	}
}

func TestCanAccessHeadTrackerLiftedOverride(t *testing.T) {
	p, _, _ := newTestPolicy()
	s := sensor.Sensor{Type: sensor.TypeHeadTracker}
	p.LiftHeadTrackerRestriction(true)
	if !p.CanAccess(s, "com.example.app", 10100) {
		t.Error("expected lifted restriction to allow non-system caller")
	}
}

func TestCanAccessRequiredPermissionDeniedWithoutAppOp(t *testing.T) {
	p, pkgmgr, _ := newTestPolicy()
	_ = pkgmgr
	s := sensor.Sensor{Type: sensor.TypeHeartRate, RequiredPermission: "android.permission.BODY_SENSORS", RequiredAppOp: "android:body_sensors"}
	if p.CanAccess(s, "com.example.app", 10100) {
		t.Error("expected access denied when app-op is not granted")
	}
}

func TestCanAccessRequiredPermissionAllowedWithAppOp(t *testing.T) {
	p, _, _ := newTestPolicy()
	p.appops.(*fakeAppOps).allowed["com.example.app|android:body_sensors"] = true
	s := sensor.Sensor{Type: sensor.TypeHeartRate, RequiredPermission: "android.permission.BODY_SENSORS", RequiredAppOp: "android:body_sensors"}
	if !p.CanAccess(s, "com.example.app", 10100) {
		t.Error("expected access allowed when app-op is granted")
	}
}

func TestCanAccessSystemUIDBypassesPermission(t *testing.T) {
	p, _, _ := newTestPolicy()
	s := sensor.Sensor{Type: sensor.TypeHeartRate, RequiredPermission: "android.permission.BODY_SENSORS"}
	if !p.CanAccess(s, "android", headTrackerSystemUID) {
		t.Error("expected system UID to bypass permission checks")
	}
}

func TestCanAccessLegacyStepCounterExemptedByTargetSDK(t *testing.T) {
	p, pkgmgr, _ := newTestPolicy()
	pkgmgr.SetTargetSDK("com.legacy.app", 22)
	s := sensor.Sensor{Type: sensor.TypeStepCounter, RequiredPermission: "android.permission.ACTIVITY_RECOGNITION"}
	if !p.CanAccess(s, "com.legacy.app", 10100) {
		t.Error("expected legacy-targeting app to be exempt from step-counter permission")
	}
}

func TestCanAccessModernStepCounterStillRequiresPermission(t *testing.T) {
	p, pkgmgr, _ := newTestPolicy()
	pkgmgr.SetTargetSDK("com.modern.app", 34)
	s := sensor.Sensor{Type: sensor.TypeStepCounter, RequiredPermission: "android.permission.ACTIVITY_RECOGNITION", RequiredAppOp: "android:activity_recognition"}
	if p.CanAccess(s, "com.modern.app", 10100) {
		t.Error("expected modern-targeting app to still need the permission")
	}
}

func TestCanAccessNilPkgManagerDeniesPermissionedSensor(t *testing.T) {
	p := New(nil, nil, nil, zerolog.Nop())
	s := sensor.Sensor{Type: sensor.TypeHeartRate, RequiredPermission: "android.permission.BODY_SENSORS"}
	if p.CanAccess(s, "com.example.app", 10100) {
		t.Error("expected denial with no package manager wired")
	}
}

func TestIsRateCappedByPermissionPreSExempt(t *testing.T) {
	p, pkgmgr, _ := newTestPolicy()
	pkgmgr.SetTargetSDK("com.legacy.app", 29)
	if p.IsRateCappedByPermission("com.legacy.app") {
		t.Error("expected pre-S targeting app to be exempt from the rate cap")
	}
}

func TestIsRateCappedByPermissionGrantedAppOpExempts(t *testing.T) {
	p, pkgmgr, _ := newTestPolicy()
	pkgmgr.SetTargetSDK("com.modern.app", 34)
	p.appops.(*fakeAppOps).allowed["com.modern.app|android:high_sampling_rate_sensors"] = true
	if p.IsRateCappedByPermission("com.modern.app") {
		t.Error("expected granted high-sampling-rate app-op to exempt from the cap")
	}
}

func TestIsRateCappedByPermissionDefaultCapped(t *testing.T) {
	p, pkgmgr, _ := newTestPolicy()
	pkgmgr.SetTargetSDK("com.modern.app", 34)
	if !p.IsRateCappedByPermission("com.modern.app") {
		t.Error("expected modern app without the app-op to be capped")
	}
}

func TestAdjustSamplingPeriodClampsForCappedApp(t *testing.T) {
	p, pkgmgr, _ := newTestPolicy()
	pkgmgr.SetTargetSDK("com.modern.app", 34)
	got, err := p.AdjustSamplingPeriod(1_000_000, "com.modern.app", defaultCapPeriodNs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != defaultCapPeriodNs {
		t.Errorf("expected clamp to cap %d, got %d", defaultCapPeriodNs, got)
	}
}

func TestAdjustSamplingPeriodDebuggableAppGetsError(t *testing.T) {
	p, pkgmgr, _ := newTestPolicy()
	pkgmgr.SetTargetSDK("com.debug.app", 34)
	pkgmgr.SetDebuggable("com.debug.app", true)
	_, err := p.AdjustSamplingPeriod(1_000_000, "com.debug.app", defaultCapPeriodNs)
	if err == nil {
		t.Fatal("expected error for debuggable app requesting too-fast sampling")
	}
	if status.Of(err) != status.PermissionDenied {
		t.Errorf("expected PermissionDenied, got %v", status.Of(err))
	}
}

func TestAdjustSamplingPeriodUncappedAppsPassThrough(t *testing.T) {
	p, pkgmgr, _ := newTestPolicy()
	pkgmgr.SetTargetSDK("com.legacy.app", 29)
	got, err := p.AdjustSamplingPeriod(1_000, "com.legacy.app", defaultCapPeriodNs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1_000 {
		t.Errorf("expected period unchanged for exempt app, got %d", got)
	}
}

func TestApplyMicToggleCapEngagedRaisesSlowPeriod(t *testing.T) {
	p, _, _ := newTestPolicy()
	p.SetMicToggleEnabled(true)
	got := p.ApplyMicToggleCap(1_000, defaultCapPeriodNs)
	if got != defaultCapPeriodNs {
		t.Errorf("expected period raised to cap, got %d", got)
	}
}

func TestApplyMicToggleCapDisabledPassesThrough(t *testing.T) {
	p, _, _ := newTestPolicy()
	got := p.ApplyMicToggleCap(1_000, defaultCapPeriodNs)
	if got != 1_000 {
		t.Errorf("expected period unchanged when mic toggle disabled, got %d", got)
	}
}
