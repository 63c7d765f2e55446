package policy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/pkgmanager"
	"github.com/sensorfabric/sensord/internal/privacy"
)

func newTestPolicy() (*Policy, *pkgmanager.Fake, *privacy.Software) {
	pkgmgr := pkgmanager.NewFake()
	priv := privacy.NewSoftware()
	fakeAppOps := &fakeAppOps{allowed: make(map[string]bool)}
	p := New(pkgmgr, fakeAppOps, priv, zerolog.Nop())
	return p, pkgmgr, priv
}

type fakeAppOps struct {
	allowed map[string]bool
}

func (f *fakeAppOps) CheckOp(pkg, op string) AppOpMode {
	if f.allowed[pkg+"|"+op] {
		return AppOpAllowed
	}
	return AppOpIgnored
}

func TestUIDActiveDefaultsFalse(t *testing.T) {
	p, _, _ := newTestPolicy()
	if p.IsUIDActive(1234) {
		t.Error("expected UID inactive by default")
	}
	p.SetUIDActive(1234, true)
	if !p.IsUIDActive(1234) {
		t.Error("expected UID active after SetUIDActive(true)")
	}
}

func TestUIDActiveOverrideWinsOverSetUIDActive(t *testing.T) {
	p, _, _ := newTestPolicy()
	p.SetUIDActive(1234, true)
	p.SetUIDActiveOverride(1234, false)
	if p.IsUIDActive(1234) {
		t.Error("expected override to win over underlying active state")
	}
	p.ClearUIDActiveOverride(1234)
	if !p.IsUIDActive(1234) {
		t.Error("expected underlying active state to resurface after clearing override")
	}
}

func TestSensorPrivacyEnabledMirrorsManager(t *testing.T) {
	p, _, priv := newTestPolicy()
	if p.SensorPrivacyEnabled() {
		t.Error("expected privacy disabled by default")
	}
	priv.SetEnabled(true)
	if !p.SensorPrivacyEnabled() {
		t.Error("expected privacy enabled after SetEnabled(true)")
	}
}

func TestSensorPrivacyEnabledNilManagerIsFalse(t *testing.T) {
	p := New(pkgmanager.NewFake(), nil, nil, zerolog.Nop())
	if p.SensorPrivacyEnabled() {
		t.Error("expected false with nil privacy manager")
	}
}

func TestMicToggleEnabled(t *testing.T) {
	p, _, _ := newTestPolicy()
	if p.MicToggleEnabled() {
		t.Error("expected mic toggle disabled by default")
	}
	p.SetMicToggleEnabled(true)
	if !p.MicToggleEnabled() {
		t.Error("expected mic toggle enabled after set")
	}
}
