// Package policy implements the UID-active state, sensor-privacy mirror,
// microphone-toggle cap, operating-mode machine, and permission/app-op
// access gates.
package policy

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/pkgmanager"
	"github.com/sensorfabric/sensord/internal/privacy"
)

// AppOpMode mirrors the platform app-op verdicts consulted by can_access.
type AppOpMode int

const (
	AppOpAllowed AppOpMode = iota
	AppOpIgnored
	AppOpErrored
)

// AppOps resolves the runtime app-op decision for a (package, op) pair.
// A production build talks to the platform app-ops service; that
// binding is out of scope for this module.
type AppOps interface {
	CheckOp(pkg string, op string) AppOpMode
}

// Policy is the single mutable source of truth for UID activity, privacy,
// mic-toggle, and operating mode. Callers take Policy's own mutex, which
// is intentionally separate from (and narrower than) the registry's outer
// lock since UID/mode reads happen on the hot fan-out path.
type Policy struct {
	mu sync.RWMutex

	uidActive    map[uint32]bool
	uidOverrides map[uint32]bool // test overrides win over uidActive

	privacy           privacy.Manager
	micToggleEnabled  bool
	headTrackerLifted bool // test override lifting the head-tracker restriction

	mode            sensorMode
	allowlist       map[string]bool
	allowlistPrefix string

	pkgmgr pkgmanager.Manager
	appops AppOps

	log zerolog.Logger
}

// sensorMode stores the operating mode as a plain int; mode.go converts it
// to and from sensor.Mode and holds the state machine.
type sensorMode = int

const (
	headTrackerSystemUID = 1000
	headTrackerAudioUID  = 1041
	legacyStepSDK         = 28 // SDK_INT for Android P
	defaultCapPeriodNs    = 20_000_000
)

// New builds a Policy with all UIDs initially inactive and the operating
// mode set to Normal.
func New(pkgmgr pkgmanager.Manager, appops AppOps, priv privacy.Manager, log zerolog.Logger) *Policy {
	return &Policy{
		uidActive:    make(map[uint32]bool),
		uidOverrides: make(map[uint32]bool),
		privacy:      priv,
		allowlist:    make(map[string]bool),
		pkgmgr:       pkgmgr,
		appops:       appops,
		log:          log.With().Str("component", "policy").Logger(),
	}
}

// SetUIDActive records whether uid currently has an active (foreground or
// otherwise permitted) process.
func (p *Policy) SetUIDActive(uid uint32, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uidActive[uid] = active
}

// SetUIDActiveOverride forces uid's active state for testing, independent
// of SetUIDActive. Pass active=nil-equivalent (use ClearUIDActiveOverride)
// to remove the override.
func (p *Policy) SetUIDActiveOverride(uid uint32, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uidOverrides[uid] = active
}

func (p *Policy) ClearUIDActiveOverride(uid uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.uidOverrides, uid)
}

// IsUIDActive reports whether uid is currently considered active.
func (p *Policy) IsUIDActive(uid uint32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.uidOverrides[uid]; ok {
		return v
	}
	return p.uidActive[uid]
}

// SensorPrivacyEnabled reports the mirrored platform sensor-privacy flag.
func (p *Policy) SensorPrivacyEnabled() bool {
	if p.privacy == nil {
		return false
	}
	return p.privacy.IsSensorPrivacyEnabled()
}

// SetMicToggleEnabled engages or releases the microphone-toggle rate cap.
func (p *Policy) SetMicToggleEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.micToggleEnabled = enabled
}

func (p *Policy) MicToggleEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.micToggleEnabled
}

// LiftHeadTrackerRestriction is a test-only override of the default
// head-tracker access restriction.
func (p *Policy) LiftHeadTrackerRestriction(lifted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headTrackerLifted = lifted
}

func normalizePackage(pkg string) string {
	return strings.TrimSpace(pkg)
}
