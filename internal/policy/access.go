package policy

import (
	"fmt"

	"github.com/sensorfabric/sensord/internal/sensor"
	"github.com/sensorfabric/sensord/internal/status"
)

const (
	opHighSamplingRate = "android:high_sampling_rate_sensors"
	sdkS                = 31 // SDK_INT for Android S; pre-S targets are exempt from the cap
)

// CanAccess decides whether opPackage may access sensor s at all, applying
// the head-tracker system-caller gate and required-permission/app-op checks.
func (p *Policy) CanAccess(s sensor.Sensor, opPackage string, callerUID uint32) bool {
	opPackage = normalizePackage(opPackage)

	if s.Type == sensor.TypeHeadTracker {
		p.mu.RLock()
		lifted := p.headTrackerLifted
		p.mu.RUnlock()
		if !lifted && callerUID != headTrackerSystemUID && callerUID != headTrackerAudioUID {
			return false
		}
	}

	if s.RequiredPermission == "" {
		return true
	}

	if callerUID == headTrackerSystemUID {
		return true
	}

	if s.Type == sensor.TypeStepCounter || s.Type == sensor.TypeStepDetector {
		if p.pkgmgr != nil && p.pkgmgr.GetTargetSDKVersion(opPackage) <= legacyStepSDK {
			return true
		}
	}

	if p.pkgmgr == nil {
		return false
	}
	// Permission check modeled abstractly: a package manager fake reports
	// permission grants via the app-op channel in tests, since the
	// platform permission-grant API is out of this module's scope.
	// Production wiring replaces appops with a client that also consults
	// the runtime permission grant state.
	if p.appops == nil {
		return false
	}
	if s.RequiredAppOp == "" {
		return true
	}
	return p.appops.CheckOp(opPackage, s.RequiredAppOp) == AppOpAllowed
}

// IsRateCappedByPermission reports whether an app's effective sampling rate
// is capped: capped unless it holds the high-sampling-rate permission or
// targets pre-S.
func (p *Policy) IsRateCappedByPermission(opPackage string) bool {
	opPackage = normalizePackage(opPackage)
	if p.pkgmgr != nil && p.pkgmgr.GetTargetSDKVersion(opPackage) < sdkS {
		return false
	}
	if p.appops != nil && p.appops.CheckOp(opPackage, opHighSamplingRate) == AppOpAllowed {
		return false
	}
	return true
}

// AdjustSamplingPeriod raises too-fast requests to capNs. If the package is debuggable the violation
// is surfaced as PermissionDenied instead of being silently clamped, so
// misuse is visible during development.
func (p *Policy) AdjustSamplingPeriod(periodNs int64, opPackage string, capNs int64) (int64, error) {
	if !p.IsRateCappedByPermission(opPackage) {
		return periodNs, nil
	}
	if periodNs >= capNs {
		return periodNs, nil
	}

	if p.pkgmgr != nil && p.pkgmgr.IsPackageDebuggable(opPackage) {
		return periodNs, status.New(status.PermissionDenied,
			fmt.Sprintf("package %s requested sampling period %dns faster than the %dns cap", opPackage, periodNs, capNs))
	}
	return capNs, nil
}

// ApplyMicToggleCap is the second, orthogonal clamp applied identically to
// AdjustSamplingPeriod when the microphone toggle is engaged.
func (p *Policy) ApplyMicToggleCap(periodNs int64, capNs int64) int64 {
	if !p.MicToggleEnabled() {
		return periodNs
	}
	if periodNs < capNs {
		return capNs
	}
	return periodNs
}
