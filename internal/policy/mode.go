package policy

import (
	"fmt"

	"github.com/sensorfabric/sensord/internal/sensor"
	"github.com/sensorfabric/sensord/internal/status"
)

// Effects are the side effects an operating-mode transition drives on its
// collaborators. The policy package only owns the state machine; the
// service wires these callbacks to the real HAL and Connection Holder so
// that dispatch never has to know about mode transitions directly.
type Effects interface {
	DisableAllSensors() error
	EnableAllSensors() error
	SetHALMode(mode sensor.Mode) error
	PauseDirectConnections()
	ResumeDirectConnections()
}

// IsUserBuild gates replay/HAL-bypass injection modes, which are rejected
// outright on user-build images.
var IsUserBuild = true

// Mode returns the current operating mode.
func (p *Policy) Mode() sensor.Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sensor.Mode(p.mode)
}

// AllowlistPrefix returns the package-name prefix allowlisted while in
// Restricted mode.
func (p *Policy) AllowlistPrefix() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.allowlistPrefix
}

// IsAllowlisted reports whether pkg may operate under the current
// restrictive mode: Restricted gates by prefix, the injection modes gate
// by exact membership in the allowlist set.
func (p *Policy) IsAllowlisted(pkg string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch sensor.Mode(p.mode) {
	case sensor.ModeRestricted:
		return p.allowlistPrefix != "" && len(pkg) >= len(p.allowlistPrefix) && pkg[:len(p.allowlistPrefix)] == p.allowlistPrefix
	case sensor.ModeDataInjection, sensor.ModeReplayDataInjection, sensor.ModeHalBypassReplayInjection:
		return p.allowlist[pkg]
	default:
		return true
	}
}

// Transition drives the operating-mode state machine. Any transition not
// listed in the table returns status.InvalidOperation.
func (p *Policy) Transition(target sensor.Mode, allowlistPrefix string, allowlist []string, eff Effects) error {
	p.mu.Lock()
	from := sensor.Mode(p.mode)
	p.mu.Unlock()

	switch {
	case from == sensor.ModeNormal && target == sensor.ModeRestricted:
		if err := eff.DisableAllSensors(); err != nil {
			return status.Wrap(status.TransactionFailed, "disable all sensors entering restricted mode", err)
		}
		eff.PauseDirectConnections()
		p.setMode(target, allowlistPrefix, nil)
		return nil

	case from == sensor.ModeRestricted && target == sensor.ModeNormal:
		if err := eff.EnableAllSensors(); err != nil {
			return status.Wrap(status.TransactionFailed, "re-enable all sensors leaving restricted mode", err)
		}
		eff.ResumeDirectConnections()
		p.setMode(target, "", nil)
		return nil

	case from == sensor.ModeNormal && target == sensor.ModeDataInjection:
		if err := eff.SetHALMode(sensor.ModeDataInjection); err != nil {
			return status.Wrap(status.TransactionFailed, "hal set_mode(DATA_INJECTION)", err)
		}
		p.setMode(target, "", allowlist)
		return nil

	case from == sensor.ModeNormal && target == sensor.ModeHalBypassReplayInjection:
		if IsUserBuild {
			return status.New(status.InvalidOperation, "hal-bypass replay injection is rejected on user builds")
		}
		p.setMode(target, "", allowlist)
		return nil

	case from == sensor.ModeNormal && target == sensor.ModeReplayDataInjection:
		if IsUserBuild {
			return status.New(status.InvalidOperation, "replay data injection is rejected on user builds")
		}
		if err := eff.SetHALMode(sensor.ModeDataInjection); err != nil {
			return status.Wrap(status.TransactionFailed, "hal set_mode(DATA_INJECTION) for replay", err)
		}
		p.setMode(target, "", allowlist)
		return nil

	case from.IsInjection() && target == sensor.ModeNormal:
		if err := eff.SetHALMode(sensor.ModeNormal); err != nil {
			return status.Wrap(status.TransactionFailed, "hal set_mode(NORMAL)", err)
		}
		if err := eff.EnableAllSensors(); err != nil {
			return status.Wrap(status.TransactionFailed, "re-enable all sensors leaving injection mode", err)
		}
		p.setMode(target, "", nil)
		return nil

	default:
		return status.New(status.InvalidOperation, fmt.Sprintf("no transition from %s to %s", from, target))
	}
}

func (p *Policy) setMode(target sensor.Mode, allowlistPrefix string, allowlist []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = int(target)
	p.allowlistPrefix = allowlistPrefix
	p.allowlist = make(map[string]bool, len(allowlist))
	for _, pkg := range allowlist {
		p.allowlist[pkg] = true
	}
}
