// Package service wires every subsystem together the way the ambient
// daemon's top-level Proxy struct wires its own collaborators: one
// struct holding every dependency, a Start that launches the background
// loops, and a graceful Shutdown.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/audit"
	"github.com/sensorfabric/sensord/internal/config"
	"github.com/sensorfabric/sensord/internal/connection"
	"github.com/sensorfabric/sensord/internal/debugws"
	"github.com/sensorfabric/sensord/internal/dispatch"
	"github.com/sensorfabric/sensord/internal/fusion"
	"github.com/sensorfabric/sensord/internal/hal"
	"github.com/sensorfabric/sensord/internal/identity"
	"github.com/sensorfabric/sensord/internal/metrics"
	"github.com/sensorfabric/sensord/internal/pkgmanager"
	"github.com/sensorfabric/sensord/internal/policy"
	"github.com/sensorfabric/sensord/internal/privacy"
	"github.com/sensorfabric/sensord/internal/recent"
	"github.com/sensorfabric/sensord/internal/registry"
	"github.com/sensorfabric/sensord/internal/sensor"
	"github.com/sensorfabric/sensord/internal/wakelock"
	"golang.org/x/sync/errgroup"
)

// Service is the process-wide object every external surface (the cobra
// commands, the debug websocket, the diagnostic dump) reaches through.
type Service struct {
	Config   *config.Config
	HAL      hal.HAL
	Registry *registry.Registry
	Recent   *recent.Log
	Active   *connection.ActiveSet
	Holder   *connection.Holder
	Policy   *policy.Policy
	Wake     *wakelock.Software
	Audit    *audit.Ring
	Identity *identity.Module
	Metrics  *metrics.Metrics
	DebugHub *debugws.Hub

	ack         *connection.AckReceiver
	primary     *dispatch.Loop
	runtimeLoop *dispatch.RuntimeLoop
	injected    *dispatch.InjectedQueue

	connSeq int64
	log     zerolog.Logger
}

// Deps bundles the opaque collaborators the service does not construct
// itself: a real HAL driver (or internal/hal.Fake in tests), the package
// manager, and the sensor-privacy manager.
type Deps struct {
	HAL        hal.HAL
	PkgManager pkgmanager.Manager
	Privacy    privacy.Manager
	AppOps     policy.AppOps
	Version    string
}

// New constructs a Service from cfg and deps, classifying the HAL's
// sensor list and deciding which virtual sensors to synthesize before any
// loop starts.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) (*Service, error) {
	recentLog := recent.New()
	reg := registry.New(recentLog, log)

	for _, s := range deps.HAL.SensorList() {
		if _, ok := reg.Add(s, false, false); !ok {
			return nil, fmt.Errorf("failed to register HAL sensor %d (%s)", s.Handle, s.Type)
		}
	}

	caps := registry.DetectCapabilities(deps.HAL.SensorList())
	caps.Automotive = cfg.Automotive
	plan := registry.Plan(caps)

	fusionState := fusion.NewState()
	virtual := buildVirtualSensors(plan, reg, log)

	idModule, err := identity.Load(cfg.ServiceDir, cfg.IdentityKeyPassphrase, log)
	if err != nil {
		return nil, fmt.Errorf("load identity module: %w", err)
	}

	pol := policy.New(deps.PkgManager, deps.AppOps, deps.Privacy, log)
	wake := wakelock.NewSoftware(log)
	ring := audit.NewRing(cfg.RegistrationRing)
	holder := connection.NewHolder(deps.HAL)
	active := connection.NewActiveSet()
	m := metrics.New(deps.Version, log)

	svc := &Service{
		Config:   cfg,
		HAL:      deps.HAL,
		Registry: reg,
		Recent:   recentLog,
		Active:   active,
		Holder:   holder,
		Policy:   pol,
		Wake:     wake,
		Audit:    ring,
		Identity: idModule,
		Metrics:  m,
		DebugHub: debugws.NewHub(log),
		injected: dispatch.NewInjectedQueue(),
		log:      log.With().Str("component", "service").Logger(),
	}

	metaHandle := hal.MetaSensorHandle
	for _, s := range deps.HAL.SensorList() {
		if s.Type == sensor.TypeMetaData {
			metaHandle = s.Handle
			break
		}
	}

	svc.ack = connection.NewAckReceiver(holder, wake, log)
	svc.primary = dispatch.New(deps.HAL, reg, active, holder, recentLog, wake, fusionState, virtual, metaHandle, log)
	svc.runtimeLoop = dispatch.NewRuntimeLoop(svc.injected, holder, recentLog, log)

	return svc, nil
}

func buildVirtualSensors(plan registry.VirtualPlan, reg *registry.Registry, log zerolog.Logger) []fusion.VirtualSensor {
	var out []fusion.VirtualSensor
	register := func(ctor func(sensor.Handle) fusion.VirtualSensor, name string, reportingMode sensor.ReportingMode) {
		vs := ctor(sensor.InvalidHandle)
		handle, ok := reg.Add(sensor.Sensor{
			Type:          vs.Type,
			Name:          name,
			ReportingMode: reportingMode,
		}, false, true)
		if !ok {
			log.Error().Str("sensor", name).Msg("failed to register virtual sensor")
			return
		}
		vs.Handle = handle
		out = append(out, vs)
	}

	for _, t := range plan.Types {
		switch t {
		case sensor.TypeGravity:
			register(fusion.Gravity, "Gravity", sensor.ReportingContinuous)
		case sensor.TypeLinearAcceleration:
			register(fusion.LinearAcceleration, "Linear Acceleration", sensor.ReportingContinuous)
		case sensor.TypeGameRotationVector:
			register(fusion.GameRotationVector, "Game Rotation Vector", sensor.ReportingContinuous)
		case sensor.TypeRotationVector:
			register(fusion.RotationVector, "Rotation Vector", sensor.ReportingContinuous)
		case sensor.TypeGeomagneticRotationVector:
			register(fusion.GeomagneticRotationVector, "Geomagnetic Rotation Vector", sensor.ReportingContinuous)
		case sensor.TypeOrientation:
			register(fusion.Orientation, "Orientation", sensor.ReportingContinuous)
		}
	}
	for _, t := range plan.LimitedAxes {
		derived := t
		register(func(h sensor.Handle) fusion.VirtualSensor { return fusion.LimitedAxes(h, derived) },
			derived.String()+" (limited axes)", sensor.ReportingContinuous)
	}
	return out
}

// Run starts the primary dispatch loop, the runtime-sensor loop, and the
// ack receiver, blocking until any of them exits or ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.primary.Run(ctx)
	})
	g.Go(func() error {
		s.runtimeLoop.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.ack.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.runDebugBroadcastLoop(ctx)
		return nil
	})

	if addr := s.Config.MetricsAddress; addr != "" {
		if err := s.Metrics.Start(addr); err != nil {
			s.log.Error().Err(err).Msg("failed to start metrics server")
		}
	}
	if addr := s.Config.DebugWSAddress; addr != "" {
		if err := s.DebugHub.Start(addr); err != nil {
			s.log.Error().Err(err).Msg("failed to start debug websocket server")
		}
	}

	return g.Wait()
}

// Shutdown stops background HTTP surfaces. The dispatch goroutines
// themselves stop when the context passed to Run is cancelled.
func (s *Service) Shutdown(ctx context.Context) {
	s.Metrics.Shutdown(ctx)
	s.DebugHub.Shutdown(ctx)
}

// debugSnapshot is what the diagnostic dashboard feed serializes on every
// tick.
type debugSnapshot struct {
	Mode             string `json:"mode"`
	WakelockHeld     bool   `json:"wakelock_held"`
	ActiveSensors    int    `json:"active_sensors"`
	EventConnections int    `json:"event_connections"`
}

const debugBroadcastInterval = 250 * time.Millisecond

func (s *Service) runDebugBroadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(debugBroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.DebugHub.Broadcast(debugSnapshot{
				Mode:             s.Policy.Mode().String(),
				WakelockHeld:     s.Wake.Held(),
				ActiveSensors:    len(s.Active.Handles()),
				EventConnections: s.Holder.EventConnectionCount(),
			})
		}
	}
}

// NextConnectionID allocates a monotonically increasing connection
// identifier for new event or direct connections.
func (s *Service) NextConnectionID() int64 {
	s.connSeq++
	return s.connSeq
}

// InjectRuntimeEvent feeds one sample into the runtime-sensor loop, the
// path used by sensors whose device_id is non-default.
func (s *Service) InjectRuntimeEvent(evt sensor.Event) {
	s.injected.Push(evt)
}

// RequestModeTransition drives the operating-mode state machine, wiring
// the Connection Holder and HAL in as the transition's side effects.
func (s *Service) RequestModeTransition(target sensor.Mode, allowlistPrefix string, allowlist []string) error {
	err := s.Policy.Transition(target, allowlistPrefix, allowlist, s.Holder)
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.Metrics.RecordModeTransition(target.String(), result)
	return err
}
