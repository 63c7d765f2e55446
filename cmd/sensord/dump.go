package main

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/audit"
	"github.com/sensorfabric/sensord/internal/config"
	"github.com/sensorfabric/sensord/internal/pkgmanager"
	"github.com/sensorfabric/sensord/internal/privacy"
	"github.com/sensorfabric/sensord/internal/registry"
	"github.com/sensorfabric/sensord/internal/service"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print a diagnostic snapshot of the sensor registry and policy state",
	Long:  "Equivalent of the platform's privileged service dump: sensor catalog, active sensors, wakelock and mode state, and the registration ring.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDump()
	},
}

func runDump() error {
	log := zerolog.Nop()

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	cfg, err := config.Load(cfgPath, log)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	deps := service.Deps{
		HAL:        buildHAL(),
		PkgManager: pkgmanager.NewFake(),
		Privacy:    privacy.NewSoftware(),
		AppOps:     alwaysAllowedAppOps{},
		Version:    Version,
	}
	svc, err := service.New(cfg, deps, log)
	if err != nil {
		return fmt.Errorf("construct service: %w", err)
	}

	fmt.Printf("sensord %s\noperating mode: %s\nwakelock held: %v\n\n", Version, svc.Policy.Mode(), svc.Wake.Held())

	fmt.Println("sensors:")
	var entries []registry.Entry
	svc.Registry.ForEach(func(e registry.Entry) { entries = append(entries, e) })
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sensor.Handle < entries[j].Sensor.Handle })
	for _, e := range entries {
		tag := ""
		if e.Virtual {
			tag = " [virtual]"
		}
		if e.Debug {
			tag += " [debug]"
		}
		fmt.Printf("  handle=%-8d type=%-28s name=%q%s\n", e.Sensor.Handle, e.Sensor.Type, e.Sensor.Name, tag)
	}

	fmt.Println("\nactive sensors:")
	active := svc.Active.Handles()
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	for _, h := range active {
		fmt.Printf("  handle=%d connections=%d\n", h, svc.Active.ConnectionCount(h))
	}

	fmt.Println("\nrecent registration entries:")
	for _, e := range svc.Audit.Recent(20) {
		fmt.Printf("  [%s] %s pkg=%s handle=%d period_ns=%d\n",
			e.Timestamp.Format("15:04:05.000"), actionLabel(e.Action), e.Package, e.Handle, e.PeriodNs)
	}

	return nil
}

func actionLabel(a audit.Action) string {
	if a == audit.ActionActivate {
		return "activate"
	}
	return "deactivate"
}
