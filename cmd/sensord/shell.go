package main

import (
	"fmt"
	"strconv"

	"github.com/sensorfabric/sensord/internal/sensor"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Diagnostic subcommands (they do not contact a running sensord)",
	Long:  "Privileged one-shot operations used by the platform's shell/adb-style tooling, mirrored here for a local socket-based service.",
}

var shellModeCmd = &cobra.Command{
	Use:   "set-mode <normal|restricted|data-injection|replay-injection|hal-bypass>",
	Short: "Validate a mode name and print the transition that would be requested",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseModeArg(args[0])
		if err != nil {
			return err
		}
		// service.Service.RequestModeTransition is the real entry point this
		// subcommand would call over a control socket; no such socket exists
		// yet, so this prints what would happen rather than driving a
		// running daemon.
		fmt.Printf("would request transition to %s, but sensord has no control-socket listener yet\n", mode)
		return nil
	},
}

var shellListCmd = &cobra.Command{
	Use:   "list-sensors",
	Short: "Print a pointer to `sensord dump`; a running sensord's sensors are not listed",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("sensord has no control-socket listener yet; use `sensord dump` to inspect a fresh in-process instance instead")
		return nil
	},
}

func init() {
	shellCmd.AddCommand(shellModeCmd)
	shellCmd.AddCommand(shellListCmd)
}

func parseModeArg(s string) (sensor.Mode, error) {
	switch s {
	case "normal":
		return sensor.ModeNormal, nil
	case "restricted":
		return sensor.ModeRestricted, nil
	case "data-injection":
		return sensor.ModeDataInjection, nil
	case "replay-injection":
		return sensor.ModeReplayDataInjection, nil
	case "hal-bypass":
		return sensor.ModeHalBypassReplayInjection, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// parseHandleArg is shared by any future shell subcommand that takes a
// raw numeric sensor handle on the command line.
func parseHandleArg(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid sensor handle %q: %w", s, err)
	}
	return int32(n), nil
}
