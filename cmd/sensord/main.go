package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sensorfabric/sensord/internal/config"
	"github.com/sensorfabric/sensord/internal/hal"
	"github.com/sensorfabric/sensord/internal/pkgmanager"
	"github.com/sensorfabric/sensord/internal/policy"
	"github.com/sensorfabric/sensord/internal/privacy"
	"github.com/sensorfabric/sensord/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	defaultConfigPath = "/etc/sensord/config.yaml"
	defaultRunAsUser  = "sensord"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "sensord",
	Short:   "sensord - sensor multiplexing service",
	Long:    "Privileged daemon multiplexing a HAL's sensor stream to many client applications.",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sensord %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default: /etc/sensord/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseLogLevel(levelStr string) zerolog.Level {
	switch levelStr {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "none":
		return zerolog.Disabled
	default:
		log.Warn().Str("level", levelStr).Msg("unknown log level, defaulting to info")
		return zerolog.InfoLevel
	}
}

type userSpec struct {
	name string
	uid  int
	gid  int
}

// dropPrivileges demotes the process from root to runAsUser after every
// privileged HAL/device-file operation at startup has completed. A
// sensor multiplexing daemon needs root (or an equivalent capability) to
// open the HAL device node and the HMAC key directory, but nothing after
// that needs elevated rights: every subsequent operation is mediated
// through the HAL interface or the local connection socket.
func dropPrivileges(username string) (*userSpec, error) {
	if username == "" || os.Geteuid() != 0 {
		return nil, nil
	}

	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("lookup user %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}

	if err := unix.Setgroups([]int{gid}); err != nil {
		return nil, fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setgid(gid); err != nil {
		return nil, fmt.Errorf("setgid: %w", err)
	}
	if err := unix.Setuid(uid); err != nil {
		return nil, fmt.Errorf("setuid: %w", err)
	}
	return &userSpec{name: u.Username, uid: uid, gid: gid}, nil
}

func runServe() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("SENSORD_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}

	cfg, err := config.Load(cfgPath, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	policy.IsUserBuild = cfg.IsUserBuild

	runAsUser := os.Getenv("SENSORD_USER")
	if runAsUser == "" {
		runAsUser = defaultRunAsUser
	}

	h := buildHAL()

	if spec, err := dropPrivileges(runAsUser); err != nil {
		log.Fatal().Err(err).Str("user", runAsUser).Msg("failed to drop privileges")
	} else if spec != nil {
		log.Info().Str("user", spec.name).Int("uid", spec.uid).Msg("running as unprivileged user")
	}

	deps := service.Deps{
		HAL:        h,
		PkgManager: pkgmanager.NewFake(),
		Privacy:    privacy.NewSoftware(),
		AppOps:     alwaysAllowedAppOps{},
		Version:    Version,
	}

	svc, err := service.New(cfg, deps, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct service")
	}

	log.Info().Str("config_path", cfgPath).Str("version", Version).Msg("starting sensord")

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down sensord")
		cancel()
	}()

	if err := svc.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("sensord exited with error")
	}
	svc.Shutdown(context.Background())
}

// buildHAL returns the driver this binary drives. Production builds swap
// this for a real platform-specific HAL client; the open-source build
// ships the deterministic fake with an empty sensor list, since a real
// driver binding is outside this module's scope.
func buildHAL() hal.HAL {
	return hal.NewFake(nil)
}

// alwaysAllowedAppOps is a minimal AppOps that allows every op, used when
// no platform app-ops service is wired in.
type alwaysAllowedAppOps struct{}

func (alwaysAllowedAppOps) CheckOp(pkg, op string) policy.AppOpMode { return policy.AppOpAllowed }
