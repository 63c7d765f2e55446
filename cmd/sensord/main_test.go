package main

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/policy"
	"github.com/sensorfabric/sensord/internal/sensor"
)

func TestParseLogLevelKnownValues(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"debug":    zerolog.DebugLevel,
		"info":     zerolog.InfoLevel,
		"warn":     zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"none":     zerolog.Disabled,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseLogLevelUnknownDefaultsToInfo(t *testing.T) {
	if got := parseLogLevel("bogus"); got != zerolog.InfoLevel {
		t.Errorf("expected unknown level to default to info, got %v", got)
	}
}

func TestDropPrivilegesNoOpForEmptyUsername(t *testing.T) {
	spec, err := dropPrivileges("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec != nil {
		t.Errorf("expected nil userSpec for empty username, got %+v", spec)
	}
}

func TestDropPrivilegesNoOpWhenNotRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("test process is running as root, dropPrivileges would actually attempt the demotion")
	}
	spec, err := dropPrivileges("nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec != nil {
		t.Errorf("expected nil userSpec when not running as root, got %+v", spec)
	}
}

func TestParseModeArgKnownModes(t *testing.T) {
	cases := map[string]sensor.Mode{
		"normal":           sensor.ModeNormal,
		"restricted":       sensor.ModeRestricted,
		"data-injection":   sensor.ModeDataInjection,
		"replay-injection": sensor.ModeReplayDataInjection,
		"hal-bypass":       sensor.ModeHalBypassReplayInjection,
	}
	for in, want := range cases {
		got, err := parseModeArg(in)
		if err != nil {
			t.Fatalf("parseModeArg(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("parseModeArg(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseModeArgUnknownReturnsError(t *testing.T) {
	if _, err := parseModeArg("bogus"); err == nil {
		t.Fatal("expected an error for an unknown mode string")
	}
}

func TestParseHandleArgValidAndInvalid(t *testing.T) {
	got, err := parseHandleArg("42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	if _, err := parseHandleArg("not-a-number"); err == nil {
		t.Fatal("expected an error for a non-numeric handle")
	}
}

func TestAlwaysAllowedAppOpsAllowsEverything(t *testing.T) {
	var ops alwaysAllowedAppOps
	if got := ops.CheckOp("com.example.app", "android:body_sensors"); got != policy.AppOpAllowed {
		t.Errorf("expected AppOpAllowed, got %v", got)
	}
}
