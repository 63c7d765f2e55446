package main

import "testing"

func TestShellModeCmdRunEAcceptsKnownMode(t *testing.T) {
	if err := shellModeCmd.RunE(shellModeCmd, []string{"restricted"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShellModeCmdRunERejectsUnknownMode(t *testing.T) {
	if err := shellModeCmd.RunE(shellModeCmd, []string{"bogus"}); err == nil {
		t.Fatal("expected an error for an unknown mode argument")
	}
}

func TestShellListCmdRunESucceeds(t *testing.T) {
	if err := shellListCmd.RunE(shellListCmd, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
