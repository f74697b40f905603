package main

import "testing"

func TestCommandRejectsPositionalArgs(t *testing.T) {
	cmd := newCommand()
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestCommandExposesOverrides(t *testing.T) {
	cmd := newCommand()
	for _, name := range []string{"config", "log-level", "log-format", "dev"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("expected --%s flag", name)
		}
	}
}
