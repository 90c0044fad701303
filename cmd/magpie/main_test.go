package main

import (
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"ask", "sessions", "permissions"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestFirstLineCompressesMultilineOutput(t *testing.T) {
	if got := firstLine("a\nb\nc"); got != "a …" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("  single  "); got != "single" {
		t.Errorf("firstLine = %q", got)
	}
}

func TestVersionString(t *testing.T) {
	cmd := buildRootCmd()
	if !strings.Contains(cmd.Version, version) {
		t.Errorf("version = %q", cmd.Version)
	}
}
