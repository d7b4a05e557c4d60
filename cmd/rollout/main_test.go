package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuildRootWiresSubcommands(t *testing.T) {
	root := buildRoot()
	want := []string{
		"status", "check", "versions", "changelog", "download", "install",
		"update", "activate", "rollback", "cleanup", "serve",
	}
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestHelpOutput(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	if !strings.Contains(out.String(), "rollout") {
		t.Fatalf("unexpected help output: %s", out.String())
	}
}

func TestUpdateRequiresVersionFlag(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"update"})
	if err := root.Execute(); err == nil {
		t.Fatalf("update without --version must fail")
	}
}
