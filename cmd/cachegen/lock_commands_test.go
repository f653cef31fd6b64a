package main

import (
	"testing"
)

func TestLocksCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out := mustRunCLI(t, env, "locks", "list")
	requireContains(t, out, "No locks held")

	out = mustRunCLI(t, env, "locks", "cleanup")
	requireContains(t, out, "Removed 0 stale locks")

	if _, err := runCLI(t, env, "locks", "release-all"); err == nil {
		t.Fatal("expected release-all to require confirmation")
	}
	out = mustRunCLI(t, env, "locks", "release-all", "--yes")
	requireContains(t, out, "Released 0 locks")
}
