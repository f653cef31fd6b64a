package main

import (
	"os"
	"testing"

	"cachegen/internal/artifact"
)

func TestGenerateAndDelete(t *testing.T) {
	env := setupCLITestEnv(t)
	path := artifact.PathFor(env.cfg.Paths.ArtifactDir, "post-7")

	out := mustRunCLI(t, env, "generate", "post-7")
	requireContains(t, out, "1 completed, 0 failed of 1")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected artifact: %v", err)
	}

	out = mustRunCLI(t, env, "delete", "post-7")
	requireContains(t, out, "1 completed, 0 failed of 1")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected artifact removed, stat err = %v", err)
	}
}

func TestGenerateRollbackOnFailure(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "generate", "post-1", "missing-2", "--rollback")
	if err == nil {
		t.Fatal("expected failure to be reported")
	}
	requireContains(t, out, "rolled back")
	if _, statErr := os.Stat(artifact.PathFor(env.cfg.Paths.ArtifactDir, "post-1")); !os.IsNotExist(statErr) {
		t.Fatalf("expected post-1 to be rolled back, stat err = %v", statErr)
	}
}
