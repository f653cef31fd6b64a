package daemon

import (
	"context"
	"testing"

	"cachegen/internal/app"
)

func TestDaemonStartStop(t *testing.T) {
	h := newHarness(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status, err := h.daemon.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if h.daemon.Addr() == h.cfg.Paths.APIBind {
		t.Fatalf("expected resolved listener address, got %q", h.daemon.Addr())
	}

	if err := h.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, err := app.Open(h.cfg, nil, app.WithProducer(h.producer))
	if err != nil {
		t.Fatalf("app.Open second: %v", err)
	}
	second, err := New(other, nil)
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	defer second.Close()
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second daemon instance to be refused")
	}

	h.daemon.Stop()
	if h.daemon.Running() {
		t.Fatal("expected daemon to be stopped")
	}
}
