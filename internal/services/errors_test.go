package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cachegen/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrProducer, "artifact", "capture", "upstream failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrProducer) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"artifact", "capture", "upstream failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.ErrLockUnavailable, services.KindLocked},
		{services.Wrap(services.ErrNotFound, "producer", "capture", "404", nil), services.KindNotFound},
		{services.Wrap(services.ErrValidation, "artifact", "validate", "empty", nil), services.KindValidation},
		{services.Wrap(services.ErrWrite, "artifact", "rename", "", errors.New("EXDEV")), services.KindWrite},
		{services.Wrap(services.ErrProducer, "artifact", "capture", "", nil), services.KindProducer},
		{fmt.Errorf("tick: %w", context.Canceled), services.KindCanceled},
		{errors.New("mystery"), services.KindTransient},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !services.IsTerminal(services.Wrap(services.ErrNotFound, "producer", "capture", "", nil)) {
		t.Fatal("expected not found to be terminal")
	}
	if services.IsTerminal(services.Wrap(services.ErrProducer, "producer", "capture", "", nil)) {
		t.Fatal("expected producer failure to be retryable")
	}
	if services.IsTerminal(services.ErrLockUnavailable) {
		t.Fatal("expected lock conflict to be retryable")
	}
}
