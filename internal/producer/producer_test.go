package producer_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cachegen/internal/config"
	"cachegen/internal/producer"
	"cachegen/internal/services"
)

func newProducer(t *testing.T, handler http.HandlerFunc, footer bool) *producer.HTTPProducer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default().Producer
	cfg.URLTemplate = server.URL + "/posts/{id}"
	cfg.Footer = footer
	p, err := producer.New(cfg, nil, producer.WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestCaptureReturnsBody(t *testing.T) {
	var gotPath, gotAgent string
	p := newProducer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("<html>hello</html>"))
	}, false)

	body, err := p.Capture(context.Background(), "a b")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if string(body) != "<html>hello</html>" {
		t.Fatalf("unexpected body %q", body)
	}
	if gotPath != "/posts/a%20b" {
		t.Fatalf("expected escaped id in path, got %q", gotPath)
	}
	if gotAgent != "cachegen/0.1" {
		t.Fatalf("unexpected user agent %q", gotAgent)
	}
}

func TestCaptureClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, services.ErrNotFound},
		{http.StatusGone, services.ErrNotFound},
		{http.StatusBadGateway, services.ErrProducer},
		{http.StatusServiceUnavailable, services.ErrProducer},
		{http.StatusForbidden, services.ErrProducer},
	}
	for _, tc := range tests {
		p := newProducer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}, false)
		_, err := p.Capture(context.Background(), "post-1")
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestTransformNormalizesAndAppendsFooter(t *testing.T) {
	p := newProducer(t, func(http.ResponseWriter, *http.Request) {}, true)

	decomposed := []byte("Cafe\u0301")
	out, err := p.Transform(context.Background(), decomposed, "post-1")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !strings.HasPrefix(string(out), "Caf\u00e9") {
		t.Fatalf("expected NFC output, got %q", out)
	}
	if !strings.HasSuffix(string(out), "<!-- cachegen: post-1 generated 2024-05-01T12:00:00Z -->\n") {
		t.Fatalf("expected footer, got %q", out)
	}
}

func TestTransformRejectsInvalidUTF8(t *testing.T) {
	p := newProducer(t, func(http.ResponseWriter, *http.Request) {}, false)
	if _, err := p.Transform(context.Background(), []byte{0xff, 0xfe}, "post-1"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransformLeavesEmptyContentEmpty(t *testing.T) {
	p := newProducer(t, func(http.ResponseWriter, *http.Request) {}, true)
	out, err := p.Transform(context.Background(), nil, "post-1")
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty output, got %q, %v", out, err)
	}
}

func TestNewRejectsTemplateWithoutPlaceholder(t *testing.T) {
	cfg := config.Default().Producer
	cfg.URLTemplate = "http://example.com/page"
	if _, err := producer.New(cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
