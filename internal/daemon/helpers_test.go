package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cachegen/internal/app"
	"cachegen/internal/config"
	"cachegen/internal/notifications"
	"cachegen/internal/services"
	"cachegen/internal/testsupport"
)

type pageProducer struct {
	mu      sync.Mutex
	missing map[string]bool
}

func (p *pageProducer) Capture(_ context.Context, id string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[id] {
		return nil, services.Wrap(services.ErrNotFound, "test", "capture", id, nil)
	}
	return []byte("<html>" + id + "</html>"), nil
}

func (p *pageProducer) Transform(_ context.Context, content []byte, _ string) ([]byte, error) {
	return content, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *captureNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	return nil
}

func (n *captureNotifier) has(event notifications.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	cfg      *config.Config
	app      *app.App
	daemon   *Daemon
	notifier *captureNotifier
	producer *pageProducer
	server   *httptest.Server
	token    string
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	h := &harness{
		cfg:      cfg,
		notifier: &captureNotifier{},
		producer: &pageProducer{missing: map[string]bool{}},
		token:    token,
	}
	a, err := app.Open(cfg, nil, app.WithProducer(h.producer), app.WithNotifier(h.notifier))
	if err != nil {
		t.Fatalf("app.Open: %v", err)
	}
	h.app = a
	d, err := New(a, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	h.daemon = d
	t.Cleanup(func() { _ = d.Close() })

	h.server = httptest.NewServer(newRouter(d, token, d.logger))
	t.Cleanup(h.server.Close)
	return h
}

// do issues a request and decodes a JSON response into out when non-nil.
func (h *harness) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (h *harness) raw(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := h.server.Client().Get(h.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(data))
}
