// Package producer implements the reference HTTP artifact producer: it
// captures a resource's rendered HTML from the dynamic source and normalizes
// it before the executor installs it.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"golang.org/x/text/unicode/norm"

	"cachegen/internal/config"
	"cachegen/internal/logging"
	"cachegen/internal/services"
	"cachegen/internal/telemetry"
)

// IDPlaceholder is replaced by the escaped resource id in URL templates.
const IDPlaceholder = "{id}"

// HTTPProducer captures resources over HTTP GET.
type HTTPProducer struct {
	client   *resty.Client
	template string
	footer   bool
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes an HTTPProducer.
type Option func(*HTTPProducer)

// WithClock overrides the time source used in the generation footer.
func WithClock(now func() time.Time) Option {
	return func(p *HTTPProducer) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a producer from the [producer] configuration section.
func New(cfg config.Producer, logger *slog.Logger, opts ...Option) (*HTTPProducer, error) {
	template := strings.TrimSpace(cfg.URLTemplate)
	if template == "" || !strings.Contains(template, IDPlaceholder) {
		return nil, services.Wrap(services.ErrConfiguration, "producer", "configure",
			fmt.Sprintf("url_template must contain %s", IDPlaceholder), nil)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "cachegen/0.1"
	}
	p := &HTTPProducer{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept", "text/html,application/xhtml+xml"),
		template: template,
		footer:   cfg.Footer,
		now:      time.Now,
		logger:   logging.NewComponentLogger(logger, "producer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// URL returns the capture URL for resourceID.
func (p *HTTPProducer) URL(resourceID string) string {
	return strings.ReplaceAll(p.template, IDPlaceholder, url.PathEscape(resourceID))
}

// Capture fetches the rendered resource. A 404 or 410 is reported as
// services.ErrNotFound; other non-2xx responses and transport failures as
// services.ErrProducer.
func (p *HTTPProducer) Capture(ctx context.Context, resourceID string) ([]byte, error) {
	target := p.URL(resourceID)
	resp, err := p.client.R().SetContext(ctx).Get(target)
	if err != nil {
		telemetry.ProducerRequests.WithLabelValues("transport").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrProducer, "producer", "capture", target, err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		telemetry.ProducerRequests.WithLabelValues("not_found").Inc()
		return nil, services.Wrap(services.ErrNotFound, "producer", "capture",
			fmt.Sprintf("%s returned %d", target, status), nil)
	case status >= 300:
		telemetry.ProducerRequests.WithLabelValues("error").Inc()
		return nil, services.Wrap(services.ErrProducer, "producer", "capture",
			fmt.Sprintf("%s returned %d", target, status), nil)
	}
	telemetry.ProducerRequests.WithLabelValues("ok").Inc()

	body := resp.Body()
	p.logger.Debug("captured resource",
		logging.String(logging.FieldResourceID, resourceID),
		logging.Int("status", status),
		logging.Int("bytes", len(body)),
		logging.Duration("elapsed", resp.Time()),
	)
	return body, nil
}

// Transform normalizes captured content to Unicode NFC and appends the
// generation footer when enabled. Invalid UTF-8 is rejected.
func (p *HTTPProducer) Transform(_ context.Context, content []byte, resourceID string) ([]byte, error) {
	if !utf8.Valid(content) {
		return nil, services.Wrap(services.ErrValidation, "producer", "transform", "content is not valid UTF-8", nil)
	}
	out := norm.NFC.Bytes(content)
	if !p.footer || len(out) == 0 {
		return out, nil
	}
	footer := fmt.Sprintf("\n<!-- cachegen: %s generated %s -->\n",
		strings.ReplaceAll(resourceID, "--", "-"), p.now().UTC().Format(time.RFC3339))
	return append(out, footer...), nil
}
