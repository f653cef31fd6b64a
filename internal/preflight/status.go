package preflight

import (
	"strings"

	"cachegen/internal/config"
)

// StoreSummary describes the configured key/value backend for status views.
func StoreSummary(cfg *config.Config) Result {
	const name = "Store"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	switch cfg.Store.Backend {
	case config.BackendRedis:
		detail := "redis " + cfg.Store.RedisAddr
		if prefix := strings.TrimSpace(cfg.Store.KeyPrefix); prefix != "" {
			detail += " (prefix " + prefix + ")"
		}
		return Result{Name: name, Passed: true, Detail: detail}
	default:
		return Result{Name: name, Passed: true, Detail: "sqlite " + cfg.StateDBPath()}
	}
}

// NotificationsSummary describes the ntfy configuration.
func NotificationsSummary(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: topic}
}
