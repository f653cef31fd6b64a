package workflow

import (
	"context"
	"time"

	"cachegen/internal/queue"
)

// StatusSummary represents lightweight queue diagnostics.
type StatusSummary struct {
	Counts      map[queue.Status]int `json:"counts"`
	Total       int                  `json:"total"`
	LastTick    *TickReport          `json:"last_tick,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
	LastErrorAt *time.Time           `json:"last_error_at,omitempty"`
}

// Status returns counts by state plus the latest tick and error.
func (m *Manager) Status(ctx context.Context) (StatusSummary, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return StatusSummary{}, err
	}
	summary := StatusSummary{Counts: make(map[queue.Status]int, len(stats))}
	for _, status := range queue.AllStatuses() {
		summary.Counts[status] = stats[status]
		summary.Total += stats[status]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastTick != nil {
		copy := *m.lastTick
		copy.Items = nil
		summary.LastTick = &copy
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
		at := m.lastErrAt
		summary.LastErrorAt = &at
	}
	return summary, nil
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.lastErrAt = m.now()
	m.mu.Unlock()
}

func (m *Manager) recordTick(report TickReport) {
	m.mu.Lock()
	copy := report
	m.lastTick = &copy
	m.mu.Unlock()
}
