package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/repository"
)

// AlertFunc receives DLQ threshold breaches. The default channel logs at
// error level; deployments plug in pager or chat integrations.
type AlertFunc func(unresolved int, threshold int)

// dlqStore is the slice of OutboxRepository the monitor needs.
type dlqStore interface {
	CountUnresolvedDLQ(ctx context.Context) (int, error)
	UnresolvedDLQStats(ctx context.Context) ([]repository.DLQTypeStat, error)
}

// DLQMonitor raises alerts when unresolved DLQ rows pile up and periodically
// emits a textual report grouped by event type.
type DLQMonitor struct {
	store     dlqStore
	threshold int
	alert     AlertFunc
}

// NewDLQMonitor creates a DLQMonitor. A nil alert falls back to logging.
func NewDLQMonitor(st dlqStore, threshold int, alert AlertFunc) *DLQMonitor {
	if threshold <= 0 {
		threshold = 10
	}
	if alert == nil {
		alert = func(unresolved, threshold int) {
			log.Error().
				Int("unresolved", unresolved).
				Int("threshold", threshold).
				Msg("dlq unresolved count exceeds threshold")
		}
	}
	return &DLQMonitor{store: st, threshold: threshold, alert: alert}
}

// CheckThreshold counts unresolved DLQ rows and alerts when the count
// reaches the threshold. Runs every 60s.
func (m *DLQMonitor) CheckThreshold(ctx context.Context) error {
	n, err := m.store.CountUnresolvedDLQ(ctx)
	if err != nil {
		return fmt.Errorf("dlq threshold check: %w", err)
	}
	if n >= m.threshold {
		m.alert(n, m.threshold)
	}
	return nil
}

// Report builds the periodic textual DLQ report, grouping unresolved rows by
// event type and noting the oldest failure. Runs every 10 minutes.
func (m *DLQMonitor) Report(ctx context.Context) (string, error) {
	stats, err := m.store.UnresolvedDLQStats(ctx)
	if err != nil {
		return "", fmt.Errorf("dlq report: %w", err)
	}
	if len(stats) == 0 {
		return "dlq report: no unresolved events", nil
	}

	var b strings.Builder
	total := 0
	oldest := stats[0].OldestAt
	for _, s := range stats {
		total += s.Count
		if s.OldestAt.Before(oldest) {
			oldest = s.OldestAt
		}
		fmt.Fprintf(&b, "  %s: %d (oldest %s)\n", s.EventType, s.Count, s.OldestAt.Format(time.RFC3339))
	}

	report := fmt.Sprintf("dlq report: %d unresolved events, oldest at %s\n%s",
		total, oldest.Format(time.RFC3339), b.String())
	log.Warn().Str("report", report).Msg("dlq periodic report")
	return report, nil
}
