// Package notify sends operator alerts about pricing data quality and
// ingestion failures to Telegram and Discord. Alerts are filtered by event so
// operators only receive the ones they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Alert events.
const (
	EventFallbackUsed   = "fallback_used"
	EventUnknownGrade   = "unknown_grade"
	EventStaleMandiData = "stale_mandi_data"
	EventIngestFailed   = "ingest_failed"
	EventError          = "error"
)

// Alert is one operator notification.
type Alert struct {
	Event   string
	Title   string
	Message string
}

// Sender delivers an alert over one channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier fans alerts out to every Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list lets every event
// through.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether an alert for event would be delivered anywhere.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers a to every sender when its event is allowed. A failing
// sender does not stop the others; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if !n.Enabled(a.Event) {
		if n != nil {
			n.logger.DebugContext(ctx, "alert filtered out", slog.String("event", a.Event))
		}
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
