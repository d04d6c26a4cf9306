// Package notify delivers event change summaries to event owners.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/scheduler"
)

// Message is the envelope pushed to owners over WebSocket and Redis.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	At    int64           `json:"at"`
}

// NewMessage wraps a change summary.
func NewMessage(change application.ChangeSummary) (Message, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return Message{}, err
	}
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}
	return Message{Event: string(change.Kind), Data: data, At: at.Unix()}, nil
}

// LogNotifier writes every change to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier logging through logger, or slog.Default when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// NotifyOwner implements application.Notifier.
func (n *LogNotifier) NotifyOwner(ctx context.Context, event scheduler.Event, change application.ChangeSummary) error {
	n.logger.InfoContext(ctx, "owner notified",
		"owner_id", event.OwnerID,
		"event_id", event.ID,
		"kind", change.Kind,
		"actor_id", change.ActorID,
		"modification_id", change.ModificationID,
		"state", change.State,
	)
	return nil
}

// Fanout forwards a change to every notifier and joins their errors.
type Fanout []application.Notifier

// NotifyOwner implements application.Notifier.
func (f Fanout) NotifyOwner(ctx context.Context, event scheduler.Event, change application.ChangeSummary) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.NotifyOwner(ctx, event, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
