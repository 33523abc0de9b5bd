package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Event is the fire-and-forget payload handed to the notification boundary
// when a job reaches a terminal state. Formatting and delivery of operator
// messages belong to the external collaborator, not to this subsystem.
type Event struct {
	JobType JobType   `json:"job_type"`
	Status  JobStatus `json:"status"`
	Summary string    `json:"summary"`
}

// Notifier delivers job completion events. Implementations must never block
// job processing on delivery problems; failures are logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NopNotifier discards all events.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Event) {}

// LogNotifier writes events to the logger. The default for CLI one-shot runs.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, event Event) {
	n.Logger.Info("job notification",
		slog.String("job_type", string(event.JobType)),
		slog.String("status", string(event.Status)),
		slog.String("summary", event.Summary),
	)
}

// WebhookNotifier POSTs events as JSON to a configured endpoint. Used in
// serve mode to hand events to the delivery collaborator.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// Notify implements Notifier. Delivery failures are logged, never returned:
// a notification problem must not fail the job that produced it.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.Logger.Error("encoding notification", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		n.Logger.Error("building notification request", "error", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		n.Logger.Warn("delivering notification", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		n.Logger.Warn("notification rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("job_type", string(event.JobType)),
		)
	}
}
