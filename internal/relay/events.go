package relay

import (
	"context"
	"time"

	"github.com/flightline/flightline/internal/mirror"
	"github.com/flightline/flightline/internal/timeline"
)

// Event kinds recorded to the audit trail and mirrored to Kafka.
const (
	EventStepRun        = "step_run"
	EventJobForwarded   = "job_forwarded"
	EventDoneSent       = "done_sent"
	EventItemDispatched = "item_dispatched"
	EventItemCompleted  = "item_completed"
)

// recordEvent writes one relay event to the audit trail and the Kafka mirror.
// Both sinks are best-effort; a daemon never fails a hop over observability.
func recordEvent(ctx context.Context, tl *timeline.Service, pub *mirror.Publisher, kind, issueID, step, role string, exitCode int, detail string) {
	if tl != nil {
		_ = tl.AddEvent(&timeline.Event{
			Kind:     kind,
			IssueID:  issueID,
			Step:     step,
			Role:     role,
			ExitCode: exitCode,
			Detail:   detail,
		})
	}
	if pub != nil && pub.Active() {
		_ = pub.Publish(ctx, mirror.Event{
			Kind:     kind,
			IssueID:  issueID,
			Step:     step,
			Role:     role,
			ExitCode: exitCode,
			TS:       time.Now().UTC(),
		})
	}
}
