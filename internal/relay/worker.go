package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flightline/flightline/internal/mailbox"
	"github.com/flightline/flightline/internal/mirror"
	"github.com/flightline/flightline/internal/timeline"
)

// DefaultPollInterval is the sleep between inbox poll cycles.
const DefaultPollInterval = 15 * time.Second

// Mail is the mailbox surface the relay daemons depend on. *mailbox.Client
// satisfies it; tests substitute fakes.
type Mail interface {
	HealthCheck(ctx context.Context) error
	RegisterProject(ctx context.Context, name string) error
	RegisterAgent(ctx context.Context, agentName, role string) error
	SetContactPolicy(ctx context.Context, agentName, policy string) error
	FetchInbox(ctx context.Context, q mailbox.InboxQuery) ([]mailbox.Message, error)
	Acknowledge(ctx context.Context, agentName, messageID string) error
	Send(ctx context.Context, msg mailbox.Outgoing) (string, error)
}

// WorkerOptions configures a relay worker daemon.
type WorkerOptions struct {
	Mail          Mail
	Runner        Runner
	Role          string
	AgentName     string
	ProjectName   string
	ContactPolicy string
	PollInterval  time.Duration
	Timeline      *timeline.Service
	Mirror        *mirror.Publisher
}

// Worker serves one pipeline role: it polls its mailbox, runs each inbound
// job's step through the runner, and forwards the job to the next role or
// reports completion. Single-threaded; one job in flight at a time.
type Worker struct {
	mail   Mail
	runner Runner
	role   string
	agent  string
	proj   string
	policy string
	poll   time.Duration
	cur    cursor
	tl     *timeline.Service
	pub    *mirror.Publisher
}

// NewWorker validates the options and builds a worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Mail == nil {
		return nil, errors.New("relay worker: mailbox client required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("relay worker: %w", ErrNoRunner)
	}
	if opts.Role == "" {
		return nil, errors.New("relay worker: role required")
	}
	agent := opts.AgentName
	if agent == "" {
		agent = opts.Role
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Worker{
		mail:   opts.Mail,
		runner: opts.Runner,
		role:   opts.Role,
		agent:  agent,
		proj:   opts.ProjectName,
		policy: opts.ContactPolicy,
		poll:   poll,
		tl:     opts.Timeline,
		pub:    opts.Mirror,
	}, nil
}

// Run performs the startup handshake, then polls until ctx is cancelled.
// Handshake failures are fatal; per-cycle errors are logged and the loop
// continues.
func (w *Worker) Run(ctx context.Context) error {
	if err := handshake(ctx, w.mail, w.proj, w.agent, w.role, w.policy); err != nil {
		return err
	}
	slog.Info("Relay worker started", "role", w.role, "agent", w.agent, "poll", w.poll)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		w.cycle(ctx)
		select {
		case <-ctx.Done():
			slog.Info("Relay worker stopped", "role", w.role)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// handshake registers the daemon with the mailbox. Any failure here means the
// daemon cannot participate and must not start.
func handshake(ctx context.Context, mail Mail, project, agent, role, policy string) error {
	if err := mail.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mailbox health check: %w", err)
	}
	if err := mail.RegisterProject(ctx, project); err != nil {
		return fmt.Errorf("register project: %w", err)
	}
	if err := mail.RegisterAgent(ctx, agent, role); err != nil {
		return fmt.Errorf("register agent %s: %w", agent, err)
	}
	if policy != "" {
		if err := mail.SetContactPolicy(ctx, agent, policy); err != nil {
			return fmt.Errorf("set contact policy: %w", err)
		}
	}
	return nil
}

// cycle fetches new messages once and handles every job addressed to this
// worker.
func (w *Worker) cycle(ctx context.Context) {
	msgs, err := w.mail.FetchInbox(ctx, mailbox.InboxQuery{
		AgentName:   w.agent,
		Since:       w.cur.since(),
		IncludeBody: true,
	})
	if err != nil {
		slog.Error("Inbox fetch failed", "role", w.role, "error", err)
		return
	}

	for _, msg := range msgs {
		if w.cur.seen(msg) {
			continue
		}
		w.cur.advance(msg)
		if !IsJobSubject(msg.Subject) {
			continue
		}
		job, err := DecodeJobBody(msg.Body)
		if err != nil {
			slog.Warn("Skipping undecodable job message", "id", msg.ID, "error", err)
			continue
		}
		if job.ToRole != w.role {
			continue
		}
		if job.ToAgentName != "" && job.ToAgentName != w.agent {
			continue
		}
		// Ack before running so a redelivered copy is not picked up again.
		// Best-effort: processing proceeds even if the ack fails.
		if err := w.mail.Acknowledge(ctx, w.agent, msg.ID); err != nil {
			slog.Warn("Acknowledge failed", "id", msg.ID, "error", err)
		}
		w.handleJob(ctx, job)
	}
}

// handleJob runs the step and routes the outcome. Runner failures do not
// stall the pipeline: the job still moves on with the exit code attached.
func (w *Worker) handleJob(ctx context.Context, job Job) {
	slog.Info("Running pipeline step", "role", w.role, "issue", job.IssueID, "step", job.Step)
	code, err := w.runner.RunStep(ctx, job)
	detail := ""
	if err != nil {
		detail = err.Error()
		slog.Error("Runner invocation failed", "issue", job.IssueID, "step", job.Step, "error", err)
	} else if code != 0 {
		slog.Warn("Pipeline step exited nonzero", "issue", job.IssueID, "step", job.Step, "exitCode", code)
	}
	recordEvent(ctx, w.tl, w.pub, EventStepRun, job.IssueID, job.Step, w.role, code, detail)

	switch {
	case job.HasNextHop():
		w.forward(ctx, job, code)
	case job.HasDoneTarget():
		w.complete(ctx, job, code)
	default:
		slog.Warn("Job names no next hop or done target", "issue", job.IssueID, "step", job.Step)
	}
}

// forward sends the next-hop job to the following role.
func (w *Worker) forward(ctx context.Context, job Job, code int) {
	next := job.NextHop()
	if code != 0 {
		next.Meta = map[string]any{"prev_step": job.Step, "prev_exit_code": code}
	}
	body, err := EncodeJobBody(next)
	if err != nil {
		slog.Error("Job encode failed", "issue", next.IssueID, "error", err)
		return
	}
	if _, err := w.mail.Send(ctx, mailbox.Outgoing{
		From:        w.agent,
		To:          []string{next.Recipient()},
		Subject:     JobSubject(next),
		Body:        body,
		ThreadID:    next.ThreadID,
		AutoContact: true,
	}); err != nil {
		slog.Error("Job forward failed", "issue", next.IssueID, "to", next.Recipient(), "error", err)
		return
	}
	slog.Info("Job forwarded", "issue", next.IssueID, "step", next.Step, "to", next.Recipient())
	recordEvent(ctx, w.tl, w.pub, EventJobForwarded, next.IssueID, next.Step, w.role, code, "")
}

// complete sends the Done notice back to the pipeline head. Fire and forget:
// a lost notice only delays the dispatcher, it cannot corrupt state.
func (w *Worker) complete(ctx context.Context, job Job, code int) {
	done := Done{IssueID: job.IssueID, Step: job.Step, ExitCode: code}
	body, err := EncodeDoneBody(done)
	if err != nil {
		slog.Error("Done notice encode failed", "issue", job.IssueID, "error", err)
		return
	}
	to := job.DoneToAgentName
	if to == "" {
		to = job.DoneToRole
	}
	thread := job.ThreadID
	if thread == "" {
		thread = job.IssueID
	}
	if _, err := w.mail.Send(ctx, mailbox.Outgoing{
		From:        w.agent,
		To:          []string{to},
		Subject:     DoneSubject(done),
		Body:        body,
		ThreadID:    thread,
		AutoContact: true,
	}); err != nil {
		slog.Warn("Done notice send failed", "issue", job.IssueID, "error", err)
		return
	}
	slog.Info("Done notice sent", "issue", job.IssueID, "to", to, "exitCode", code)
	recordEvent(ctx, w.tl, w.pub, EventDoneSent, job.IssueID, job.Step, w.role, code, "")
}
