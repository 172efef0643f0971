package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flightline/flightline/internal/backlog"
	"github.com/flightline/flightline/internal/config"
	"github.com/flightline/flightline/internal/mailbox"
	"github.com/flightline/flightline/internal/mirror"
	"github.com/flightline/flightline/internal/notify"
	"github.com/flightline/flightline/internal/timeline"
)

// DispatcherOptions configures the pipeline-head daemon.
type DispatcherOptions struct {
	Mail          Mail
	Runner        Runner
	Tracker       backlog.Tracker
	Pipeline      []config.StageConfig
	ActiveLabel   string
	AgentName     string
	ProjectName   string
	ContactPolicy string
	PollInterval  time.Duration
	Timeline      *timeline.Service
	Mirror        *mirror.Publisher
	Notify        *notify.Service
}

// Dispatcher is the pipeline head. When idle it seeds the pipeline from the
// backlog: picks the first eligible item, marks it active, runs the first
// stage itself, and sends the second-stage job. While an item is in flight it
// waits for the Done notice before picking up the next one, so at most one
// item moves through the pipeline at a time. The in-flight marker is held in
// memory only; a restart abandons it and the dispatcher starts fresh.
type Dispatcher struct {
	mail    Mail
	runner  Runner
	tracker backlog.Tracker
	stages  []config.StageConfig

	activeLabel string
	role        string
	agent       string
	proj        string
	policy      string
	poll        time.Duration

	cur      cursor
	inflight string

	tl    *timeline.Service
	pub   *mirror.Publisher
	notes *notify.Service
}

// NewDispatcher validates the options and builds a dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Mail == nil {
		return nil, errors.New("relay dispatcher: mailbox client required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("relay dispatcher: %w", ErrNoRunner)
	}
	if opts.Tracker == nil {
		return nil, errors.New("relay dispatcher: backlog tracker required")
	}
	stages := opts.Pipeline
	if len(stages) == 0 {
		stages = config.DefaultPipeline()
	}
	// The job descriptor carries two hops of lookahead, so the head stage
	// plus three relayed stages is the maximum pipeline length.
	if len(stages) < 2 {
		return nil, errors.New("relay dispatcher: pipeline needs at least two stages")
	}
	if len(stages) > 4 {
		return nil, errors.New("relay dispatcher: pipeline supports at most four stages")
	}
	role := stages[0].Role
	if role == "" {
		role = "dispatcher"
	}
	agent := opts.AgentName
	if agent == "" {
		agent = stages[0].AgentName
	}
	if agent == "" {
		agent = role
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Dispatcher{
		mail:        opts.Mail,
		runner:      opts.Runner,
		tracker:     opts.Tracker,
		stages:      stages,
		activeLabel: opts.ActiveLabel,
		role:        role,
		agent:       agent,
		proj:        opts.ProjectName,
		policy:      opts.ContactPolicy,
		poll:        poll,
		tl:          opts.Timeline,
		pub:         opts.Mirror,
		notes:       opts.Notify,
	}, nil
}

// InFlight returns the id of the work item currently in the pipeline, or ""
// when the dispatcher is idle.
func (d *Dispatcher) InFlight() string { return d.inflight }

// Run performs the startup handshake, then alternates between seeding the
// pipeline and waiting for completion until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := handshake(ctx, d.mail, d.proj, d.agent, d.role, d.policy); err != nil {
		return err
	}
	slog.Info("Relay dispatcher started", "role", d.role, "agent", d.agent, "stages", len(d.stages), "poll", d.poll)

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		d.cycle(ctx)
		select {
		case <-ctx.Done():
			slog.Info("Relay dispatcher stopped", "role", d.role)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	if d.inflight == "" {
		d.seed(ctx)
		return
	}
	d.awaitDone(ctx)
}

// seed picks the first eligible backlog item and starts the pipeline for it.
func (d *Dispatcher) seed(ctx context.Context) {
	items, err := d.tracker.ReadyItems(ctx)
	if err != nil {
		slog.Error("Backlog query failed", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}
	item := items[0]
	slog.Info("Picking up work item", "issue", item.ID, "title", item.Title)

	if d.activeLabel != "" {
		if err := d.tracker.AddLabel(ctx, item.ID, d.activeLabel); err != nil {
			slog.Error("Marking item active failed", "issue", item.ID, "error", err)
			return
		}
	}

	first := d.stageJob(item.ID, 0)
	code, err := d.runner.RunStep(ctx, first)
	detail := ""
	if err != nil {
		detail = err.Error()
		slog.Error("Runner invocation failed", "issue", item.ID, "step", first.Step, "error", err)
	} else if code != 0 {
		slog.Warn("Pipeline step exited nonzero", "issue", item.ID, "step", first.Step, "exitCode", code)
	}
	recordEvent(ctx, d.tl, d.pub, EventStepRun, item.ID, first.Step, d.role, code, detail)

	next := d.stageJob(item.ID, 1)
	if code != 0 {
		next.Meta = map[string]any{"prev_step": first.Step, "prev_exit_code": code}
	}
	body, err := EncodeJobBody(next)
	if err != nil {
		slog.Error("Job encode failed", "issue", item.ID, "error", err)
		return
	}
	if _, err := d.mail.Send(ctx, mailbox.Outgoing{
		From:        d.agent,
		To:          []string{next.Recipient()},
		Subject:     JobSubject(next),
		Body:        body,
		ThreadID:    next.ThreadID,
		AutoContact: true,
	}); err != nil {
		slog.Error("Pipeline start failed", "issue", item.ID, "error", err)
		return
	}

	d.inflight = item.ID
	slog.Info("Pipeline started", "issue", item.ID, "step", next.Step, "to", next.Recipient())
	recordEvent(ctx, d.tl, d.pub, EventItemDispatched, item.ID, next.Step, d.role, code, "")
	if d.tl != nil {
		_ = d.tl.UpsertItemRun(item.ID, "dispatched")
	}
}

// stageJob builds the job for pipeline stage idx, with the remaining stages
// folded into the lookahead fields and completion routed back to the head.
func (d *Dispatcher) stageJob(issueID string, idx int) Job {
	job := Job{
		IssueID:         issueID,
		ThreadID:        issueID,
		DoneToRole:      d.role,
		DoneToAgentName: d.agent,
	}
	s := d.stages
	if idx < len(s) {
		job.Step = s[idx].Step
		job.ToRole = s[idx].Role
		job.ToAgentName = s[idx].AgentName
	}
	if idx+1 < len(s) {
		job.NextStep = s[idx+1].Step
		job.NextRole = s[idx+1].Role
		job.NextAgentName = s[idx+1].AgentName
	}
	if idx+2 < len(s) {
		job.NextNextStep = s[idx+2].Step
		job.NextNextRole = s[idx+2].Role
		job.NextNextAgentName = s[idx+2].AgentName
	}
	return job
}

// awaitDone polls for the Done notice of the in-flight item.
func (d *Dispatcher) awaitDone(ctx context.Context) {
	msgs, err := d.mail.FetchInbox(ctx, mailbox.InboxQuery{
		AgentName:   d.agent,
		Since:       d.cur.since(),
		IncludeBody: true,
	})
	if err != nil {
		slog.Error("Inbox fetch failed", "role", d.role, "error", err)
		return
	}

	for _, msg := range msgs {
		if d.cur.seen(msg) {
			continue
		}
		d.cur.advance(msg)
		if !IsDoneSubject(msg.Subject) {
			continue
		}
		done, err := DecodeDoneBody(msg.Body)
		if err != nil {
			slog.Warn("Skipping undecodable done notice", "id", msg.ID, "error", err)
			continue
		}
		if err := d.mail.Acknowledge(ctx, d.agent, msg.ID); err != nil {
			slog.Warn("Acknowledge failed", "id", msg.ID, "error", err)
		}
		if done.IssueID != d.inflight {
			slog.Warn("Done notice for unexpected item", "issue", done.IssueID, "inflight", d.inflight)
			continue
		}

		slog.Info("Work item completed pipeline", "issue", done.IssueID, "step", done.Step, "exitCode", done.ExitCode)
		recordEvent(ctx, d.tl, d.pub, EventItemCompleted, done.IssueID, done.Step, d.role, done.ExitCode, "")
		if d.tl != nil {
			_ = d.tl.UpsertItemRun(done.IssueID, "completed")
		}
		if d.notes != nil {
			_ = d.notes.ItemCompleted(ctx, done.IssueID, done.ExitCode)
		}
		d.inflight = ""
	}
}
