package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/flightline/flightline/internal/mailbox"
)

type fakeMail struct {
	inbox    []mailbox.Message
	fetchErr error
	sent     []mailbox.Outgoing
	sendErr  error
	acked    []string
	ackErr   error

	healthErr error
	projects  []string
	agents    map[string]string
	policies  map[string]string
}

func (f *fakeMail) HealthCheck(ctx context.Context) error { return f.healthErr }

func (f *fakeMail) RegisterProject(ctx context.Context, name string) error {
	f.projects = append(f.projects, name)
	return nil
}

func (f *fakeMail) RegisterAgent(ctx context.Context, agentName, role string) error {
	if f.agents == nil {
		f.agents = make(map[string]string)
	}
	f.agents[agentName] = role
	return nil
}

func (f *fakeMail) SetContactPolicy(ctx context.Context, agentName, policy string) error {
	if f.policies == nil {
		f.policies = make(map[string]string)
	}
	f.policies[agentName] = policy
	return nil
}

func (f *fakeMail) FetchInbox(ctx context.Context, q mailbox.InboxQuery) ([]mailbox.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.inbox, nil
}

func (f *fakeMail) Acknowledge(ctx context.Context, agentName, messageID string) error {
	f.acked = append(f.acked, messageID)
	return f.ackErr
}

func (f *fakeMail) Send(ctx context.Context, msg mailbox.Outgoing) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("m-out-%d", len(f.sent)), nil
}

type fakeRunner struct {
	jobs []Job
	code int
	err  error
}

func (f *fakeRunner) RunStep(ctx context.Context, job Job) (int, error) {
	f.jobs = append(f.jobs, job)
	return f.code, f.err
}

func jobMessage(t *testing.T, id string, ts time.Time, job Job) mailbox.Message {
	t.Helper()
	body, err := EncodeJobBody(job)
	if err != nil {
		t.Fatalf("EncodeJobBody: %v", err)
	}
	return mailbox.Message{
		ID:        id,
		From:      "dispatcher",
		Subject:   JobSubject(job),
		Body:      body,
		ThreadID:  job.ThreadID,
		CreatedTS: ts,
	}
}

func TestNewWorkerValidation(t *testing.T) {
	if _, err := NewWorker(WorkerOptions{Runner: &fakeRunner{}, Role: "dev"}); err == nil {
		t.Error("expected error for missing mail")
	}
	if _, err := NewWorker(WorkerOptions{Mail: &fakeMail{}, Role: "dev"}); !errors.Is(err, ErrNoRunner) {
		t.Errorf("expected ErrNoRunner, got %v", err)
	}
	if _, err := NewWorker(WorkerOptions{Mail: &fakeMail{}, Runner: &fakeRunner{}}); err == nil {
		t.Error("expected error for missing role")
	}

	w, err := NewWorker(WorkerOptions{Mail: &fakeMail{}, Runner: &fakeRunner{}, Role: "dev"})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	if w.agent != "dev" {
		t.Errorf("agent should default to role, got %q", w.agent)
	}
	if w.poll != DefaultPollInterval {
		t.Errorf("poll should default, got %v", w.poll)
	}
}

func TestWorkerForwardsJob(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inbound := Job{
		IssueID:    "bd-7",
		Step:       "dev-story",
		ThreadID:   "bd-7",
		ToRole:     "dev",
		NextStep:   "review-story",
		NextRole:   "reviewer",
		DoneToRole: "dispatcher",
	}
	mail := &fakeMail{inbox: []mailbox.Message{jobMessage(t, "m-1", ts, inbound)}}
	runner := &fakeRunner{}
	w, err := NewWorker(WorkerOptions{Mail: mail, Runner: runner, Role: "dev"})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	w.cycle(context.Background())

	if len(runner.jobs) != 1 || runner.jobs[0].Step != "dev-story" {
		t.Fatalf("runner should see the inbound step, got %+v", runner.jobs)
	}
	if len(mail.acked) != 1 || mail.acked[0] != "m-1" {
		t.Errorf("message should be acknowledged, got %v", mail.acked)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("expected exactly one outbound message, got %d", len(mail.sent))
	}

	out := mail.sent[0]
	if out.From != "dev" || len(out.To) != 1 || out.To[0] != "reviewer" {
		t.Errorf("unexpected envelope: %+v", out)
	}
	if !out.AutoContact {
		t.Error("forwarded jobs should auto-contact")
	}
	if out.ThreadID != "bd-7" {
		t.Errorf("thread should carry over, got %q", out.ThreadID)
	}
	if !IsJobSubject(out.Subject) || !strings.Contains(out.Subject, "review-story") {
		t.Errorf("unexpected subject %q", out.Subject)
	}

	fwd, err := DecodeJobBody(out.Body)
	if err != nil {
		t.Fatalf("DecodeJobBody: %v", err)
	}
	if fwd.Step != "review-story" || fwd.ToRole != "reviewer" {
		t.Errorf("unexpected forwarded job: %+v", fwd)
	}
	if fwd.HasNextHop() {
		t.Errorf("forwarded job should be the final hop: %+v", fwd)
	}
	if fwd.DoneToRole != "dispatcher" {
		t.Errorf("done target lost: %+v", fwd)
	}
	if fwd.Meta != nil {
		t.Errorf("clean run should not attach meta: %+v", fwd.Meta)
	}
}

func TestWorkerIgnoresForeignTraffic(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	otherRole := Job{IssueID: "bd-1", Step: "validate-story", ToRole: "validator"}
	otherAgent := Job{IssueID: "bd-2", Step: "dev-story", ToRole: "dev", ToAgentName: "dev2"}
	mail := &fakeMail{inbox: []mailbox.Message{
		{ID: "m-1", Subject: "weekly sync notes", Body: "hello", CreatedTS: ts},
		jobMessage(t, "m-2", ts.Add(time.Second), otherRole),
		jobMessage(t, "m-3", ts.Add(2*time.Second), otherAgent),
		{ID: "m-4", Subject: JobSubject(Job{Step: "dev-story", IssueID: "bd-3"}), Body: "not json", CreatedTS: ts.Add(3 * time.Second)},
	}}
	runner := &fakeRunner{}
	w, err := NewWorker(WorkerOptions{Mail: mail, Runner: runner, Role: "dev", AgentName: "dev1"})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	w.cycle(context.Background())

	if len(runner.jobs) != 0 {
		t.Errorf("no job should run, got %+v", runner.jobs)
	}
	if len(mail.sent) != 0 {
		t.Errorf("nothing should be sent, got %+v", mail.sent)
	}
	if len(mail.acked) != 0 {
		t.Errorf("foreign messages must not be acknowledged, got %v", mail.acked)
	}
}

func TestWorkerForwardsFailureMeta(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inbound := Job{
		IssueID:  "bd-7",
		Step:     "dev-story",
		ToRole:   "dev",
		NextStep: "review-story",
		NextRole: "reviewer",
	}
	mail := &fakeMail{inbox: []mailbox.Message{jobMessage(t, "m-1", ts, inbound)}}
	runner := &fakeRunner{code: 2}
	w, err := NewWorker(WorkerOptions{Mail: mail, Runner: runner, Role: "dev"})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	w.cycle(context.Background())

	if len(mail.sent) != 1 {
		t.Fatalf("failed step must still forward, got %d sends", len(mail.sent))
	}
	fwd, err := DecodeJobBody(mail.sent[0].Body)
	if err != nil {
		t.Fatalf("DecodeJobBody: %v", err)
	}
	if fwd.Meta["prev_step"] != "dev-story" || fwd.Meta["prev_exit_code"] != float64(2) {
		t.Errorf("failure meta missing: %+v", fwd.Meta)
	}
}

func TestWorkerSendsDoneAtPipelineEnd(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	final := Job{
		IssueID:         "bd-7",
		Step:            "review-story",
		ToRole:          "reviewer",
		DoneToRole:      "dispatcher",
		DoneToAgentName: "dispatcher",
	}
	mail := &fakeMail{inbox: []mailbox.Message{jobMessage(t, "m-1", ts, final)}}
	runner := &fakeRunner{code: 1}
	w, err := NewWorker(WorkerOptions{Mail: mail, Runner: runner, Role: "reviewer"})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	w.cycle(context.Background())

	if len(mail.sent) != 1 {
		t.Fatalf("expected one done notice, got %d", len(mail.sent))
	}
	out := mail.sent[0]
	if out.To[0] != "dispatcher" {
		t.Errorf("done notice misrouted: %+v", out)
	}
	if !IsDoneSubject(out.Subject) {
		t.Errorf("unexpected subject %q", out.Subject)
	}
	if out.ThreadID != "bd-7" {
		t.Errorf("thread should default to issue id, got %q", out.ThreadID)
	}
	done, err := DecodeDoneBody(out.Body)
	if err != nil {
		t.Fatalf("DecodeDoneBody: %v", err)
	}
	if done.IssueID != "bd-7" || done.Step != "review-story" || done.ExitCode != 1 {
		t.Errorf("unexpected done notice: %+v", done)
	}
}

func TestWorkerSkipsSeenMessages(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inbound := Job{IssueID: "bd-7", Step: "dev-story", ToRole: "dev", DoneToRole: "dispatcher"}
	mail := &fakeMail{inbox: []mailbox.Message{jobMessage(t, "m-1", ts, inbound)}}
	runner := &fakeRunner{}
	w, err := NewWorker(WorkerOptions{Mail: mail, Runner: runner, Role: "dev"})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	w.cycle(context.Background())
	w.cycle(context.Background())

	if len(runner.jobs) != 1 {
		t.Errorf("redelivered message should run once, got %d runs", len(runner.jobs))
	}
}

func TestWorkerAckFailureStillRuns(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inbound := Job{IssueID: "bd-7", Step: "dev-story", ToRole: "dev", DoneToRole: "dispatcher"}
	mail := &fakeMail{
		inbox:  []mailbox.Message{jobMessage(t, "m-1", ts, inbound)},
		ackErr: errors.New("ack refused"),
	}
	runner := &fakeRunner{}
	w, err := NewWorker(WorkerOptions{Mail: mail, Runner: runner, Role: "dev"})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	w.cycle(context.Background())

	if len(runner.jobs) != 1 {
		t.Error("ack failure must not block the step")
	}
	if len(mail.sent) != 1 {
		t.Error("ack failure must not block the done notice")
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	mail := &fakeMail{}
	w, err := NewWorker(WorkerOptions{
		Mail:          mail,
		Runner:        &fakeRunner{},
		Role:          "dev",
		ProjectName:   "demo",
		ContactPolicy: "open",
		PollInterval:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(mail.projects) != 1 || mail.projects[0] != "demo" {
		t.Errorf("project not registered: %v", mail.projects)
	}
	if mail.agents["dev"] != "dev" {
		t.Errorf("agent not registered: %v", mail.agents)
	}
	if mail.policies["dev"] != "open" {
		t.Errorf("contact policy not set: %v", mail.policies)
	}
}

func TestWorkerRunHandshakeFailure(t *testing.T) {
	mail := &fakeMail{healthErr: errors.New("connection refused")}
	w, err := NewWorker(WorkerOptions{Mail: mail, Runner: &fakeRunner{}, Role: "dev"})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	err = w.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "mailbox health check") {
		t.Errorf("expected health check failure, got %v", err)
	}
}
