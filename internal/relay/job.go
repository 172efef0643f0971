// Package relay implements the job-relay protocol: a dispatcher seeds work
// items from the backlog into a fixed pipeline, and workers poll the shared
// mailbox, execute their step through an external runner, and forward the job
// to the next role until a completion notice flows back to the dispatcher.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Subject markers distinguishing relay traffic from ordinary mailbox messages.
const (
	JobMarker  = "[relay job]"
	DoneMarker = "[relay done]"
)

// Job describes one pipeline hop for a work item. A Job is immutable once
// sent; receivers build a fresh Job for the next hop instead of mutating the
// inbound one. The descriptor carries two hops of lookahead, which is enough
// for a four-stage pipeline whose first stage runs on the dispatcher itself.
type Job struct {
	IssueID           string         `json:"issue_id"`
	Step              string         `json:"step"`
	ThreadID          string         `json:"thread_id,omitempty"`
	ToRole            string         `json:"to_role"`
	ToAgentName       string         `json:"to_agent_name,omitempty"`
	NextStep          string         `json:"next_step,omitempty"`
	NextRole          string         `json:"next_role,omitempty"`
	NextAgentName     string         `json:"next_agent_name,omitempty"`
	NextNextStep      string         `json:"next_next_step,omitempty"`
	NextNextRole      string         `json:"next_next_role,omitempty"`
	NextNextAgentName string         `json:"next_next_agent_name,omitempty"`
	DoneToRole        string         `json:"done_to_role,omitempty"`
	DoneToAgentName   string         `json:"done_to_agent_name,omitempty"`
	Meta              map[string]any `json:"meta,omitempty"`
}

// HasNextHop reports whether the job names a following stage.
func (j Job) HasNextHop() bool { return j.NextRole != "" }

// HasDoneTarget reports whether a completion notice should be sent after the
// final stage.
func (j Job) HasDoneTarget() bool { return j.DoneToRole != "" || j.DoneToAgentName != "" }

// NextHop builds the job for the following stage: the next-hop fields shift
// into place, the done target rides along, and the thread id carries over,
// defaulting to the work item id.
func (j Job) NextHop() Job {
	next := Job{
		IssueID:         j.IssueID,
		Step:            j.NextStep,
		ThreadID:        j.ThreadID,
		ToRole:          j.NextRole,
		ToAgentName:     j.NextAgentName,
		NextStep:        j.NextNextStep,
		NextRole:        j.NextNextRole,
		NextAgentName:   j.NextNextAgentName,
		DoneToRole:      j.DoneToRole,
		DoneToAgentName: j.DoneToAgentName,
	}
	if next.ThreadID == "" {
		next.ThreadID = j.IssueID
	}
	return next
}

// Recipient returns the mailbox name the job should be sent to.
func (j Job) Recipient() string {
	if j.ToAgentName != "" {
		return j.ToAgentName
	}
	return j.ToRole
}

// Done reports completion of the final pipeline stage for one work item.
type Done struct {
	IssueID  string         `json:"issue_id"`
	Step     string         `json:"step"`
	ExitCode int            `json:"exit_code"`
	Artifact string         `json:"artifact,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// JobSubject builds the subject line for a job message.
func JobSubject(j Job) string {
	return fmt.Sprintf("%s %s %s", JobMarker, j.Step, j.IssueID)
}

// DoneSubject builds the subject line for a completion notice.
func DoneSubject(d Done) string {
	return fmt.Sprintf("%s %s %s", DoneMarker, d.Step, d.IssueID)
}

// IsJobSubject reports whether a subject line marks a relay job.
func IsJobSubject(subject string) bool {
	return strings.HasPrefix(subject, JobMarker)
}

// IsDoneSubject reports whether a subject line marks a completion notice.
func IsDoneSubject(subject string) bool {
	return strings.HasPrefix(subject, DoneMarker)
}

// Message bodies carry the payload in a fenced JSON block so they stay
// readable in mailbox UIs. Decoding also accepts a bare JSON body.
var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")

func payloadOf(body string) string {
	if m := fencedJSON.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(body)
}

// EncodeJobBody renders a job as a message body.
func EncodeJobBody(j Job) (string, error) {
	payload, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Relay job: run %s for work item %s.\n\n", j.Step, j.IssueID)
	b.WriteString("```json\n")
	b.Write(payload)
	b.WriteString("\n```\n")
	return b.String(), nil
}

// DecodeJobBody extracts the job descriptor from a message body.
func DecodeJobBody(body string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(payloadOf(body)), &j); err != nil {
		return Job{}, fmt.Errorf("decode job body: %w", err)
	}
	if j.IssueID == "" {
		return Job{}, errors.New("decode job body: missing issue_id")
	}
	return j, nil
}

// EncodeDoneBody renders a completion notice as a message body.
func EncodeDoneBody(d Done) (string, error) {
	payload, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode done notice: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Relay done: %s finished for work item %s (exit code %d).\n\n", d.Step, d.IssueID, d.ExitCode)
	b.WriteString("```json\n")
	b.Write(payload)
	b.WriteString("\n```\n")
	return b.String(), nil
}

// DecodeDoneBody extracts the completion notice from a message body.
func DecodeDoneBody(body string) (Done, error) {
	var d Done
	if err := json.Unmarshal([]byte(payloadOf(body)), &d); err != nil {
		return Done{}, fmt.Errorf("decode done body: %w", err)
	}
	if d.IssueID == "" {
		return Done{}, errors.New("decode done body: missing issue_id")
	}
	return d, nil
}
