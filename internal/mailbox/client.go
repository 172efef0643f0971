// Package mailbox implements the RPC client for the shared agent mail
// server. Every call is a tool name plus an argument map over JSON-RPC 2.0;
// the server's transport internals are opaque to the rest of the system.
package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// Options configures a mailbox client.
type Options struct {
	BaseURL     string
	APIKey      string
	ProjectPath string
	Timeout     time.Duration
}

// Client is a thin JSON-RPC client for the mail server.
type Client struct {
	baseURL    string
	apiKey     string
	project    string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a mailbox client for the server at opts.BaseURL.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		project: opts.ProjectPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ProjectPath returns the project identity the client registers under.
func (c *Client) ProjectPath() string {
	return c.project
}

// Call invokes one tool by name with an argument map and returns the raw
// decoded result. Transport failures, non-200 statuses, malformed responses,
// and protocol error objects all surface as errors.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	endpoint, err := c.safeURL("/rpc")
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: %w", tool, err)
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  tool,
		Params:  args,
	})
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: encode request: %w", tool, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: create request: %w", tool, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: request failed: %w", tool, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: read response: %w", tool, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailbox %s: status %d: %s", tool, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("mailbox %s: decode response: %w", tool, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mailbox %s: %w", tool, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

// HealthCheck verifies the server answers the health tool.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Call(ctx, toolHealthCheck, map[string]any{})
	return err
}

// Healthy reports whether the server is reachable and answering.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.HealthCheck(ctx) == nil
}

// RegisterProject registers the client's project with the server.
func (c *Client) RegisterProject(ctx context.Context, name string) error {
	args := map[string]any{
		"project_path": c.project,
	}
	if name != "" {
		args["project_name"] = name
	}
	_, err := c.Call(ctx, toolRegisterProject, args)
	return err
}

// RegisterAgent registers one agent identity under the client's project.
func (c *Client) RegisterAgent(ctx context.Context, agentName, role string) error {
	_, err := c.Call(ctx, toolRegisterAgent, map[string]any{
		"project_path": c.project,
		"agent_name":   agentName,
		"role":         role,
	})
	return err
}

// SetContactPolicy configures how other agents may contact agentName.
func (c *Client) SetContactPolicy(ctx context.Context, agentName, policy string) error {
	_, err := c.Call(ctx, toolSetContactPolicy, map[string]any{
		"project_path": c.project,
		"agent_name":   agentName,
		"policy":       policy,
	})
	return err
}

// FetchInbox returns the agent's inbox messages matching the query, oldest
// first as delivered by the server.
func (c *Client) FetchInbox(ctx context.Context, q InboxQuery) ([]Message, error) {
	args := map[string]any{
		"project_path": c.project,
		"agent_name":   q.AgentName,
		"include_body": q.IncludeBody,
	}
	if !q.Since.IsZero() {
		args["since"] = q.Since.UTC().Format(time.RFC3339Nano)
	}
	if q.Limit > 0 {
		args["limit"] = q.Limit
	}
	raw, err := c.Call(ctx, toolFetchInbox, args)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("mailbox %s: decode messages: %w", toolFetchInbox, err)
	}
	return out.Messages, nil
}

// Acknowledge marks one message as handled for the agent. Callers treat
// failures as best-effort.
func (c *Client) Acknowledge(ctx context.Context, agentName, messageID string) error {
	_, err := c.Call(ctx, toolAckMessage, map[string]any{
		"project_path": c.project,
		"agent_name":   agentName,
		"message_id":   messageID,
	})
	return err
}

// Send delivers a message to the given recipients and returns the server's
// message id when it reports one.
func (c *Client) Send(ctx context.Context, msg Outgoing) (string, error) {
	raw, err := c.Call(ctx, toolSendMessage, map[string]any{
		"project_path": c.project,
		"from_agent":   msg.From,
		"to":           msg.To,
		"subject":      msg.Subject,
		"body":         msg.Body,
		"thread_id":    msg.ThreadID,
		"auto_contact": msg.AutoContact,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		MessageID string `json:"message_id"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("mailbox %s: decode response: %w", toolSendMessage, err)
		}
	}
	return out.MessageID, nil
}

// safeHost matches valid hostname:port patterns.
var safeHost = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// safeURL parses and validates the base URL, then constructs a safe endpoint.
func (c *Client) safeURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}
	if !safeHost.MatchString(u.Host) {
		return "", fmt.Errorf("invalid host: %s", u.Host)
	}
	// Reconstruct from validated components.
	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/") + path, nil
}
