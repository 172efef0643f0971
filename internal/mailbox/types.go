package mailbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tool names understood by the mail server.
const (
	toolHealthCheck      = "health_check"
	toolRegisterProject  = "register_project"
	toolRegisterAgent    = "register_agent"
	toolSetContactPolicy = "set_contact_policy"
	toolFetchInbox       = "fetch_inbox"
	toolAckMessage       = "acknowledge_message"
	toolSendMessage      = "send_message"
)

// Message is one inbox entry as returned by fetch_inbox. Body is only
// populated when the fetch requested it.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        []string  `json:"to,omitempty"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	CreatedTS time.Time `json:"created_ts"`
}

// InboxQuery selects messages for one agent, optionally restricted to those
// created at or after Since.
type InboxQuery struct {
	AgentName   string
	Since       time.Time
	IncludeBody bool
	Limit       int
}

// Outgoing describes a message send.
type Outgoing struct {
	From        string
	To          []string
	Subject     string
	Body        string
	ThreadID    string
	AutoContact bool
}

// RPCError is a protocol-level error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}
