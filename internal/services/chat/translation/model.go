// Package translation wraps the language model behind the relay's translate
// and help-assistant contracts.
package translation

import "context"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one message sent to the model.
type Turn struct {
	Role       Role
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
	// Raw carries the provider's own encoding of an assistant turn so it can
	// be replayed verbatim in the next request.
	Raw any
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// CompletionRequest is one stateless exchange with the model.
type CompletionRequest struct {
	Model       string
	System      string
	Turns       []Turn
	Tools       []Tool
	Temperature float64
}

// Reply is the model's answer to a CompletionRequest.
type Reply struct {
	Content   string
	ToolCalls []ToolCall
	Raw       any
}

// Model completes chat requests.
type Model interface {
	Complete(ctx context.Context, req CompletionRequest) (Reply, error)
}
