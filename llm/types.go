// Package llm defines the adapter contract agents speak to language models
// through, the function-calling schema types, and two production adapters:
// one on the OpenAI-compatible chat API and one bridging any langchaingo
// model.
package llm

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Function is the called function inside a tool call. Arguments is the raw
// JSON string exactly as the model produced it.
type Function struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Response is one model reply: content, optional reasoning, and any tool
// calls to resolve before the next round.
type Response struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the reply requests tool resolution.
func (r *Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Message is a plain chat message as stored in observations.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolResult is a resolved tool call as stored in observations and fed back
// to the model.
type ToolResult struct {
	Role       string `json:"role"` // always "tool"
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// Turn is one entry of the conversation context handed to an adapter. It is
// the union of the message shapes above: plain messages carry Role+Content,
// assistant turns may add ToolCalls, tool turns carry ToolCallID.
type Turn struct {
	Role       string
	Content    string
	Reasoning  string
	ToolCalls  []ToolCall
	ToolCallID string
}

// SystemTurn builds a system-role turn.
func SystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// UserTurn builds a user-role turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds a turn from a model response.
func AssistantTurn(r *Response) Turn {
	return Turn{Role: RoleAssistant, Content: r.Content, Reasoning: r.Reasoning, ToolCalls: r.ToolCalls}
}

// ToolTurn builds a tool-result turn.
func ToolTurn(toolCallID, content string) Turn {
	return Turn{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// Property is one parameter of a tool schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Parameters is the JSON-schema object describing a tool's arguments.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// FunctionSchema names and describes a callable tool.
type FunctionSchema struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// ToolSchema is the function-calling JSON shape exposed to models.
type ToolSchema struct {
	Type     string         `json:"type"` // always "function"
	Function FunctionSchema `json:"function"`
}

// Adapter is the model contract: one chat completion given the conversation
// so far and the tools the model may call.
type Adapter interface {
	ChatCompletion(ctx context.Context, turns []Turn, tools []ToolSchema) (*Response, error)
}
