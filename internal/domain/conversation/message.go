package conversation

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a request from the assistant to invoke a registered tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolError is the structured payload carried by a failed tool result.
type ToolError struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
}

// Message is one entry in the conversation log. Exactly one shape applies per
// role: system and user carry Content; assistant carries Content or ToolCalls;
// tool carries ToolCallID plus Content (result payload) or Error.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Error      *ToolError `json:"tool_error,omitempty"`
}

// SystemMessage builds the seed message for a session.
func SystemMessage(prompt string) Message {
	return Message{Role: RoleSystem, Content: prompt}
}

// UserMessage builds a finalized-transcript message.
func UserMessage(text string, at time.Time) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: at}
}

// AssistantText builds a plain assistant reply.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// AssistantToolCalls builds an assistant message requesting tool invocations.
func AssistantToolCalls(calls []ToolCall) Message {
	return Message{Role: RoleAssistant, ToolCalls: calls}
}

// ToolResult builds a successful tool result message.
func ToolResult(callID, payload string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: payload}
}

// ToolFailure builds a failed tool result message. Failures are data, not
// session errors; the model decides how to recover.
func ToolFailure(callID, kind, message string) Message {
	return Message{
		Role:       RoleTool,
		ToolCallID: callID,
		Error:      &ToolError{Kind: kind, Message: message},
	}
}
