// Package llm is the boundary to the chat-completions model: message types,
// the tool schema wire format and an Azure OpenAI client with transient
// retry.
package llm

import (
	"context"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
)

// Roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// FunctionCall is the function part of a tool call. Arguments is a JSON
// document encoded as a string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one conversation entry.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// ToolResult answers the tool call with id.
func ToolResult(id, content string) Message {
	return Message{Role: RoleTool, ToolCallID: id, Content: content}
}

// Function is the schema of one callable tool.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool wraps a Function for the tools array.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// ToolsFrom converts dispatcher specs to the wire format, preserving order.
func ToolsFrom(specs []tools.Spec) []Tool {
	out := make([]Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, Tool{
			Type:     "function",
			Function: Function{Name: s.Name, Description: s.Description, Parameters: s.Schema()},
		})
	}
	return out
}

// Request is one model call.
type Request struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting of a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one candidate completion.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Response is the decoded completion.
type Response struct {
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Message returns the first choice's message.
func (r *Response) Message() (Message, bool) {
	if r == nil || len(r.Choices) == 0 {
		return Message{}, false
	}
	return r.Choices[0].Message, true
}

// Model completes a conversation.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
