// Package llm defines the reasoning contract used by the formulation, offer
// and coordinator skills, plus an OpenAI-backed implementation.
package llm

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Reasoning errors.
var (
	// ErrEmptyResponse indicates the model returned neither text nor tool calls.
	ErrEmptyResponse = errors.New("llm: empty response")

	// ErrNoChoices indicates the API returned no completion choices.
	ErrNoChoices = errors.New("llm: no completion choices")
)

// Message is one turn of a conversation. Tool results set ToolCallID and
// ToolName; assistant turns that requested tools carry ToolCalls.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolName   string
	ToolCalls  []ToolCall
}

// ToolCall is a tool invocation requested by the model. Arguments are the
// decoded JSON arguments.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolSchema describes a tool offered to the model. Parameters is a JSON
// Schema object.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is one reasoning call. Tools may be empty to force a plain
// text response.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
}

// ChatResponse is the model's reply. Either Content or ToolCalls is set
// (tool calls win when both are present).
type ChatResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
}

// ReasoningClient sends chat requests to a reasoning model.
type ReasoningClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
