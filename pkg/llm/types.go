package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType identifies what a block holds.
type ContentType string

const (
	ContentTypeText    ContentType = "text"
	ContentTypeToolUse ContentType = "tool_use"
)

// ContentBlock is one element of a message or response.
type ContentBlock struct {
	Type    ContentType `json:"type"`
	Text    string      `json:"text,omitempty"`
	ToolUse *ToolUse    `json:"tool_use,omitempty"`
}

// ToolUse is a model's call of a declared tool. Input is the raw JSON
// arguments object.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a plain-text message.
func TextMessage(role Role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: ContentTypeText, Text: text}},
	}
}

// Tool declares a function the model may call. Schema is a JSON Schema
// object describing the arguments.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

// Request is the provider-neutral input to Complete.
type Request struct {
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
	// ForceTool names a tool the model must call. Used to get structured
	// output that matches the tool's schema.
	ForceTool string `json:"force_tool,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// DefaultMaxTokens applies when Request.MaxTokens is zero.
const DefaultMaxTokens = 4096

// StopReason explains why generation stopped.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// Usage reports token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the provider-neutral output of Complete.
type Response struct {
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Text concatenates the response's text blocks.
func (r Response) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == ContentTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolCall returns the first call of the named tool.
func (r Response) ToolCall(name string) (*ToolUse, bool) {
	for _, b := range r.Content {
		if b.Type == ContentTypeToolUse && b.ToolUse != nil && b.ToolUse.Name == name {
			return b.ToolUse, true
		}
	}
	return nil, false
}

// ParseModelID splits "provider:model-name". Both parts must be non-empty.
func ParseModelID(id string) (provider, modelName string, err error) {
	provider, modelName, ok := strings.Cut(id, ":")
	switch {
	case !ok:
		return "", "", fmt.Errorf("model ID %q: missing 'provider:model-name' format", id)
	case provider == "":
		return "", "", fmt.Errorf("model ID %q: empty provider name", id)
	case modelName == "":
		return "", "", fmt.Errorf("model ID %q: empty model name", id)
	}
	return provider, modelName, nil
}
