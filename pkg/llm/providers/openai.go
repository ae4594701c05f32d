package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ravi-parthasarathy/convoy/pkg/llm"
)

func init() {
	llm.RegisterProvider("openai", func(modelName string) (llm.Client, error) {
		return newOpenAIClient(modelName)
	})
}

type openaiClient struct {
	sdk       *openai.Client
	modelName string
}

func newOpenAIClient(modelName string) (*openaiClient, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY environment variable not set")
	}
	return &openaiClient{sdk: openai.NewClient(key), modelName: modelName}, nil
}

func (c *openaiClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	params := openaiParams(c.modelName, req)
	var resp llm.Response
	err := llm.WithRetry(ctx, maxAttempts, func() error {
		out, err := c.sdk.CreateChatCompletion(ctx, params)
		if err != nil {
			return mapOpenAIError(err)
		}
		resp = convertOpenAIResponse(out)
		return nil
	})
	return resp, err
}

func openaiParams(model string, req llm.Request) openai.ChatCompletionRequest {
	maxTokens := llm.DefaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Messages, req.System),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	if req.ForceTool != "" {
		params.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.ForceTool},
		}
	}
	return params
}

// buildMessages converts messages to chat completion form, with the system
// prompt first.
func buildMessages(msgs []llm.Message, system string) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: concatText(m.Content),
			})
		case llm.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			for _, b := range m.Content {
				switch b.Type {
				case llm.ContentTypeText:
					msg.Content += b.Text
				case llm.ContentTypeToolUse:
					if b.ToolUse != nil {
						msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
							ID:   b.ToolUse.ID,
							Type: openai.ToolTypeFunction,
							Function: openai.FunctionCall{
								Name:      b.ToolUse.Name,
								Arguments: string(b.ToolUse.Input),
							},
						})
					}
				}
			}
			out = append(out, msg)
		}
	}
	return out
}

func buildTools(defs []llm.Tool) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		var params any
		if len(d.Schema) > 0 {
			params = d.Schema
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func convertOpenAIResponse(resp openai.ChatCompletionResponse) llm.Response {
	out := llm.Response{
		StopReason: llm.StopReasonEndTurn,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		out.Content = append(out.Content, llm.ContentBlock{Type: llm.ContentTypeText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, llm.ContentBlock{
			Type: llm.ContentTypeToolUse,
			ToolUse: &llm.ToolUse{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: []byte(tc.Function.Arguments),
			},
		})
	}
	switch choice.FinishReason {
	case openai.FinishReasonToolCalls:
		out.StopReason = llm.StopReasonToolUse
	case openai.FinishReasonLength:
		out.StopReason = llm.StopReasonMaxTokens
	case openai.FinishReasonStop:
		// A forced tool call finishes with "stop".
		if len(choice.Message.ToolCalls) > 0 {
			out.StopReason = llm.StopReasonToolUse
		}
	}
	return out
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.FromStatus(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	return fmt.Errorf("openai: %w", err)
}

func concatText(blocks []llm.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == llm.ContentTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
