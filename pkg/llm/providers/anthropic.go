// Package providers registers LLM provider adapters. Import it with a
// blank identifier to activate anthropic, openai and gemini:
//
//	import _ "github.com/ravi-parthasarathy/convoy/pkg/llm/providers"
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/ravi-parthasarathy/convoy/pkg/llm"
)

// maxAttempts bounds retries of transient provider failures.
const maxAttempts = 4

func init() {
	llm.RegisterProvider("anthropic", func(modelName string) (llm.Client, error) {
		return newAnthropicClient(modelName), nil
	})
}

type anthropicClient struct {
	sdk       anthropicsdk.Client
	modelName string
}

// newAnthropicClient reads ANTHROPIC_API_KEY from the environment.
func newAnthropicClient(modelName string, opts ...option.RequestOption) *anthropicClient {
	return &anthropicClient{sdk: anthropicsdk.NewClient(opts...), modelName: modelName}
}

func (a *anthropicClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	params := anthropicParams(a.modelName, req)
	var resp llm.Response
	err := llm.WithRetry(ctx, maxAttempts, func() error {
		msg, err := a.sdk.Messages.New(ctx, params)
		if err != nil {
			return mapAnthropicError(err)
		}
		resp = convertAnthropicResponse(msg)
		return nil
	})
	return resp, err
}

func anthropicParams(model string, req llm.Request) anthropicsdk.MessageNewParams {
	msgs := make([]anthropicsdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case llm.ContentTypeText:
				blocks = append(blocks, anthropicsdk.NewTextBlock(b.Text))
			case llm.ContentTypeToolUse:
				if b.ToolUse != nil {
					var input any
					_ = json.Unmarshal(b.ToolUse.Input, &input)
					blocks = append(blocks, anthropicsdk.NewToolUseBlock(b.ToolUse.ID, input, b.ToolUse.Name))
				}
			}
		}
		if m.Role == llm.RoleAssistant {
			msgs = append(msgs, anthropicsdk.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropicsdk.NewUserMessage(blocks...))
		}
	}

	maxTokens := int64(llm.DefaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	for _, t := range req.Tools {
		tp := anthropicsdk.ToolParam{
			Name:        t.Name,
			InputSchema: anthropicSchema(t.Schema),
			Description: param.NewOpt(t.Description),
		}
		params.Tools = append(params.Tools, anthropicsdk.ToolUnionParam{OfTool: &tp})
	}
	if req.ForceTool != "" {
		params.ToolChoice = anthropicsdk.ToolChoiceParamOfTool(req.ForceTool)
	}
	return params
}

// anthropicSchema lifts properties and required out of a JSON Schema object;
// the SDK fixes the top-level type to object.
func anthropicSchema(raw json.RawMessage) anthropicsdk.ToolInputSchemaParam {
	var schema anthropicsdk.ToolInputSchemaParam
	var m struct {
		Properties any      `json:"properties"`
		Required   []string `json:"required"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return schema
	}
	schema.Properties = m.Properties
	schema.Required = m.Required
	return schema
}

func convertAnthropicResponse(msg *anthropicsdk.Message) llm.Response {
	blocks := make([]llm.ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			blocks = append(blocks, llm.ContentBlock{Type: llm.ContentTypeText, Text: b.Text})
		case "tool_use":
			blocks = append(blocks, llm.ContentBlock{
				Type:    llm.ContentTypeToolUse,
				ToolUse: &llm.ToolUse{ID: b.ID, Name: b.Name, Input: json.RawMessage(b.Input)},
			})
		}
	}

	stop := llm.StopReasonEndTurn
	switch msg.StopReason {
	case anthropicsdk.StopReasonToolUse:
		stop = llm.StopReasonToolUse
	case anthropicsdk.StopReasonMaxTokens:
		stop = llm.StopReasonMaxTokens
	}
	return llm.Response{
		Content:    blocks,
		StopReason: stop,
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

func mapAnthropicError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return llm.FromStatus(apiErr.StatusCode, apiErr.Error(), err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
