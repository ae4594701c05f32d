package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ravi-parthasarathy/convoy/pkg/llm"
)

func init() {
	llm.RegisterProvider("gemini", func(modelName string) (llm.Client, error) {
		return newGeminiClient(modelName)
	})
}

type geminiClient struct {
	sdk       *genai.Client
	modelName string
}

func newGeminiClient(modelName string) (*geminiClient, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("gemini: GEMINI_API_KEY environment variable not set")
	}
	sdk, err := genai.NewClient(context.Background(), option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &geminiClient{sdk: sdk, modelName: modelName}, nil
}

func (c *geminiClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := c.sdk.GenerativeModel(c.modelName)
	configureModel(model, req)

	history, last, err := buildContents(req.Messages)
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini: build contents: %w", err)
	}
	if last == nil {
		return llm.Response{}, fmt.Errorf("gemini: no user message to send")
	}

	var resp llm.Response
	err = llm.WithRetry(ctx, maxAttempts, func() error {
		cs := model.StartChat()
		cs.History = history
		out, err := cs.SendMessage(ctx, last.Parts...)
		if err != nil {
			return mapGeminiError(err)
		}
		resp = convertGeminiResponse(out)
		return nil
	})
	return resp, err
}

func configureModel(model *genai.GenerativeModel, req llm.Request) {
	maxTokens := int32(llm.DefaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}
	model.MaxOutputTokens = &maxTokens
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if len(req.Tools) > 0 {
		model.Tools = buildGeminiTools(req.Tools)
	}
	if req.ForceTool != "" {
		model.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingAny,
				AllowedFunctionNames: []string{req.ForceTool},
			},
		}
	}
}

// buildContents translates messages into Gemini contents. The last one is
// returned separately for SendMessage; the rest is chat history.
func buildContents(msgs []llm.Message) ([]*genai.Content, *genai.Content, error) {
	var contents []*genai.Content
	for _, m := range msgs {
		c, err := messageContent(m)
		if err != nil {
			return nil, nil, err
		}
		if c != nil {
			contents = append(contents, c)
		}
	}
	if len(contents) == 0 {
		return nil, nil, nil
	}
	return contents[:len(contents)-1], contents[len(contents)-1], nil
}

func messageContent(m llm.Message) (*genai.Content, error) {
	role := "user"
	if m.Role == llm.RoleAssistant {
		role = "model"
	}
	var parts []genai.Part
	for _, b := range m.Content {
		switch b.Type {
		case llm.ContentTypeText:
			if b.Text != "" {
				parts = append(parts, genai.Text(b.Text))
			}
		case llm.ContentTypeToolUse:
			if b.ToolUse == nil {
				continue
			}
			var args map[string]any
			if len(b.ToolUse.Input) > 0 {
				if err := json.Unmarshal(b.ToolUse.Input, &args); err != nil {
					return nil, fmt.Errorf("tool_use %q: unmarshal input: %w", b.ToolUse.Name, err)
				}
			}
			parts = append(parts, genai.FunctionCall{Name: b.ToolUse.Name, Args: args})
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return &genai.Content{Role: role, Parts: parts}, nil
}

func buildGeminiTools(defs []llm.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		fd := &genai.FunctionDeclaration{Name: d.Name, Description: d.Description}
		if len(d.Schema) > 0 {
			if schema, err := jsonSchemaToGenai(d.Schema); err == nil {
				fd.Parameters = schema
			}
		}
		decls = append(decls, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func jsonSchemaToGenai(raw []byte) (*genai.Schema, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("jsonSchemaToGenai: %w", err)
	}
	return mapToGenaiSchema(m), nil
}

var genaiTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"string":  genai.TypeString,
	"integer": genai.TypeInteger,
	"number":  genai.TypeNumber,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
}

// mapToGenaiSchema covers the subset of JSON Schema that tool arguments use.
// A type union such as ["string", "number"] maps to its first member.
func mapToGenaiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{Type: genai.TypeUnspecified}
	switch t := m["type"].(type) {
	case string:
		s.Type = genaiTypes[t]
	case []any:
		if len(t) > 0 {
			if name, ok := t[0].(string); ok {
				s.Type = genaiTypes[name]
			}
		}
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for k, v := range props {
			if vm, ok := v.(map[string]any); ok {
				s.Properties[k] = mapToGenaiSchema(vm)
			}
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = mapToGenaiSchema(items)
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) llm.Response {
	out := llm.Response{StopReason: llm.StopReasonEndTurn}
	if resp.UsageMetadata != nil {
		out.Usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.Usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				if v != "" {
					out.Content = append(out.Content, llm.ContentBlock{Type: llm.ContentTypeText, Text: string(v)})
				}
			case genai.FunctionCall:
				input, _ := json.Marshal(v.Args)
				// Gemini has no call ids; the function name stands in.
				out.Content = append(out.Content, llm.ContentBlock{
					Type:    llm.ContentTypeToolUse,
					ToolUse: &llm.ToolUse{ID: v.Name, Name: v.Name, Input: input},
				})
			}
		}
	}
	// Gemini reports FinishReasonStop even when it called a function.
	for _, b := range out.Content {
		if b.Type == llm.ContentTypeToolUse {
			out.StopReason = llm.StopReasonToolUse
			return out
		}
	}
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = llm.StopReasonMaxTokens
	}
	return out
}

func mapGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return llm.FromStatus(apiErr.Code, apiErr.Message, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
