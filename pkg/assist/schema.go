package assist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ravi-parthasarathy/convoy/pkg/llm"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

// structuredTool is a tool the model is forced to call, plus the compiled
// schema its arguments are checked against.
type structuredTool struct {
	llm.Tool
	schema *jsonschema.Schema
}

// validate decodes raw arguments and checks them against the tool schema.
func (t *structuredTool) validate(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return invalid("%s arguments: %v", t.Name, err)
	}
	if err := t.schema.Validate(v); err != nil {
		return invalid("%s arguments: %v", t.Name, err)
	}
	return nil
}

func newStructuredTool(name, description string, schema map[string]any) *structuredTool {
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tool %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", strings.NewReader(string(b))); err != nil {
		panic(fmt.Sprintf("tool %s: %v", name, err))
	}
	compiled, err := c.Compile(name + ".json")
	if err != nil {
		panic(fmt.Sprintf("tool %s: %v", name, err))
	}
	return &structuredTool{
		Tool:   llm.Tool{Name: name, Description: description, Schema: b},
		schema: compiled,
	}
}

func kindEnum() []any {
	out := make([]any, len(pipeline.DataKinds))
	for i, k := range pipeline.DataKinds {
		out[i] = string(k)
	}
	return out
}

func proposalSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"nodes"},
		"properties": map[string]any{
			"nodes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"kind"},
					"properties": map[string]any{
						"kind":         map[string]any{"type": "string", "enum": kindEnum()},
						"config":       map[string]any{"type": "object"},
						"label":        map[string]any{"type": "string"},
						"overrideCode": map[string]any{"type": "string"},
					},
				},
			},
			"explanation": map[string]any{"type": "string"},
		},
	}
}

var (
	proposeTool = newStructuredTool(
		"propose_pipeline",
		"Return the pipeline as an ordered list of steps, starting with the data source.",
		proposalSchema(),
	)
	importTool = newStructuredTool(
		"import_pipeline",
		"Return the pipeline that the given pandas script performs.",
		map[string]any{
			"type":       "object",
			"required":   []any{"pipeline"},
			"properties": map[string]any{"pipeline": proposalSchema()},
		},
	)
	editTool = newStructuredTool(
		"update_nodes",
		"Return updated config or replacement code for the selected nodes, keyed by node id.",
		map[string]any{
			"type":     "object",
			"required": []any{"updates"},
			"properties": map[string]any{
				"updates": map[string]any{
					"type": "object",
					"additionalProperties": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"config":       map[string]any{"type": "object"},
							"overrideCode": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	)
)
