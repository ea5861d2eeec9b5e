package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/soyeahso/lucai/internal/finance"
)

// parameterSchema builds the JSON Schema for a record-creating tool. The
// category enum is the closed set for the tool's record kind.
func parameterSchema(k finance.Kind) map[string]any {
	cats := finance.Categories(k)
	enum := make([]string, len(cats))
	for i, c := range cats {
		enum[i] = string(c)
	}

	verb := "spent"
	if k == finance.KindIncome {
		verb = "received"
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("Brief title for the %s (max %d characters)", k, finance.MaxTitleLen),
			},
			"description": map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("Optional detailed description (max %d characters). Empty if the user gave none.", finance.MaxDescriptionLen),
			},
			"category": map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("%s category", k),
				"enum":        enum,
			},
			"amount": map[string]any{
				"type":             "number",
				"description":      fmt.Sprintf("Amount %s, positive", verb),
				"exclusiveMinimum": 0,
			},
			"transactionDate": map[string]any{
				"type":        "string",
				"description": "Date of the transaction, e.g. 2025-10-24 or 2025-10-24T09:00:00Z",
			},
		},
		"required":             []string{"title", "category", "amount", "transactionDate"},
		"additionalProperties": false,
	}
}

type compiledTool struct {
	name   Name
	kind   finance.Kind
	desc   string
	raw    json.RawMessage
	schema *jsonschema.Schema
}

func compileTool(n Name) (*compiledTool, error) {
	k, _ := n.Kind()
	raw, err := json.Marshal(parameterSchema(k))
	if err != nil {
		return nil, fmt.Errorf("encode %s schema: %w", n, err)
	}
	schema, err := jsonschema.CompileString(string(n)+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", n, err)
	}
	return &compiledTool{
		name:   n,
		kind:   k,
		desc:   n.description(),
		raw:    raw,
		schema: schema,
	}, nil
}

// schemaViolation flattens a jsonschema error to its first leaf cause.
func schemaViolation(tool Name, err error) *ValidationError {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &ValidationError{Tool: tool, Message: err.Error()}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := ve.InstanceLocation
	if len(field) > 0 && field[0] == '/' {
		field = field[1:]
	}
	return &ValidationError{Tool: tool, Field: field, Message: ve.Message}
}
