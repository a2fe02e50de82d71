package anthropic

import (
	"encoding/json"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

// rawSchemaToInputSchema adapts a tool's raw JSON schema into the shape the
// Anthropic SDK expects for ToolParam.InputSchema.
func rawSchemaToInputSchema(raw json.RawMessage) sdk.ToolInputSchemaParam {
	var decoded struct {
		Type       string                     `json:"type"`
		Properties map[string]any             `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	if decoded.Type == "" {
		decoded.Type = "object"
	}
	return sdk.ToolInputSchemaParam{
		Properties: decoded.Properties,
		Required:   decoded.Required,
	}
}
