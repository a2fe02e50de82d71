package openai

import (
	"encoding/json"

	"github.com/openai/openai-go/shared"
)

// rawSchemaToParameters adapts a tool's raw JSON schema into the
// FunctionParameters map the OpenAI SDK expects.
func rawSchemaToParameters(raw json.RawMessage) shared.FunctionParameters {
	params := shared.FunctionParameters{"type": "object"}
	if len(raw) == 0 {
		return params
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		for k, v := range decoded {
			params[k] = v
		}
	}
	return params
}
