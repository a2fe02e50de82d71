package bedrock

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
)

// documentFromRaw adapts a tool's raw JSON schema into a Bedrock document for
// ToolInputSchemaMemberJson.
func documentFromRaw(raw json.RawMessage) document.Interface {
	var decoded any = map[string]any{"type": "object"}
	if len(raw) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			decoded = parsed
		}
	}
	return document.NewLazyDocument(decoded)
}
