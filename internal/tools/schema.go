package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// StructSchema derives a JSON-Schema map from a Go struct. Declarations sent
// to the model are additionally run through the transport sanitiser.
func StructSchema(v any) map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}
