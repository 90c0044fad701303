package transport

// SanitizeSchema normalises a JSON-Schema document into the declaration
// format the model accepts:
//   - anyOf/oneOf/allOf collapse to the first non-null variant
//   - type arrays flatten to a single type plus a nullable flag
//   - $ref targets become {type: "object", properties: {}}
//   - numeric bounds, enums, and required lists are preserved
//
// The input is never mutated.
func SanitizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	return sanitizeNode(schema)
}

func sanitizeNode(node map[string]any) map[string]any {
	if _, ok := node["$ref"]; ok {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		variants, ok := node[key].([]any)
		if !ok || len(variants) == 0 {
			continue
		}
		chosen := firstNonNullVariant(variants)
		if chosen == nil {
			continue
		}
		merged := make(map[string]any, len(chosen)+len(node))
		for k, v := range chosen {
			merged[k] = v
		}
		// Sibling keys outside the union (description, default) survive.
		for k, v := range node {
			if k == "anyOf" || k == "oneOf" || k == "allOf" {
				continue
			}
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
		return sanitizeNode(merged)
	}

	out := make(map[string]any, len(node))
	for k, v := range node {
		switch k {
		case "type":
			typ, nullable := flattenType(v)
			if typ != "" {
				out["type"] = typ
			}
			if nullable {
				out["nullable"] = true
			}
		case "properties":
			if props, ok := v.(map[string]any); ok {
				sanitized := make(map[string]any, len(props))
				for name, sub := range props {
					if subMap, ok := sub.(map[string]any); ok {
						sanitized[name] = sanitizeNode(subMap)
					} else {
						sanitized[name] = sub
					}
				}
				out["properties"] = sanitized
			}
		case "items":
			if itemMap, ok := v.(map[string]any); ok {
				out["items"] = sanitizeNode(itemMap)
			} else {
				out["items"] = v
			}
		case "$defs", "definitions", "additionalProperties", "$schema", "$id",
			"patternProperties", "unevaluatedProperties":
			// Not representable in the declaration format.
		default:
			out[k] = v
		}
	}
	return out
}

func firstNonNullVariant(variants []any) map[string]any {
	for _, v := range variants {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if typ, ok := m["type"].(string); ok && typ == "null" {
			continue
		}
		return m
	}
	return nil
}

// flattenType reduces a type value to a single string plus a nullable flag.
// Type arrays pick the first non-null entry.
func flattenType(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, false
	case []any:
		nullable := false
		typ := ""
		for _, entry := range t {
			s, ok := entry.(string)
			if !ok {
				continue
			}
			if s == "null" {
				nullable = true
				continue
			}
			if typ == "" {
				typ = s
			}
		}
		return typ, nullable
	default:
		return "", false
	}
}
