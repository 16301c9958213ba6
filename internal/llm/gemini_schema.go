package llm

import "google.golang.org/genai"

// normalizeSchemaForGemini strips JSON Schema constructs the Gemini API
// rejects. The input is deep-copied first; tool specs are shared.
func normalizeSchemaForGemini(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	return normalizeGeminiSchema(deepCopyMap(schema))
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(val)
		case []any:
			out[k] = deepCopySlice(val)
		default:
			out[k] = v
		}
	}
	return out
}

func deepCopySlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]any:
			out[i] = deepCopyMap(val)
		case []any:
			out[i] = deepCopySlice(val)
		default:
			out[i] = v
		}
	}
	return out
}

var geminiUnsupportedSchemaFields = []string{
	"$schema",
	"format",
	"exclusiveMinimum",
	"exclusiveMaximum",
	"minLength",
	"maxLength",
	"uniqueItems",
	"pattern",
	"default",
	"examples",
	"const",
	"additionalProperties",
	"title",
}

func normalizeGeminiSchema(schema map[string]any) map[string]any {
	for _, field := range geminiUnsupportedSchemaFields {
		delete(schema, field)
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		for key, val := range props {
			if prop, ok := val.(map[string]any); ok {
				props[key] = normalizeGeminiSchema(prop)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		schema["items"] = normalizeGeminiSchema(items)
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if arr, ok := schema[key].([]any); ok {
			for i, item := range arr {
				if sub, ok := item.(map[string]any); ok {
					arr[i] = normalizeGeminiSchema(sub)
				}
			}
		}
	}
	return schema
}

func schemaToGenai(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	out := &genai.Schema{
		Type:        genaiSchemaType(schema),
		Description: schemaString(schema, "description"),
		Required:    schemaRequired(schema),
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				out.Properties[name] = schemaToGenai(propMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = schemaToGenai(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, v := range enum {
			if s, ok := v.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	return out
}

func genaiSchemaType(schema map[string]any) genai.Type {
	switch schemaString(schema, "type") {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeString
}

func schemaRequired(schema map[string]any) []string {
	if required, ok := schema["required"].([]string); ok {
		return required
	}
	if required, ok := schema["required"].([]any); ok {
		out := make([]string, 0, len(required))
		for _, r := range required {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func schemaString(schema map[string]any, key string) string {
	if v, ok := schema[key].(string); ok {
		return v
	}
	return ""
}
