package tools

// Helpers for building JSON parameter schemas. Required lists are []string
// so every provider adapter can read them without reflection.

type props map[string]any

func object(properties props, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any(properties),
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func nested(description string, properties props) map[string]any {
	return map[string]any{
		"type":        "object",
		"properties":  map[string]any(properties),
		"description": description,
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func enum(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "description": description}
}

func num(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func strList(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

func typed(t string) map[string]any {
	return map[string]any{"type": t}
}

func termsProperties() props {
	return props{
		"total_value_usd":   typed("number"),
		"equity_percentage": typed("number"),
		"timeline_days":     typed("number"),
		"payment_schedule":  typed("string"),
		"scope_changes":     typed("string"),
	}
}
