package proposal

// JSON schemas injected into completion calls. The backend treats them
// as guidance, not a guarantee; normalize.go reconciles the drift.

func sourceTextSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":         map[string]any{"type": "string"},
			"source_quote": map[string]any{"type": "string"},
			"page_number":  map[string]any{"type": "integer"},
		},
		"required": []string{"text"},
	}
}

func sourceTextListSchema() map[string]any {
	return map[string]any{"type": "array", "items": sourceTextSchema()}
}

func extractionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reasoning":           map[string]any{"type": "string"},
			"client_name":         sourceTextSchema(),
			"project_essence":     sourceTextSchema(),
			"project_type":        sourceTextSchema(),
			"business_goals":      sourceTextListSchema(),
			"tech_stack":          sourceTextListSchema(),
			"client_integrations": sourceTextListSchema(),
			"key_features": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"modules":      sourceTextListSchema(),
					"screens":      sourceTextListSchema(),
					"reports":      sourceTextListSchema(),
					"integrations": sourceTextListSchema(),
					"nfr":          sourceTextListSchema(),
				},
			},
		},
		"required": []string{"reasoning", "client_name", "project_essence", "project_type", "key_features"},
	}
}

func requirementsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"category":     map[string]any{"type": "string"},
						"summary":      map[string]any{"type": "string"},
						"search_query": map[string]any{"type": "string"},
						"importance":   map[string]any{"type": "string", "enum": []string{"High", "Medium", "Low"}},
					},
					"required": []string{"category", "summary", "search_query", "importance"},
				},
			},
		},
		"required": []string{"items"},
	}
}

func analysisSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"requirement_issues": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":      map[string]any{"type": "string"},
						"field":     map[string]any{"type": "string"},
						"category":  map[string]any{"type": "string"},
						"item_text": map[string]any{"type": "string"},
						"reason":    map[string]any{"type": "string"},
					},
					"required": []string{"item_text", "reason"},
				},
			},
			"suggested_stages": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"suggested_roles":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"estimates": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"feature_text": map[string]any{"type": "string"},
						"hours":        map[string]any{"type": "integer"},
					},
					"required": []string{"feature_text", "hours"},
				},
			},
		},
		"required": []string{"requirement_issues", "suggested_stages", "suggested_roles", "estimates"},
	}
}

func budgetSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"stages": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"stage_name": map[string]any{"type": "string"},
						"role_estimates": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"role_name": map[string]any{"type": "string"},
									"hours":     map[string]any{"type": "integer"},
								},
								"required": []string{"role_name", "hours"},
							},
						},
					},
					"required": []string{"stage_name", "role_estimates"},
				},
			},
		},
		"required": []string{"stages"},
	}
}

func proposalSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"markdown_content": map[string]any{"type": "string"},
		},
		"required": []string{"markdown_content"},
	}
}
