package registry

import "github.com/agentoven/opsdesk/pkg/models"

// ParameterSchema converts a tool's parameters into a JSON-schema object
// suitable for function calling.
func ParameterSchema(t models.ToolMetadata) map[string]interface{} {
	props := make(map[string]interface{}, len(t.Parameters))
	required := make([]string, 0)

	for _, p := range t.Parameters {
		prop := map[string]interface{}{
			"type": string(p.Type),
		}
		if p.Integer {
			prop["type"] = "integer"
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			enum := make([]interface{}, len(p.Enum))
			for i, e := range p.Enum {
				enum[i] = e
			}
			prop["enum"] = enum
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		if p.Type == models.ParamArray {
			prop["items"] = map[string]interface{}{}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// ToolDefinitions converts tools into the model's function-calling shape.
func ToolDefinitions(tools []models.ToolMetadata) []models.ToolDefinition {
	defs := make([]models.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, models.ToolDefinition{
			Type: "function",
			Function: models.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  ParameterSchema(t),
			},
		})
	}
	return defs
}
