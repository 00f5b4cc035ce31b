package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tripstack/credstore/pkg/credential"
)

// fieldSchema builds the JSON Schema document for a provider's field
// map: every field a non-empty string, every required field present,
// nothing outside the mapped field set.
func fieldSchema(cfg Config) (map[string]interface{}, error) {
	properties := map[string]interface{}{}
	known := map[string]bool{}
	for field := range cfg.EnvMap {
		properties[field] = map[string]interface{}{"type": "string", "minLength": 1}
		known[field] = true
	}
	for _, field := range cfg.Required {
		if !known[field] {
			properties[field] = map[string]interface{}{"type": "string", "minLength": 1}
		}
	}
	if len(properties) == 0 {
		return nil, fmt.Errorf("registry: provider %s has no fields", cfg.Provider)
	}
	return map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"required":             cfg.Required,
		"additionalProperties": false,
	}, nil
}

// ValidateFields checks plaintext credential fields against the
// provider's schema. Field values are trimmed before validation; the
// trimmed map is returned so stored payloads are normalized.
//
// On failure the returned error is a *credential.ValidationError
// enumerating every offending field.
func ValidateFields(p credential.Provider, fields map[string]string) (map[string]string, error) {
	cfg, err := Get(p)
	if err != nil {
		return nil, err
	}

	trimmed := make(map[string]string, len(fields))
	for k, v := range fields {
		trimmed[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	schemaDoc, err := fieldSchema(cfg)
	if err != nil {
		return nil, err
	}
	schemaJSON, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("registry: marshal schema for %s: %w", p, err)
	}
	docJSON, err := json.Marshal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("registry: marshal fields for %s: %w", p, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(docJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("registry: schema validation for %s: %w", p, err)
	}
	if result.Valid() {
		return trimmed, nil
	}

	failing := map[string]string{}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "(root)" {
			// Required-field and additionalProperties violations report
			// at the root; pull the field name out of the details.
			if prop, ok := desc.Details()["property"].(string); ok {
				field = prop
			}
		}
		failing[field] = desc.Description()
	}
	return nil, &credential.ValidationError{Provider: p, Fields: failing}
}
