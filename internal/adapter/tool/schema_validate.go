package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"localagent/internal/domain"
)

// compileSchema compiles an operation's parameter schema. A nil schema
// means the operation accepts any params object.
func compileSchema(toolID, op string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	url := fmt.Sprintf("mem://%s/%s.json", toolID, op)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %s.%s: %w", toolID, op, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s.%s: %w", toolID, op, err)
	}
	return compiled, nil
}

// normalizeParams round-trips params through JSON so that the validator and
// the typed decoders see the same JSON-shaped values.
func normalizeParams(params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("params are not JSON-serializable: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// validateParams checks params against schema and returns the normalized
// value, or an ErrInvalidInput domain error.
func validateParams(toolID, op string, schema *jsonschema.Schema, params map[string]any) (map[string]any, error) {
	v, err := normalizeParams(params)
	if err != nil {
		return nil, domain.NewDomainError("Manager.Execute", domain.ErrInvalidInput, err.Error())
	}
	if schema != nil {
		if err := schema.Validate(v); err != nil {
			return nil, domain.NewDomainError("Manager.Execute", domain.ErrInvalidInput,
				fmt.Sprintf("%s.%s: schema validation failed: %v", toolID, op, err))
		}
	}
	m, _ := v.(map[string]any)
	return m, nil
}
