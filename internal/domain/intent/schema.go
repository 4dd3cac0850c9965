package intent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// toolSchema holds the declared schema for one tool: the required argument
// names checked explicitly plus the compiled JSON Schema for full validation.
type toolSchema struct {
	required []string
	compiled *jsonschema.Schema
}

// Schema validates tool arguments against per-tool JSON Schemas. Tools
// without a declared schema pass. For declared tools, every name in the
// schema's "required" list must be present in the arguments, and the
// arguments document must satisfy the compiled schema.
type Schema struct {
	schemas map[string]toolSchema
}

// NewSchema compiles the given tool schemas. Each value is a JSON Schema
// document as an unmarshaled map (draft 2020-12 by default).
func NewSchema(schemas map[string]map[string]any) (*Schema, error) {
	v := &Schema{schemas: make(map[string]toolSchema, len(schemas))}

	for tool, doc := range schemas {
		compiler := jsonschema.NewCompiler()
		url := fmt.Sprintf("enact://schemas/%s.json", tool)
		if err := compiler.AddResource(url, normalizeSchemaDoc(doc)); err != nil {
			return nil, fmt.Errorf("schema for tool %q: %w", tool, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema for tool %q: %w", tool, err)
		}
		v.schemas[tool] = toolSchema{
			required: requiredNames(doc),
			compiled: compiled,
		}
	}
	return v, nil
}

// normalizeSchemaDoc converts map[string]any values to the generic form the
// compiler expects, leaving other values untouched.
func normalizeSchemaDoc(doc map[string]any) any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if m, ok := v.(map[string]any); ok {
			out[k] = normalizeSchemaDoc(m)
		} else {
			out[k] = v
		}
	}
	return out
}

// requiredNames extracts the "required" name list from a schema document.
func requiredNames(doc map[string]any) []string {
	raw, ok := doc["required"]
	if !ok {
		return nil
	}
	var names []string
	switch vals := raw.(type) {
	case []string:
		names = append(names, vals...)
	case []any:
		for _, v := range vals {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}
	return names
}

// Validate implements Validator.
func (v *Schema) Validate(intent Intent) Result {
	ts, ok := v.schemas[intent.ToolName]
	if !ok {
		return OK()
	}

	var missing []string
	for _, name := range ts.required {
		if _, present := intent.Arguments[name]; !present {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Invalid(fmt.Sprintf("missing required arguments: %s", strings.Join(missing, ", ")))
	}

	if ts.compiled != nil {
		args := intent.Arguments
		if args == nil {
			args = map[string]any{}
		}
		if err := ts.compiled.Validate(normalizeArgs(args)); err != nil {
			return Invalid(fmt.Sprintf("arguments do not match schema for %q: %v", intent.ToolName, err))
		}
	}
	return OK()
}

// normalizeArgs converts argument values into the generic JSON form the
// schema validator operates on. Integers become float64 to match
// encoding/json decoding semantics.
func normalizeArgs(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeArgs(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeArgs(item)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

// Compile-time interface verification.
var _ Validator = (*Schema)(nil)
