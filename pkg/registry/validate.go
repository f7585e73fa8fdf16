package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidateArguments checks args against the tool's input schema and returns
// the problems found; an empty result means the arguments are valid. Missing
// arguments are treated as an empty object.
func (r *Registry) ValidateArguments(name string, args json.RawMessage) []string {
	spec, ok := r.Get(name)
	if !ok {
		return r.fail(fmt.Sprintf("unknown tool %q", name))
	}

	var instance any = map[string]any{}
	if trimmed := bytes.TrimSpace(args); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &instance); err != nil {
			return r.fail(fmt.Sprintf("arguments are not valid JSON: %v", err))
		}
	}

	resolved, err := r.resolvedSchema(spec)
	if err != nil {
		return r.fail(fmt.Sprintf("tool %q has an invalid input schema: %v", name, err))
	}
	if err := resolved.Validate(instance); err != nil {
		return r.fail(splitMessages(err.Error())...)
	}
	return nil
}

// resolvedSchema compiles the input schema once per content hash.
func (r *Registry) resolvedSchema(spec *ToolSpec) (*jsonschema.Resolved, error) {
	if resolved, ok := r.schemas.Load(spec.Hash); ok {
		return resolved, nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
		return nil, err
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, err
	}
	actual, _ := r.schemas.LoadOrStore(spec.Hash, resolved)
	return actual, nil
}

func (r *Registry) fail(messages ...string) []string {
	r.validationErrors.Add(1)
	return messages
}

func splitMessages(msg string) []string {
	var out []string
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		out = append(out, "arguments do not match the input schema")
	}
	return out
}
