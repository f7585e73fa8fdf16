package mcpgateway

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-federation-go/pkg/registry"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyNativeName = "mcpgateway.native_name"
	metaKeySpecHash   = "mcpgateway.spec_hash"
	// metaKeyExecutionMode on tools/call selects execute, plan or hybrid.
	metaKeyExecutionMode = "mcpgateway.execution_mode"
)

// mirrorIndex remembers what the MCP server currently exposes so registry
// changes can be applied as a diff.
type mirrorIndex struct {
	mu        sync.Mutex
	tools     map[string]string // name -> spec hash
	resources map[string]struct{}
}

func newMirrorIndex() *mirrorIndex {
	return &mirrorIndex{
		tools:     make(map[string]string),
		resources: make(map[string]struct{}),
	}
}

// updateTools returns the exposed names that no longer exist and the specs
// that are new or whose hash changed.
func (m *mirrorIndex) updateTools(specs []*registry.ToolSpec) (removed []string, changed []*registry.ToolSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string]string, len(specs))
	for _, spec := range specs {
		current[spec.Name] = spec.Hash
		if hash, ok := m.tools[spec.Name]; !ok || hash != spec.Hash {
			changed = append(changed, spec)
		}
	}
	for name := range m.tools {
		if _, ok := current[name]; !ok {
			removed = append(removed, name)
		}
	}
	slices.Sort(removed)
	m.tools = current
	return removed, changed
}

func (m *mirrorIndex) updateResources(list []*mcp.Resource) (removed []string, added []*mcp.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string]struct{}, len(list))
	for _, r := range list {
		if r == nil {
			continue
		}
		current[r.URI] = struct{}{}
		if _, ok := m.resources[r.URI]; !ok {
			added = append(added, r)
		}
	}
	for uri := range m.resources {
		if _, ok := current[uri]; !ok {
			removed = append(removed, uri)
		}
	}
	slices.Sort(removed)
	m.resources = current
	return removed, added
}

func (m *mirrorIndex) toolNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.tools))
}

// exposedTool converts a registry entry into the tool advertised to clients.
func exposedTool(spec *registry.ToolSpec) *mcp.Tool {
	tool := &mcp.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		InputSchema: objectSchema(spec.InputSchema),
		Meta: withMeta(nil, map[string]any{
			metaKeyServerID: spec.Source.ID(),
			metaKeySpecHash: spec.Hash,
		}),
	}
	if spec.NativeName != "" {
		tool.Meta[metaKeyNativeName] = spec.NativeName
	}
	if out := outputSchema(spec.OutputSchema); out != nil {
		tool.OutputSchema = out
	}
	if title, ok := spec.Metadata["title"].(string); ok {
		tool.Title = title
	}
	if raw, ok := spec.Metadata["annotations"]; ok {
		var annotations mcp.ToolAnnotations
		if b, err := json.Marshal(raw); err == nil && json.Unmarshal(b, &annotations) == nil {
			tool.Annotations = &annotations
		}
	}
	return tool
}

// objectSchema decodes an input schema, forcing the object type MCP requires.
func objectSchema(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		schema = map[string]any{}
	}
	if t, _ := schema["type"].(string); t != "object" {
		schema["type"] = "object"
	}
	return schema
}

// outputSchema returns the schema only when it describes an object.
func outputSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	if t, _ := schema["type"].(string); t != "object" {
		return nil
	}
	return schema
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}
