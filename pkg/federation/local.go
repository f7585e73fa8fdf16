package federation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vikashloomba/mcp-federation-go/pkg/registry"
)

// LocalExecutor runs tools served by the gateway itself.
type LocalExecutor interface {
	Execute(ctx context.Context, tool *registry.ToolSpec, args json.RawMessage) (json.RawMessage, error)
}

// LocalExecutorFunc adapts a function to LocalExecutor.
type LocalExecutorFunc func(ctx context.Context, tool *registry.ToolSpec, args json.RawMessage) (json.RawMessage, error)

func (f LocalExecutorFunc) Execute(ctx context.Context, tool *registry.ToolSpec, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, tool, args)
}

// AcknowledgeExecutor answers every local call with a success
// acknowledgement. It is the default when no executor is configured.
type AcknowledgeExecutor struct{}

func (AcknowledgeExecutor) Execute(_ context.Context, tool *registry.ToolSpec, _ json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{
		"status": "success",
		"tool":   tool.Name,
		"result": "Local execution completed",
		"source": registry.LocalSourceID,
	})
}

// LocalHandler serves one local tool.
type LocalHandler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// LocalTool pairs a local tool definition with its handler.
type LocalTool struct {
	Spec    registry.ToolSpec
	Handler LocalHandler
}

// RegisterLocalTool adds a tool served by the gateway itself.
func (m *Manager) RegisterLocalTool(tool LocalTool) error {
	tool.Spec.Source = registry.Local()
	if _, err := m.registry.Register(tool.Spec); err != nil {
		return err
	}
	if tool.Handler != nil {
		m.local.Store(tool.Spec.Name, tool.Handler)
	}
	return nil
}

func (m *Manager) executeLocal(ctx context.Context, tool *registry.ToolSpec, args json.RawMessage) (json.RawMessage, error) {
	if h, ok := m.local.Load(tool.Name); ok {
		return h(ctx, args)
	}
	return m.opts.LocalExecutor.Execute(ctx, tool, args)
}

// BuiltinTools returns the operator tools every gateway can expose: the
// federation status and the tool catalog.
func BuiltinTools(m *Manager) []LocalTool {
	return []LocalTool{
		{
			Spec: registry.ToolSpec{
				Name:        "federation_status",
				Description: "Report connection health, circuit state and counters for every downstream server.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				Metadata:    map[string]any{"category": "federation"},
			},
			Handler: func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return json.Marshal(map[string]any{
					"metrics":  m.Metrics(),
					"backends": m.ActiveBackends(),
				})
			},
		},
		{
			Spec: registry.ToolSpec{
				Name:        "federation_catalog",
				Description: "Return the full tool catalog with provenance, optionally filtered by source.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"source":{"type":"string","description":"Backend id, or \"local\""}}}`),
				Metadata:    map[string]any{"category": "federation"},
			},
			Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
				var in struct {
					Source string `json:"source"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, fmt.Errorf("federation_catalog: %w", err)
				}
				if in.Source == "" {
					return json.Marshal(m.registry.GenerateCatalog())
				}
				return json.Marshal(map[string]any{"source": in.Source, "tools": m.registry.FromSource(in.Source)})
			},
		},
	}
}
