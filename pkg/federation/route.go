package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vikashloomba/mcp-federation-go/pkg/downstream"
	"github.com/vikashloomba/mcp-federation-go/pkg/faults"
	"github.com/vikashloomba/mcp-federation-go/pkg/registry"
)

var defaultForwardResult = json.RawMessage(`{"status":"success"}`)

// RouteToolCall resolves name in the registry and plans, executes or does
// both, depending on mode. Plan mode never performs I/O.
func (m *Manager) RouteToolCall(ctx context.Context, name string, args json.RawMessage, mode Mode) (*RouteResult, error) {
	tool, ok := m.registry.Get(name)
	if !ok {
		return nil, faults.NotFound("tool", name)
	}
	args = normalizeArgs(args)

	res := &RouteResult{Mode: mode}
	switch mode {
	case ModePlan:
		res.Plan = m.plan(tool, args)
	case ModeExecute, "":
		res.Mode = ModeExecute
		out, err := m.execute(ctx, tool, args)
		if err != nil {
			return nil, err
		}
		res.Execution = out
	case ModeHybrid:
		res.Plan = m.plan(tool, args)
		out, err := m.execute(ctx, tool, args)
		if err != nil {
			return nil, err
		}
		res.Execution = out
	default:
		return nil, fmt.Errorf("federation: unknown execution mode %q", mode)
	}
	return res, nil
}

func (m *Manager) plan(tool *registry.ToolSpec, args json.RawMessage) *ExecutionPlan {
	return &ExecutionPlan{
		PlanID:       uuid.NewString(),
		ToolName:     tool.Name,
		Arguments:    args,
		TargetServer: tool.Source.ID(),
		CreatedAt:    m.now(),
		Dependencies: []string{},
		SpecRef:      specRef(tool.Name),
	}
}

func (m *Manager) execute(ctx context.Context, tool *registry.ToolSpec, args json.RawMessage) (json.RawMessage, error) {
	if tool.Source.Kind == registry.SourceLocal {
		return m.executeLocal(ctx, tool, args)
	}
	return m.ForwardToDownstream(ctx, tool.Source.BackendID, tool.ForwardName(), args)
}

// ForwardToDownstream calls toolName on a backend with bounded retries. An
// open circuit fails fast; a failure that opens the circuit aborts the
// remaining attempts.
func (m *Manager) ForwardToDownstream(ctx context.Context, backendID, toolName string, args json.RawMessage) (json.RawMessage, error) {
	client, ok := m.clients.Load(backendID)
	if !ok {
		return nil, faults.NotFound("backend", backendID)
	}
	breaker := m.breakers.Get(backendID)
	if now := m.now(); breaker.IsOpen(now) {
		return nil, faults.CircuitOpen(backendID, breaker.Remaining(now))
	}

	args = normalizeArgs(args)
	attempts := int(m.settings.MaxRetries) + 1
	var lastErr error
	for attempt := range attempts {
		result, err := m.forwardOnce(ctx, client, toolName, args)
		if err == nil {
			breaker.RegisterSuccess()
			m.metrics.update(func(mm *Metrics) { mm.ToolCallsForwarded++ })
			if trimmed := bytes.TrimSpace(result); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
				return defaultForwardResult, nil
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		m.logger.Warn("forwarded tool call failed",
			"server", backendID, "tool", toolName, "attempt", attempt+1, "attempts", attempts, "error", err)
		if m.recordBackendFailure(backendID, breaker) {
			return nil, lastErr
		}
		if attempt+1 < attempts {
			if err := sleepContext(ctx, m.backoff.Compute(uint32(attempt))); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (m *Manager) forwardOnce(ctx context.Context, client downstream.Client, toolName string, args json.RawMessage) (json.RawMessage, error) {
	if err := m.ensureConnected(ctx, client); err != nil {
		return nil, err
	}
	return call(client.ID(), func() (*downstream.Response, error) {
		return client.CallTool(ctx, toolName, args)
	})
}

func normalizeArgs(args json.RawMessage) json.RawMessage {
	if trimmed := bytes.TrimSpace(args); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		return trimmed
	}
	return json.RawMessage(`{}`)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
