package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-federation-go/pkg/downstream"
	"github.com/vikashloomba/mcp-federation-go/pkg/faults"
	"github.com/vikashloomba/mcp-federation-go/pkg/registry"
)

// wireTool is one entry of a tools/list result.
type wireTool struct {
	Name         string          `json:"name"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Annotations  json.RawMessage `json:"annotations,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// SyncReport summarizes one SyncAll pass.
type SyncReport struct {
	// Tools is the total tool count across backends that synced.
	Tools    int
	Backends map[string]int
	Errors   map[string]error
	// Skipped lists backends whose circuit was open.
	Skipped  []string
	Duration time.Duration
}

// SyncBackend refreshes the registry entries of one backend and returns its
// tool count. Failures are scoped to this backend. Syncs of the same backend
// run one at a time.
func (m *Manager) SyncBackend(ctx context.Context, id string) (int, error) {
	client, ok := m.clients.Load(id)
	if !ok {
		return 0, faults.NotFound("backend", id)
	}
	lock, _ := m.syncLocks.LoadOrCompute(id, func() *sync.Mutex { return &sync.Mutex{} })
	lock.Lock()
	defer lock.Unlock()

	breaker := m.breakers.Get(id)
	now := m.now()
	if breaker.IsOpen(now) {
		m.metrics.update(func(mm *Metrics) { mm.CircuitOpenSkips++ })
		remaining := breaker.Remaining(now)
		m.logger.Debug("skipping sync, circuit open", "server", id, "retry_in", remaining)
		return 0, faults.CircuitOpen(id, remaining)
	}

	count, err := m.syncBackend(ctx, client, breaker)
	if err != nil {
		m.recordBackendFailure(id, breaker)
		m.registry.RecordFederationFailure()
		m.logger.Warn("backend sync failed", "server", id, "error", err)
		return 0, err
	}
	return count, nil
}

func (m *Manager) syncBackend(ctx context.Context, client downstream.Client, breaker *Breaker) (int, error) {
	id := client.ID()
	if err := m.ensureConnected(ctx, client); err != nil {
		return 0, err
	}
	if _, err := call(id, func() (*downstream.Response, error) { return client.Initialize(ctx) }); err != nil {
		return 0, err
	}
	result, err := call(id, func() (*downstream.Response, error) { return client.ListTools(ctx) })
	if err != nil {
		return 0, err
	}

	var payload struct {
		Tools json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return 0, faults.Protocol(id, 0, fmt.Sprintf("malformed tools/list result: %v", err))
	}
	raw := bytes.TrimSpace(payload.Tools)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("[]")
	}

	hash := registry.HashPayload(raw)
	now := m.now()
	if count, hit := m.cache.Lookup(id, hash, now); hit {
		breaker.RegisterSuccess()
		m.metrics.update(func(mm *Metrics) { mm.CacheSkips++ })
		m.logger.Debug("tool catalog unchanged", "server", id, "tools", count)
		return count, nil
	}

	var tools []wireTool
	if err := json.Unmarshal(raw, &tools); err != nil {
		return 0, faults.Protocol(id, 0, fmt.Sprintf("malformed tools array: %v", err))
	}

	desc := client.Descriptor()
	m.registry.RemoveSource(id)
	registered := 0
	for _, t := range tools {
		if t.Name == "" {
			m.logger.Warn("ignoring tool without a name", "server", id)
			continue
		}
		spec := registry.ToolSpec{
			Name:         m.opts.Namespace.ToolName(id, t.Name),
			Description:  t.Description,
			InputSchema:  t.InputSchema,
			OutputSchema: t.OutputSchema,
			Source:       registry.Federated(id, desc.URL),
			Metadata:     toolMetadata(t),
		}
		if spec.Name != t.Name {
			spec.NativeName = t.Name
		}
		if existing, ok := m.registry.Get(spec.Name); ok && existing.Source.Kind == registry.SourceLocal {
			m.logger.Warn("ignoring tool that shadows a local tool", "server", id, "tool", spec.Name)
			continue
		}
		if _, err := m.registry.Register(spec); err != nil {
			m.logger.Warn("ignoring invalid tool", "server", id, "tool", t.Name, "error", err)
			continue
		}
		registered++
	}
	m.cache.Store(id, hash, registered, now)
	breaker.RegisterSuccess()
	m.logger.Info("tool catalog synced", "server", id, "tools", registered)
	return registered, nil
}

func toolMetadata(t wireTool) map[string]any {
	meta := t.Metadata
	if t.Title == "" && len(t.Annotations) == 0 {
		return meta
	}
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	if t.Title != "" {
		out["title"] = t.Title
	}
	if len(t.Annotations) > 0 {
		var annotations any
		if err := json.Unmarshal(t.Annotations, &annotations); err == nil {
			out["annotations"] = annotations
		}
	}
	return out
}

// SyncAll syncs every backend concurrently. Backends skipped because their
// circuit is open are not errors; the returned error joins real failures.
func (m *Manager) SyncAll(ctx context.Context) (SyncReport, error) {
	start := time.Now()
	report := SyncReport{Backends: make(map[string]int), Errors: make(map[string]error)}

	var mu sync.Mutex
	var g errgroup.Group
	for _, id := range m.backendIDs() {
		g.Go(func() error {
			n, err := m.SyncBackend(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Backends[id] = n
				report.Tools += n
			case errors.Is(err, faults.ErrCircuitOpen):
				report.Skipped = append(report.Skipped, id)
			default:
				report.Errors[id] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.Sort(report.Skipped)
	report.Duration = time.Since(start)

	finished := m.now()
	m.metrics.update(func(mm *Metrics) {
		mm.FederationErrors += uint64(len(report.Errors))
		mm.LastSync = finished
		mm.LastSyncDuration = report.Duration
		mm.LastSyncTools = report.Tools
	})
	m.registry.MarkFederationSync(finished)
	m.logger.Info("federation sync completed",
		"tools", report.Tools,
		"errors", len(report.Errors),
		"skipped", len(report.Skipped),
		"duration", report.Duration,
	)

	if len(report.Errors) == 0 {
		return report, nil
	}
	ids := make([]string, 0, len(report.Errors))
	for id := range report.Errors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, report.Errors[id])
	}
	return report, errors.Join(errs...)
}

func (m *Manager) syncLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SyncAll(ctx); err != nil {
				m.logger.Warn("periodic federation sync incomplete", "error", err)
			}
		}
	}
}

// onToolListChanged drops the cached catalog of a backend that announced a
// change and syncs it again.
func (m *Manager) onToolListChanged(id string) {
	m.cache.Invalidate(id)
	if m.lifeCtx.Err() != nil {
		return
	}
	m.logger.Info("backend tool list changed, resyncing", "server", id)
	if _, err := m.SyncBackend(m.lifeCtx, id); err != nil && !errors.Is(err, faults.ErrCircuitOpen) {
		m.logger.Warn("resync after tool list change failed", "server", id, "error", err)
	}
}

func (m *Manager) ensureConnected(ctx context.Context, client downstream.Client) error {
	if client.IsConnected() {
		return nil
	}
	return client.Connect(ctx)
}

// recordBackendFailure counts a failure against the backend and reports
// whether it opened the circuit.
func (m *Manager) recordBackendFailure(id string, breaker *Breaker) bool {
	m.metrics.backendFailure(id)
	cooldown, opened := breaker.RegisterFailure(m.now())
	if opened {
		m.metrics.update(func(mm *Metrics) { mm.CircuitsOpened++ })
		m.logger.Warn("circuit opened", "server", id, "cooldown", cooldown)
	}
	return opened
}

// call runs fn and converts a JSON-RPC error object into a protocol fault.
func call(backend string, fn func() (*downstream.Response, error)) (json.RawMessage, error) {
	resp, err := fn()
	if err != nil {
		return nil, err
	}
	if err := resp.Err(backend); err != nil {
		return nil, err
	}
	return resp.Result, nil
}
