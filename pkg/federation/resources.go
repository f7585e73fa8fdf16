package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-federation-go/pkg/downstream"
	"github.com/vikashloomba/mcp-federation-go/pkg/faults"
)

// ListResources gathers resources/list from every reachable backend and
// rewrites their URIs so ReadResource can route them back. Backends with an
// open circuit are skipped; other failures are joined into the error while
// the resources that were gathered are still returned.
func (m *Manager) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	var (
		mu   sync.Mutex
		out  []*mcp.Resource
		errs []error
	)
	var g errgroup.Group
	for _, id := range m.backendIDs() {
		client, ok := m.clients.Load(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			resources, err := m.listBackendResources(ctx, client)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, faults.ErrCircuitOpen) {
					errs = append(errs, err)
				}
				return nil
			}
			out = append(out, resources...)
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(out, func(a, b *mcp.Resource) int { return strings.Compare(a.URI, b.URI) })
	return out, errors.Join(errs...)
}

func (m *Manager) listBackendResources(ctx context.Context, client downstream.Client) ([]*mcp.Resource, error) {
	id := client.ID()
	breaker := m.breakers.Get(id)
	if now := m.now(); breaker.IsOpen(now) {
		return nil, faults.CircuitOpen(id, breaker.Remaining(now))
	}
	if err := m.ensureConnected(ctx, client); err != nil {
		m.recordBackendFailure(id, breaker)
		return nil, err
	}
	result, err := call(id, func() (*downstream.Response, error) { return client.ListResources(ctx) })
	if err != nil {
		var fe *faults.Error
		if errors.As(err, &fe) && fe.Kind == faults.KindProtocol && fe.Code == -32601 {
			// Backend doesn't serve resources.
			return nil, nil
		}
		m.recordBackendFailure(id, breaker)
		return nil, err
	}
	var listed mcp.ListResourcesResult
	if err := json.Unmarshal(result, &listed); err != nil {
		return nil, faults.Protocol(id, 0, fmt.Sprintf("malformed resources/list result: %v", err))
	}
	breaker.RegisterSuccess()
	out := make([]*mcp.Resource, 0, len(listed.Resources))
	for _, r := range listed.Resources {
		if r == nil || r.URI == "" {
			continue
		}
		clone := *r
		clone.URI = m.opts.Namespace.ResourceURI(id, r.URI)
		out = append(out, &clone)
	}
	return out, nil
}

// ReadResource routes a namespaced resource URI to its backend and returns
// the raw resources/read result.
func (m *Manager) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	backendID, native, ok := m.opts.Namespace.ParseResourceURI(uri)
	if !ok {
		return nil, faults.NotFound("resource", uri)
	}
	client, ok := m.clients.Load(backendID)
	if !ok {
		return nil, faults.NotFound("backend", backendID)
	}
	breaker := m.breakers.Get(backendID)
	if now := m.now(); breaker.IsOpen(now) {
		return nil, faults.CircuitOpen(backendID, breaker.Remaining(now))
	}
	if err := m.ensureConnected(ctx, client); err != nil {
		m.recordBackendFailure(backendID, breaker)
		return nil, err
	}
	result, err := call(backendID, func() (*downstream.Response, error) { return client.ReadResource(ctx, native) })
	if err != nil {
		m.recordBackendFailure(backendID, breaker)
		return nil, err
	}
	breaker.RegisterSuccess()
	return result, nil
}
