package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vikashloomba/mcp-federation-go/pkg/config"
	"github.com/vikashloomba/mcp-federation-go/pkg/downstream"
	"github.com/vikashloomba/mcp-federation-go/pkg/faults"
	"github.com/vikashloomba/mcp-federation-go/pkg/registry"
)

// fakeClient is an in-memory downstream.Client with scripted behaviour.
type fakeClient struct {
	desc config.ServerDescriptor

	mu         sync.Mutex
	connected  bool
	connectErr error
	tools      []map[string]any
	callErrs   []error
	callResult json.RawMessage
	resources  []map[string]any
	hook       func()
	lastTool   string
	// listGate, when set, parks the next ListTools after it has read the
	// catalog until the channel is closed.
	listGate    chan struct{}
	listEntered chan struct{}

	connects  atomic.Int32
	listCalls atomic.Int32
	calls     atomic.Int32
	reads     atomic.Int32
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{
		desc: config.ServerDescriptor{
			ID:        id,
			URL:       "ws://" + id + ".invalid/ws",
			Transport: config.TransportWebSocket,
			Enabled:   true,
			TimeoutMS: 1000,
		},
		callResult: json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`),
	}
}

func (f *fakeClient) withTools(names ...string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = f.tools[:0]
	for _, n := range names {
		f.tools = append(f.tools, map[string]any{
			"name":        n,
			"description": n + " tool",
			"inputSchema": map[string]any{"type": "object"},
		})
	}
	return f
}

func (f *fakeClient) failConnect(err error) *fakeClient {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
	return f
}

// failCalls makes the next len(errs) CallTool invocations fail in order.
func (f *fakeClient) failCalls(errs ...error) *fakeClient {
	f.mu.Lock()
	f.callErrs = append(f.callErrs, errs...)
	f.mu.Unlock()
	return f
}

func (f *fakeClient) ID() string { return f.desc.ID }
func (f *fakeClient) Descriptor() config.ServerDescriptor { return f.desc }

func (f *fakeClient) Connect(context.Context) error {
	f.connects.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return faults.Connection(f.desc.ID, "connect", f.connectErr)
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect(context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Health() downstream.Health {
	state := downstream.StateDisconnected
	if f.IsConnected() {
		state = downstream.StateConnected
	}
	return downstream.Health{State: state, Latency: 5 * time.Millisecond}
}

func (f *fakeClient) Initialize(context.Context) (*downstream.Response, error) {
	return result(`{}`), nil
}

func (f *fakeClient) ListTools(context.Context) (*downstream.Response, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	raw, err := json.Marshal(map[string]any{"tools": f.tools})
	gate, entered := f.listGate, f.listEntered
	f.listGate, f.listEntered = nil, nil
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if gate != nil {
		close(entered)
		<-gate
	}
	return &downstream.Response{JSONRPC: "2.0", Result: raw}, nil
}

// holdNextList parks the next ListTools call. The returned channel closes
// once that call has read the catalog; closing release lets it return.
func (f *fakeClient) holdNextList() (entered <-chan struct{}, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listGate = make(chan struct{})
	f.listEntered = make(chan struct{})
	return f.listEntered, f.listGate
}

func (f *fakeClient) CallTool(_ context.Context, name string, _ json.RawMessage) (*downstream.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTool = name
	if len(f.callErrs) > 0 {
		err := f.callErrs[0]
		f.callErrs = f.callErrs[1:]
		return nil, err
	}
	return &downstream.Response{JSONRPC: "2.0", Result: f.callResult}, nil
}

func (f *fakeClient) ListResources(context.Context) (*downstream.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resources == nil {
		return &downstream.Response{JSONRPC: "2.0", Error: &downstream.RPCError{Code: -32601, Message: "Method not found"}}, nil
	}
	raw, err := json.Marshal(map[string]any{"resources": f.resources})
	if err != nil {
		return nil, err
	}
	return &downstream.Response{JSONRPC: "2.0", Result: raw}, nil
}

func (f *fakeClient) ReadResource(_ context.Context, uri string) (*downstream.Response, error) {
	f.reads.Add(1)
	return result(fmt.Sprintf(`{"contents":[{"uri":%q,"text":"hello"}]}`, uri)), nil
}

func (f *fakeClient) OnToolListChanged(fn func()) {
	f.mu.Lock()
	f.hook = fn
	f.mu.Unlock()
}

func (f *fakeClient) announceToolsChanged() {
	f.mu.Lock()
	fn := f.hook
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func result(raw string) *downstream.Response {
	return &downstream.Response{JSONRPC: "2.0", Result: json.RawMessage(raw)}
}

var errTransport = errors.New("transport reset")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testSettings() config.FederationSettings {
	return config.FederationSettings{
		Enabled:                    true,
		ConnectionTimeoutMS:        1000,
		MaxRetries:                 0,
		ToolCacheTTLSeconds:        60,
		CircuitBreakerThreshold:    3,
		CircuitBreakerResetSeconds: 180,
		BackoffInitialMS:           1,
		BackoffMaxMS:               5,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager builds an initialized manager over the given fakes. The
// periodic sync stays off because CatalogRefreshInterval is zero.
func newTestManager(t *testing.T, settings config.FederationSettings, clock *fakeClock, clients ...*fakeClient) *Manager {
	t.Helper()
	byID := make(map[string]*fakeClient, len(clients))
	for _, c := range clients {
		byID[c.ID()] = c
		settings.Servers = append(settings.Servers, c.desc)
	}
	reg := registry.New(&registry.Options{Logger: discardLogger(), Clock: clock.Now})
	m := New(settings, reg, &Options{
		Logger: discardLogger(),
		Clock:  clock.Now,
		ClientFactory: func(desc config.ServerDescriptor) (downstream.Client, error) {
			c, ok := byID[desc.ID]
			if !ok {
				return nil, fmt.Errorf("no fake for %s", desc.ID)
			}
			return c, nil
		},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}
