package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-federation-go/pkg/config"
	"github.com/vikashloomba/mcp-federation-go/pkg/downstream"
	"github.com/vikashloomba/mcp-federation-go/pkg/registry"
)

// ClientFactory builds the client for one downstream server.
type ClientFactory func(desc config.ServerDescriptor) (downstream.Client, error)

// Options configures a Manager. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// ClientFactory defaults to downstream.New with ClientOptions.
	ClientFactory ClientFactory
	ClientOptions *downstream.Options
	// Clock drives circuit and cache decisions; defaults to time.Now.
	Clock func() time.Time
	// LocalExecutor runs local tools that have no registered handler.
	LocalExecutor LocalExecutor
	// Namespace defaults to ServerPrefixNamespace when the settings enable
	// tool namespacing and FlatNamespace otherwise.
	Namespace Namespace
}

func (o *Options) withDefaults(settings config.FederationSettings) Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.ClientFactory == nil {
		clientOpts := out.ClientOptions
		if clientOpts == nil {
			clientOpts = &downstream.Options{}
		}
		if clientOpts.Logger == nil {
			withLogger := *clientOpts
			withLogger.Logger = out.Logger
			clientOpts = &withLogger
		}
		if clientOpts.ConnectWindow == 0 && settings.ConnectionTimeoutMS > 0 {
			withWindow := *clientOpts
			withWindow.ConnectWindow = settings.ConnectionTimeout()
			clientOpts = &withWindow
		}
		out.ClientFactory = func(desc config.ServerDescriptor) (downstream.Client, error) {
			return downstream.New(desc, clientOpts)
		}
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	if out.LocalExecutor == nil {
		out.LocalExecutor = AcknowledgeExecutor{}
	}
	if out.Namespace == nil {
		if settings.NamespaceTools {
			out.Namespace = ServerPrefixNamespace{}
		} else {
			out.Namespace = FlatNamespace{}
		}
	}
	return out
}

// Manager federates the configured downstream servers into one registry and
// routes tool calls to them.
type Manager struct {
	settings config.FederationSettings
	registry *registry.Registry
	opts     Options
	logger   *slog.Logger

	clients  *xsync.MapOf[string, downstream.Client]
	breakers *BreakerSet
	// syncLocks serializes syncs of the same backend.
	syncLocks *xsync.MapOf[string, *sync.Mutex]
	cache    *ToolCache
	backoff  Backoff
	metrics  *metricsState
	local    *xsync.MapOf[string, LocalHandler]

	// lifeCtx bounds background work started by the manager, such as
	// notification-driven resyncs.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu          sync.Mutex
	order       []string
	initialized bool
	syncCancel  context.CancelFunc
	syncDone    chan struct{}
}

// New creates a manager over reg. No connection is made until Initialize.
func New(settings config.FederationSettings, reg *registry.Registry, opts *Options) *Manager {
	o := opts.withDefaults(settings)
	backoff := NewBackoff(settings.BackoffInitial(), settings.BackoffMax())
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &Manager{
		settings:   settings,
		registry:   reg,
		opts:       o,
		logger:     o.Logger,
		clients:    xsync.NewMapOf[string, downstream.Client](),
		breakers:   NewBreakerSet(settings.CircuitBreakerThreshold, settings.CircuitResetAfter(), backoff),
		syncLocks:  xsync.NewMapOf[string, *sync.Mutex](),
		cache:      NewToolCache(settings.ToolCacheTTL()),
		backoff:    backoff,
		metrics:    newMetricsState(),
		local:      xsync.NewMapOf[string, LocalHandler](),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
}

// Registry returns the registry the manager writes to.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Settings returns the federation settings the manager was built with.
func (m *Manager) Settings() config.FederationSettings { return m.settings }

func (m *Manager) now() time.Time { return m.opts.Clock() }

// Initialize creates a client per enabled server, runs one full sync and
// starts the periodic sync when an interval is configured. Backend failures
// are logged, not returned: partial availability is the normal case.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return errors.New("federation: manager already initialized")
	}
	m.initialized = true
	m.mu.Unlock()

	if !m.settings.Enabled {
		m.logger.Info("federation disabled; serving local tools only")
		return nil
	}

	for _, desc := range m.settings.EnabledServers() {
		client, err := m.opts.ClientFactory(desc)
		if err != nil {
			m.logger.Warn("skipping downstream server", "server", desc.ID, "error", err)
			continue
		}
		m.addClient(client)
	}
	m.metrics.update(func(mm *Metrics) { mm.TotalServers = len(m.backendIDs()) })
	m.logger.Info("federation initialized", "servers", len(m.backendIDs()))

	if _, err := m.SyncAll(ctx); err != nil {
		m.logger.Warn("initial federation sync incomplete", "error", err)
	}

	if interval := m.settings.SyncInterval(); interval > 0 {
		syncCtx, cancel := context.WithCancel(m.lifeCtx)
		done := make(chan struct{})
		m.mu.Lock()
		m.syncCancel = cancel
		m.syncDone = done
		m.mu.Unlock()
		go m.syncLoop(syncCtx, interval, done)
	}
	return nil
}

func (m *Manager) addClient(client downstream.Client) {
	id := client.ID()
	m.clients.Store(id, client)
	client.OnToolListChanged(func() { m.onToolListChanged(id) })
	m.mu.Lock()
	if !slices.Contains(m.order, id) {
		m.order = append(m.order, id)
	}
	m.mu.Unlock()
}

// backendIDs returns configured backend ids in configuration order.
func (m *Manager) backendIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// ConnectAll connects every backend concurrently and returns the per-backend
// outcome. It fails only when backends are configured and none connected.
func (m *Manager) ConnectAll(ctx context.Context) (map[string]error, error) {
	ids := m.backendIDs()
	results := make(map[string]error, len(ids))
	var mu sync.Mutex
	var g errgroup.Group
	for _, id := range ids {
		client, ok := m.clients.Load(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			err := client.Connect(ctx)
			if err != nil {
				m.logger.Warn("failed to connect downstream server", "server", id, "error", err)
			} else {
				m.logger.Info("downstream server connected", "server", id)
			}
			mu.Lock()
			results[id] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(results) == 0 {
		return results, nil
	}
	var errs []error
	for _, id := range ids {
		if err, ok := results[id]; ok {
			if err == nil {
				return results, nil
			}
			errs = append(errs, err)
		}
	}
	return results, fmt.Errorf("federation: no downstream server connected: %w", errors.Join(errs...))
}

// Shutdown stops the periodic sync, disconnects every backend and clears
// circuit and cache state.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.syncCancel, m.syncDone
	m.syncCancel, m.syncDone = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.lifeCancel()

	var mu sync.Mutex
	var errs []error
	var g errgroup.Group
	m.clients.Range(func(id string, client downstream.Client) bool {
		g.Go(func() error {
			if err := client.Disconnect(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("disconnect %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
		return true
	})
	_ = g.Wait()

	m.breakers.Clear()
	m.cache.Clear()
	m.metrics.update(func(mm *Metrics) { mm.ActiveConnections = 0 })
	m.logger.Info("federation shut down")
	return errors.Join(errs...)
}

// Metrics returns a snapshot of the federation counters.
func (m *Manager) Metrics() Metrics {
	snap := m.metrics.snapshot()
	active := 0
	m.clients.Range(func(_ string, c downstream.Client) bool {
		if c.IsConnected() {
			active++
		}
		return true
	})
	snap.ActiveConnections = active
	snap.TotalServers = m.clients.Size()
	snap.OpenCircuits = m.breakers.OpenCount(m.now())
	return snap
}

// ConnectionHealth returns the health of every backend keyed by id.
func (m *Manager) ConnectionHealth() map[string]downstream.Health {
	out := make(map[string]downstream.Health, m.clients.Size())
	m.clients.Range(func(id string, c downstream.Client) bool {
		out[id] = c.Health()
		return true
	})
	return out
}

// BackendStatus summarizes one backend for operators.
type BackendStatus struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Transport config.Transport `json:"transport"`
	URL       string           `json:"url,omitempty"`
	Connected bool             `json:"connected"`
	Enabled   bool             `json:"enabled"`
	ToolCount int              `json:"toolCount"`
	Priority  uint8            `json:"priority"`
	Circuit   CircuitState     `json:"circuit"`
}

// ActiveBackends lists the backends in configuration order.
func (m *Manager) ActiveBackends() []BackendStatus {
	ids := m.backendIDs()
	out := make([]BackendStatus, 0, len(ids))
	for _, id := range ids {
		client, ok := m.clients.Load(id)
		if !ok {
			continue
		}
		desc := client.Descriptor()
		out = append(out, BackendStatus{
			ID:        id,
			Name:      desc.DisplayName(),
			Transport: desc.Transport,
			URL:       desc.URL,
			Connected: client.IsConnected(),
			Enabled:   desc.Enabled,
			ToolCount: len(m.registry.FromSource(id)),
			Priority:  desc.Priority,
			Circuit:   m.breakers.Get(id).State(),
		})
	}
	return out
}
