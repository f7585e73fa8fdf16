package federation

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vikashloomba/mcp-federation-go/pkg/downstream"
)

const metricsNamespace = "mcp_federation"

// Collector exports a Manager's metrics to Prometheus. Values are read from
// the manager on every scrape.
type Collector struct {
	mgr *Manager

	activeConnections  *prometheus.Desc
	servers            *prometheus.Desc
	toolCallsForwarded *prometheus.Desc
	federationErrors   *prometheus.Desc
	backendFailures    *prometheus.Desc
	openCircuits       *prometheus.Desc
	circuitOpenSkips   *prometheus.Desc
	circuitsOpened     *prometheus.Desc
	cacheSkips         *prometheus.Desc
	lastSyncDuration   *prometheus.Desc
	lastSyncTimestamp  *prometheus.Desc
	backendConnected   *prometheus.Desc
	backendLatency     *prometheus.Desc
	registryTools      *prometheus.Desc
	validationErrors   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for mgr.
func NewCollector(mgr *Manager) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, nil)
	}
	return &Collector{
		mgr:                mgr,
		activeConnections:  desc("active_connections", "Downstream servers currently connected."),
		servers:            desc("servers", "Configured downstream servers."),
		toolCallsForwarded: desc("tool_calls_forwarded_total", "Tool calls forwarded to downstream servers."),
		federationErrors:   desc("sync_errors_total", "Failed backend syncs."),
		backendFailures:    desc("backend_failures_total", "Failures recorded per backend.", "backend"),
		openCircuits:       desc("open_circuits", "Backends whose circuit is open."),
		circuitOpenSkips:   desc("circuit_open_skips_total", "Syncs skipped because the circuit was open."),
		circuitsOpened:     desc("circuits_opened_total", "Times a circuit transitioned to open."),
		cacheSkips:         desc("cache_skips_total", "Syncs that found an unchanged catalog."),
		lastSyncDuration:   desc("last_sync_duration_seconds", "Duration of the last full sync."),
		lastSyncTimestamp:  desc("last_sync_timestamp_seconds", "Unix time of the last full sync."),
		backendConnected:   desc("backend_connected", "1 when the backend connection is up.", "backend"),
		backendLatency:     desc("backend_latency_seconds", "Latency of the last response from the backend.", "backend"),
		registryTools:      desc("registry_tools", "Registered tools by source kind.", "kind"),
		validationErrors:   desc("schema_validation_errors_total", "Tool argument validation failures."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.activeConnections, c.servers, c.toolCallsForwarded, c.federationErrors,
		c.backendFailures, c.openCircuits, c.circuitOpenSkips, c.circuitsOpened,
		c.cacheSkips, c.lastSyncDuration, c.lastSyncTimestamp, c.backendConnected,
		c.backendLatency, c.registryTools, c.validationErrors,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.mgr.Metrics()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.activeConnections, float64(m.ActiveConnections))
	gauge(c.servers, float64(m.TotalServers))
	counter(c.toolCallsForwarded, float64(m.ToolCallsForwarded))
	counter(c.federationErrors, float64(m.FederationErrors))
	for id, n := range m.BackendFailures {
		counter(c.backendFailures, float64(n), id)
	}
	gauge(c.openCircuits, float64(m.OpenCircuits))
	counter(c.circuitOpenSkips, float64(m.CircuitOpenSkips))
	counter(c.circuitsOpened, float64(m.CircuitsOpened))
	counter(c.cacheSkips, float64(m.CacheSkips))
	gauge(c.lastSyncDuration, m.LastSyncDuration.Seconds())
	if !m.LastSync.IsZero() {
		gauge(c.lastSyncTimestamp, float64(m.LastSync.Unix()))
	}

	for id, h := range c.mgr.ConnectionHealth() {
		connected := 0.0
		if h.State == downstream.StateConnected {
			connected = 1
		}
		gauge(c.backendConnected, connected, id)
		gauge(c.backendLatency, h.Latency.Seconds(), id)
	}

	rm := c.mgr.Registry().Metrics()
	gauge(c.registryTools, float64(rm.LocalTools), "local")
	gauge(c.registryTools, float64(rm.FederatedTools), "federated")
	counter(c.validationErrors, float64(rm.SchemaValidationErrors))
}
