package registry

import "time"

// CatalogVersion is the version of the catalog document format.
const CatalogVersion = "1.0"

// Catalog is the document served to clients that want the full tool list
// with provenance.
type Catalog struct {
	Catalog CatalogBody `json:"catalog"`
}

type CatalogBody struct {
	Version     string         `json:"version"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Tools       []*ToolSpec    `json:"tools"`
	Summary     CatalogSummary `json:"summary"`
}

type CatalogSummary struct {
	TotalTools         int        `json:"totalTools"`
	LocalTools         int        `json:"localTools"`
	FederatedTools     int        `json:"federatedTools"`
	LastFederationSync *time.Time `json:"lastFederationSync"`
}

// GenerateCatalog snapshots every registered tool.
func (r *Registry) GenerateCatalog() Catalog {
	tools := r.All()
	m := r.Metrics()
	summary := CatalogSummary{
		TotalTools:     m.TotalTools,
		LocalTools:     m.LocalTools,
		FederatedTools: m.FederatedTools,
	}
	if !m.LastFederationSync.IsZero() {
		t := m.LastFederationSync
		summary.LastFederationSync = &t
	}
	return Catalog{Catalog: CatalogBody{
		Version:     CatalogVersion,
		GeneratedAt: r.now(),
		Tools:       tools,
		Summary:     summary,
	}}
}

// Metrics is a snapshot of registry counters.
type Metrics struct {
	TotalTools             int       `json:"totalTools"`
	LocalTools             int       `json:"localTools"`
	FederatedTools         int       `json:"federatedTools"`
	SchemaValidationErrors uint64    `json:"schemaValidationErrors"`
	FederationFailures     uint64    `json:"federationFailures"`
	DroppedEvents          uint64    `json:"droppedEvents"`
	LastFederationSync     time.Time `json:"lastFederationSync,omitzero"`
}

func (r *Registry) Metrics() Metrics {
	r.countsMu.RLock()
	c := r.counts
	r.countsMu.RUnlock()
	m := Metrics{
		TotalTools:             c.total,
		LocalTools:             c.local,
		FederatedTools:         c.federated,
		SchemaValidationErrors: r.validationErrors.Load(),
		FederationFailures:     r.federationFailures.Load(),
		DroppedEvents:          r.droppedEvents.Load(),
	}
	if t := r.lastSync.Load(); t != nil {
		m.LastFederationSync = *t
	}
	return m
}

// MarkFederationSync records the completion time of a federation sync.
func (r *Registry) MarkFederationSync(at time.Time) {
	r.lastSync.Store(&at)
}

// RecordFederationFailure counts a failed backend sync.
func (r *Registry) RecordFederationFailure() {
	r.federationFailures.Add(1)
}
