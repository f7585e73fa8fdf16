// Package registry is the shared catalog of tool specifications known to the
// gateway, whether provided locally or federated from downstream servers.
//
// Entries are immutable snapshots keyed by tool name: every update replaces
// the stored pointer, so readers never observe a partially written spec.
// Replacing all tools of one source is a scan followed by deletes and is not
// atomic; readers may briefly see a partial catalog for that source.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/puzpuzpuz/xsync/v3"
)

// LocalSourceID is the source id that selects locally provided tools.
const LocalSourceID = "local"

// DefaultSpecVersion is stamped on specs registered without one.
const DefaultSpecVersion = "1.0.0"

var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// SourceKind distinguishes local tools from federated ones.
type SourceKind string

const (
	SourceLocal     SourceKind = "local"
	SourceFederated SourceKind = "federated"
)

// Source records where a tool comes from.
type Source struct {
	Kind       SourceKind `json:"kind"`
	BackendID  string     `json:"serverId,omitempty"`
	BackendURL string     `json:"serverUrl,omitempty"`
}

// Local returns the source used for tools served by the gateway itself.
func Local() Source { return Source{Kind: SourceLocal} }

// Federated returns the source for tools advertised by a downstream server.
func Federated(backendID, backendURL string) Source {
	return Source{Kind: SourceFederated, BackendID: backendID, BackendURL: backendURL}
}

// ID returns the backend id, or LocalSourceID for local tools.
func (s Source) ID() string {
	if s.Kind == SourceLocal {
		return LocalSourceID
	}
	return s.BackendID
}

// Matches reports whether the source is identified by id.
func (s Source) Matches(id string) bool {
	return s.ID() == id
}

// ToolSpec is an immutable snapshot of one tool.
type ToolSpec struct {
	Name string `json:"name"`
	// NativeName is the name the owning backend knows the tool by, when it
	// differs from Name (namespaced tools).
	NativeName   string          `json:"nativeName,omitempty"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Source       Source          `json:"source"`
	SpecVersion  string          `json:"specVersion"`
	Hash         string          `json:"specHash"`
	LastUpdated  time.Time       `json:"lastUpdated"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// ForwardName is the name to use when calling the owning backend.
func (t *ToolSpec) ForwardName() string {
	if t.NativeName != "" {
		return t.NativeName
	}
	return t.Name
}

// Options configures a Registry.
type Options struct {
	Logger *slog.Logger
	// Clock overrides time.Now for LastUpdated stamps.
	Clock func() time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	logger *slog.Logger
	now    func() time.Time

	tools   *xsync.MapOf[string, *ToolSpec]
	schemas *xsync.MapOf[string, *jsonschema.Resolved]

	subMu sync.Mutex
	subs  []*Subscription

	countsMu sync.RWMutex
	counts   sourceCounts

	validationErrors   atomic.Uint64
	federationFailures atomic.Uint64
	droppedEvents      atomic.Uint64
	lastSync           atomic.Pointer[time.Time]
}

type sourceCounts struct {
	total, local, federated int
}

// New returns an empty registry.
func New(opts *Options) *Registry {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return &Registry{
		logger:  o.Logger,
		now:     o.Clock,
		tools:   xsync.NewMapOf[string, *ToolSpec](),
		schemas: xsync.NewMapOf[string, *jsonschema.Resolved](),
	}
}

// Register hashes spec, stamps it and stores it, replacing any tool with the
// same name. The stored snapshot is returned.
func (r *Registry) Register(spec ToolSpec) (*ToolSpec, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.New("registry: tool name is required")
	}
	input, err := normalizeSchema(spec.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("registry: tool %q input schema: %w", spec.Name, err)
	}
	if input == nil {
		input = defaultInputSchema
	}
	output, err := normalizeSchema(spec.OutputSchema)
	if err != nil {
		return nil, fmt.Errorf("registry: tool %q output schema: %w", spec.Name, err)
	}

	stored := spec
	stored.InputSchema = input
	stored.OutputSchema = output
	if stored.SpecVersion == "" {
		stored.SpecVersion = DefaultSpecVersion
	}
	stored.Hash = Hash(stored.Name, stored.Description, input, output)
	stored.LastUpdated = r.now()

	_, replaced := r.tools.LoadAndStore(stored.Name, &stored)
	r.refreshCounts()

	kind := ToolAdded
	if replaced {
		kind = ToolUpdated
	}
	r.logger.Debug("tool registered", "tool", stored.Name, "source", stored.Source.ID(), "hash", stored.Hash)
	r.notify(Event{Kind: kind, Name: stored.Name})
	return &stored, nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*ToolSpec, bool) {
	return r.tools.Load(name)
}

// All returns every registered tool sorted by name.
func (r *Registry) All() []*ToolSpec {
	return r.collect(func(*ToolSpec) bool { return true })
}

// FromSource returns the tools owned by sourceID. LocalSourceID selects
// local tools.
func (r *Registry) FromSource(sourceID string) []*ToolSpec {
	return r.collect(func(t *ToolSpec) bool { return t.Source.Matches(sourceID) })
}

func (r *Registry) collect(keep func(*ToolSpec) bool) []*ToolSpec {
	out := make([]*ToolSpec, 0, r.tools.Size())
	r.tools.Range(func(_ string, t *ToolSpec) bool {
		if keep(t) {
			out = append(out, t)
		}
		return true
	})
	slices.SortFunc(out, func(a, b *ToolSpec) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int { return r.tools.Size() }

// Remove deletes a single tool.
func (r *Registry) Remove(name string) (*ToolSpec, bool) {
	spec, ok := r.tools.LoadAndDelete(name)
	if !ok {
		return nil, false
	}
	r.refreshCounts()
	r.notify(Event{Kind: ToolRemoved, Name: name})
	return spec, true
}

// RemoveSource deletes every tool owned by sourceID and returns their names.
// Tools are collected first and deleted afterwards.
func (r *Registry) RemoveSource(sourceID string) []string {
	var names []string
	r.tools.Range(func(name string, t *ToolSpec) bool {
		if t.Source.Matches(sourceID) {
			names = append(names, name)
		}
		return true
	})
	if len(names) == 0 {
		return nil
	}
	for _, name := range names {
		r.tools.Delete(name)
	}
	r.refreshCounts()
	slices.Sort(names)
	r.logger.Debug("source removed", "source", sourceID, "tools", len(names))
	r.notify(Event{Kind: SourceRemoved, Name: sourceID})
	return names
}

func (r *Registry) refreshCounts() {
	var c sourceCounts
	r.tools.Range(func(_ string, t *ToolSpec) bool {
		c.total++
		if t.Source.Kind == SourceLocal {
			c.local++
		}
		return true
	})
	c.federated = c.total - c.local
	r.countsMu.Lock()
	r.counts = c
	r.countsMu.Unlock()
}

func normalizeSchema(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}
