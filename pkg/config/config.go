// Package config loads the gateway configuration: listener settings, logging,
// and the federation settings describing every downstream MCP server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML document.
type Config struct {
	Server     ServerSettings     `yaml:"server"`
	Logging    LoggingSettings    `yaml:"logging"`
	Federation FederationSettings `yaml:"federation"`
}

// ServerSettings configures the outward-facing MCP endpoint.
type ServerSettings struct {
	Addr        string   `yaml:"addr"`
	Path        string   `yaml:"path"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingSettings selects the slog handler.
type LoggingSettings struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"json_format"`
}

// FederationSettings holds the federation-wide knobs and the downstream list.
type FederationSettings struct {
	Enabled bool               `yaml:"enabled"`
	Servers []ServerDescriptor `yaml:"downstream_servers"`

	// CatalogRefreshInterval is the periodic sync interval in seconds; 0
	// disables periodic sync.
	CatalogRefreshInterval uint64 `yaml:"catalog_refresh_interval"`
	ConnectionTimeoutMS    uint64 `yaml:"connection_timeout_ms"`
	MaxRetries             uint32 `yaml:"max_retries"`

	ToolCacheTTLSeconds        uint64 `yaml:"tool_cache_ttl_seconds"`
	CircuitBreakerThreshold    uint32 `yaml:"circuit_breaker_threshold"`
	CircuitBreakerResetSeconds uint64 `yaml:"circuit_breaker_reset_seconds"`
	BackoffInitialMS           uint64 `yaml:"backoff_initial_ms"`
	BackoffMaxMS               uint64 `yaml:"backoff_max_ms"`

	// NamespaceTools exposes federated tools as "<server>__<tool>".
	NamespaceTools bool `yaml:"namespace_tools"`
}

// ServerDescriptor describes one downstream MCP server. It is treated as
// immutable once loaded.
type ServerDescriptor struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	URL         string       `yaml:"url"`
	Transport   Transport    `yaml:"connection_type"`
	Enabled     bool         `yaml:"enabled"`
	TimeoutMS   uint64       `yaml:"timeout_ms"`
	Priority    uint8        `yaml:"priority"`
	Credentials *Credentials `yaml:"auth,omitempty"`

	// Command, Args and Env launch stdio servers.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Credentials authenticate the gateway against a downstream server.
type Credentials struct {
	// Type is one of "bearer" (alias "header"), "basic", "query" or
	// "subprotocol" (alias "websocket-subprotocol").
	Type     string `yaml:"auth_type"`
	Token    string `yaml:"token,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// Header overrides the header name used for bearer tokens.
	Header string `yaml:"header,omitempty"`
}

const (
	defaultServerTimeoutMS = 30_000
	defaultAddr            = ":8700"
	defaultPath            = "/mcp"
)

// Default returns the configuration used for keys absent from a file.
func Default() Config {
	return Config{
		Server:  ServerSettings{Addr: defaultAddr, Path: defaultPath},
		Logging: LoggingSettings{Level: "info"},
		Federation: FederationSettings{
			CatalogRefreshInterval:     300,
			ConnectionTimeoutMS:        10_000,
			MaxRetries:                 3,
			ToolCacheTTLSeconds:        300,
			CircuitBreakerThreshold:    3,
			CircuitBreakerResetSeconds: 180,
			BackoffInitialMS:           250,
			BackoffMaxMS:               5_000,
		},
	}
}

// UnmarshalYAML defaults Enabled to true and the transport to websocket so
// that a minimal server entry only needs id and url.
func (s *ServerDescriptor) UnmarshalYAML(value *yaml.Node) error {
	type raw ServerDescriptor
	r := raw{Enabled: true, Transport: TransportWebSocket}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*s = ServerDescriptor(r)
	if s.TimeoutMS == 0 {
		s.TimeoutMS = defaultServerTimeoutMS
	}
	if s.Transport == "" {
		s.Transport = TransportWebSocket
	}
	return nil
}

// Load reads and validates a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	f := c.Federation
	if f.CircuitBreakerThreshold == 0 {
		errs = append(errs, errors.New("config: circuit_breaker_threshold must be at least 1"))
	}
	if f.BackoffInitialMS == 0 {
		errs = append(errs, errors.New("config: backoff_initial_ms must be positive"))
	}
	if f.BackoffMaxMS < f.BackoffInitialMS {
		errs = append(errs, fmt.Errorf("config: backoff_max_ms (%d) is below backoff_initial_ms (%d)", f.BackoffMaxMS, f.BackoffInitialMS))
	}
	seen := make(map[string]struct{}, len(f.Servers))
	for i, s := range f.Servers {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("config: downstream_servers[%d]: id is required", i))
			continue
		}
		if _, dup := seen[s.ID]; dup {
			errs = append(errs, fmt.Errorf("config: duplicate downstream server id %q", s.ID))
		}
		seen[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks the transport-specific requirements of a descriptor.
func (s ServerDescriptor) Validate() error {
	switch s.Transport {
	case TransportWebSocket, TransportHTTP, TransportSSE:
		if s.URL == "" {
			return fmt.Errorf("config: server %q: url is required for %s transport", s.ID, s.Transport)
		}
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("config: server %q: command is required for stdio transport", s.ID)
		}
	default:
		return fmt.Errorf("config: server %q: unsupported connection_type %q", s.ID, s.Transport)
	}
	if c := s.Credentials; c != nil {
		switch c.Type {
		case "bearer", "header", "query", "subprotocol", "websocket-subprotocol":
			if c.Token == "" {
				return fmt.Errorf("config: server %q: %s auth requires a token", s.ID, c.Type)
			}
		case "basic":
			if c.Username == "" {
				return fmt.Errorf("config: server %q: basic auth requires a username", s.ID)
			}
		default:
			return fmt.Errorf("config: server %q: unsupported auth_type %q", s.ID, c.Type)
		}
	}
	return nil
}

// DisplayName falls back to the id when no name is configured.
func (s ServerDescriptor) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Timeout is the per-request timeout.
func (s ServerDescriptor) Timeout() time.Duration {
	if s.TimeoutMS == 0 {
		return defaultServerTimeoutMS * time.Millisecond
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// EnabledServers returns the descriptors with Enabled set, in file order.
func (f FederationSettings) EnabledServers() []ServerDescriptor {
	out := make([]ServerDescriptor, 0, len(f.Servers))
	for _, s := range f.Servers {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

func (f FederationSettings) SyncInterval() time.Duration {
	return time.Duration(f.CatalogRefreshInterval) * time.Second
}

func (f FederationSettings) ConnectionTimeout() time.Duration {
	return time.Duration(f.ConnectionTimeoutMS) * time.Millisecond
}

func (f FederationSettings) ToolCacheTTL() time.Duration {
	return time.Duration(f.ToolCacheTTLSeconds) * time.Second
}

func (f FederationSettings) CircuitResetAfter() time.Duration {
	return time.Duration(f.CircuitBreakerResetSeconds) * time.Second
}

func (f FederationSettings) BackoffInitial() time.Duration {
	return time.Duration(f.BackoffInitialMS) * time.Millisecond
}

func (f FederationSettings) BackoffMax() time.Duration {
	return time.Duration(f.BackoffMaxMS) * time.Millisecond
}
