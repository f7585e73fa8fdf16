package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
server:
  addr: ":9000"
logging:
  level: debug
federation:
  enabled: true
  catalog_refresh_interval: 60
  max_retries: 2
  downstream_servers:
    - id: search
      name: Search
      url: ws://localhost:8001/ws
      timeout_ms: 5000
      priority: 1
      auth:
        auth_type: bearer
        token: secret
    - id: files
      url: ws://localhost:8002/ws
      enabled: false
    - id: local-tools
      connection_type: stdio
      command: npx
      args: ["@modelcontextprotocol/server-everything"]
    - id: remote
      connection_type: streamable-http
      url: https://example.invalid/mcp
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.Path != defaultPath {
		t.Fatalf("server settings mismatch: %+v", cfg.Server)
	}
	f := cfg.Federation
	if f.SyncInterval() != time.Minute {
		t.Fatalf("SyncInterval() = %s", f.SyncInterval())
	}
	if f.MaxRetries != 2 {
		t.Fatalf("MaxRetries = %d", f.MaxRetries)
	}
	if f.CircuitBreakerThreshold != 3 || f.CircuitResetAfter() != 180*time.Second {
		t.Fatalf("circuit defaults not applied: %+v", f)
	}
	if f.BackoffInitial() != 250*time.Millisecond || f.BackoffMax() != 5*time.Second {
		t.Fatalf("backoff defaults not applied: %s/%s", f.BackoffInitial(), f.BackoffMax())
	}
	if f.ToolCacheTTL() != 300*time.Second {
		t.Fatalf("ToolCacheTTL() = %s", f.ToolCacheTTL())
	}

	if len(f.Servers) != 4 {
		t.Fatalf("expected 4 servers, got %d", len(f.Servers))
	}
	search := f.Servers[0]
	if !search.Enabled || !search.IsWebSocket() || search.Timeout() != 5*time.Second {
		t.Fatalf("search descriptor mismatch: %+v", search)
	}
	if search.Credentials == nil || search.Credentials.Token != "secret" {
		t.Fatalf("credentials missing: %+v", search.Credentials)
	}
	files := f.Servers[1]
	if files.Enabled {
		t.Fatalf("explicit enabled: false should win")
	}
	if files.Timeout() != 30*time.Second || files.DisplayName() != "files" {
		t.Fatalf("files defaults mismatch: %+v", files)
	}
	if !f.Servers[2].IsStdio() || f.Servers[2].Command != "npx" {
		t.Fatalf("stdio descriptor mismatch: %+v", f.Servers[2])
	}
	if f.Servers[3].Transport != TransportHTTP || !f.Servers[3].IsHTTP() {
		t.Fatalf("streamable alias not normalized: %q", f.Servers[3].Transport)
	}

	enabled := f.EnabledServers()
	if len(enabled) != 3 {
		t.Fatalf("EnabledServers() = %d entries", len(enabled))
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()

	doc := `
federation:
  circuit_breaker_threshold: 0
  backoff_initial_ms: 500
  backoff_max_ms: 100
  downstream_servers:
    - id: a
      url: ws://a
    - id: a
      url: ws://a2
    - id: b
      connection_type: stdio
    - id: c
      url: ws://c
      auth:
        auth_type: kerberos
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		"circuit_breaker_threshold",
		"backoff_max_ms",
		`duplicate downstream server id "a"`,
		"command is required",
		`unsupported auth_type "kerberos"`,
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q does not mention %q", msg, want)
		}
	}
}

func TestLoadReadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Federation.Enabled {
		t.Fatalf("federation should be enabled")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseTransportAliases(t *testing.T) {
	t.Parallel()

	cases := map[string]Transport{
		"":                TransportWebSocket,
		"WS":              TransportWebSocket,
		"websocket":       TransportWebSocket,
		"streamable-http": TransportHTTP,
		"sse":             TransportSSE,
		"stdio":           TransportStdio,
		"grpc":            Transport("grpc"),
	}
	for in, want := range cases {
		if got := ParseTransport(in); got != want {
			t.Fatalf("ParseTransport(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("ParseLevel mapping mismatch")
	}
}
