package mcpgateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// Verifies that consumers can add custom routes via ServeMux before serving.
func TestGatewayServeMux_AllowsCustomRoutes_BeforeServe(t *testing.T) {
	gateway := newTestGateway(t, newTestManager(t, nil), nil)

	mux := gateway.ServeMux()
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := httptest.NewServer(gateway.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("GET /readyz status = %d, want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "ok" {
		t.Fatalf("GET /readyz body = %q, want \"ok\"", string(body))
	}
}

// Verifies that routes registered after the handler is already mounted are
// reachable.
func TestGatewayServeMux_AllowsCustomRoutes_AfterServe(t *testing.T) {
	gateway := newTestGateway(t, newTestManager(t, nil), nil)

	srv := httptest.NewServer(gateway.Handler())
	defer srv.Close()

	mux := gateway.ServeMux()
	mux.HandleFunc("/late", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ready"))
	})

	res, err := http.Get(srv.URL + "/late")
	if err != nil {
		t.Fatalf("GET /late: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("GET /late status = %d, want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "ready" {
		t.Fatalf("GET /late body = %q, want \"ready\"", string(body))
	}
}

func TestGatewayOperatorRoutes(t *testing.T) {
	backend := startDocsBackend(t)
	gateway := newTestGateway(t, newTestManager(t, map[string]string{"docs": backend.URL}), nil)

	srv := httptest.NewServer(gateway.Handler())
	defer srv.Close()

	get := func(path string) (int, []byte) {
		t.Helper()
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		return res.StatusCode, body
	}

	status, body := get("/healthz")
	if status != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, body %s", status, body)
	}
	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.ActiveConnections != 1 || health.TotalServers != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.Tools != 3 {
		t.Fatalf("health tools = %d, want 3 (two builtin, one federated)", health.Tools)
	}

	status, body = get("/backends")
	if status != http.StatusOK || !strings.Contains(string(body), `"id": "docs"`) {
		t.Fatalf("GET /backends = %d %s", status, body)
	}

	status, body = get("/catalog")
	if status != http.StatusOK {
		t.Fatalf("GET /catalog status = %d", status)
	}
	var catalog struct {
		Catalog struct {
			Summary struct {
				TotalTools     int `json:"totalTools"`
				FederatedTools int `json:"federatedTools"`
			} `json:"summary"`
		} `json:"catalog"`
	}
	if err := json.Unmarshal(body, &catalog); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if catalog.Catalog.Summary.TotalTools != 3 || catalog.Catalog.Summary.FederatedTools != 1 {
		t.Fatalf("unexpected catalog summary %+v", catalog.Catalog.Summary)
	}

	status, body = get("/catalog?source=docs")
	if status != http.StatusOK || !strings.Contains(string(body), `"search"`) || strings.Contains(string(body), "federation_status") {
		t.Fatalf("GET /catalog?source=docs = %d %s", status, body)
	}

	status, body = get("/metrics")
	if status != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", status)
	}
	for _, want := range []string{"mcp_federation_servers 1", `mcp_federation_backend_connected{backend="docs"} 1`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestGatewayHealthReportsUnavailableBackends(t *testing.T) {
	gateway := newTestGateway(t, newTestManager(t, map[string]string{"down": "ws://127.0.0.1:1/ws"}), nil)

	srv := httptest.NewServer(gateway.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("GET /healthz status = %d, want 503", res.StatusCode)
	}
}

func TestGatewayCORS(t *testing.T) {
	gateway := newTestGateway(t, newTestManager(t, nil), &Options{CORSOrigins: []string{"https://app.example"}})

	srv := httptest.NewServer(gateway.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://app.example")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	res.Body.Close()
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
	if got := res.Header.Get("Access-Control-Expose-Headers"); !strings.Contains(got, "Mcp-Session-Id") {
		t.Fatalf("Access-Control-Expose-Headers = %q", got)
	}
}
