package mcpgateway

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	g.mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		g.mux.Handle(path+"/", g.streamHandler)
	}

	if !g.opts.DisableOperatorRoutes {
		g.mux.HandleFunc("GET /healthz", g.handleHealth)
		g.mux.HandleFunc("GET /backends", g.handleBackends)
		g.mux.HandleFunc("GET /catalog", g.handleCatalog)
		g.mux.Handle("GET /metrics", promhttp.HandlerFor(g.metrics, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}

	if len(g.opts.CORSOrigins) == 0 {
		return g.mux
	}
	return newCORS(g.opts.CORSOrigins).Handler(g.mux)
}

func newCORS(origins []string) *cors.Cors {
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-ID"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}
	if slices.Contains(origins, "*") {
		opts.AllowedOrigins = []string{"*"}
		opts.AllowCredentials = false
	}
	return cors.New(opts)
}

type healthResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"activeConnections"`
	TotalServers      int    `json:"totalServers"`
	OpenCircuits      int    `json:"openCircuits"`
	Tools             int    `json:"tools"`
}

// handleHealth reports unavailable only when servers are configured and
// none of them is connected.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := g.manager.Metrics()
	resp := healthResponse{
		Status:            "ok",
		ActiveConnections: m.ActiveConnections,
		TotalServers:      m.TotalServers,
		OpenCircuits:      m.OpenCircuits,
		Tools:             g.registry.Len(),
	}
	status := http.StatusOK
	switch {
	case m.TotalServers > 0 && m.ActiveConnections == 0:
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	case m.ActiveConnections < m.TotalServers || m.OpenCircuits > 0:
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}

func (g *Gateway) handleBackends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"backends": g.manager.ActiveBackends(),
		"health":   g.manager.ConnectionHealth(),
		"metrics":  g.manager.Metrics(),
	})
}

func (g *Gateway) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if source := r.URL.Query().Get("source"); source != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"source": source,
			"tools":  g.registry.FromSource(source),
		})
		return
	}
	writeJSON(w, http.StatusOK, g.registry.GenerateCatalog())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
