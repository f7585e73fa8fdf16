package federation

import (
	"fmt"
	"net/url"
	"strings"
)

// Gateway resource URIs are opaque: federation:<escaped backend id>/<native uri>.
const resourceScheme = "federation:"

// Namespace maps backend identifiers to the names the gateway exposes.
// Implementations must be deterministic and collision-free for a given
// backend/name pair.
type Namespace interface {
	ToolName(backendID, toolName string) string
	ResourceURI(backendID, resourceURI string) string
	// ParseResourceURI reverses ResourceURI.
	ParseResourceURI(gatewayURI string) (backendID, nativeURI string, ok bool)
}

// ServerPrefixNamespace prefixes tool names with the backend id, separated by
// Separator (default "__").
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(backendID, toolName string) string {
	return backendID + s.separator() + toolName
}

func (s ServerPrefixNamespace) ResourceURI(backendID, resourceURI string) string {
	return fmt.Sprintf("%s%s/%s", resourceScheme, url.PathEscape(backendID), resourceURI)
}

func (s ServerPrefixNamespace) ParseResourceURI(gatewayURI string) (string, string, bool) {
	rest, ok := strings.CutPrefix(gatewayURI, resourceScheme)
	if !ok {
		return "", "", false
	}
	escaped, native, ok := strings.Cut(rest, "/")
	if !ok || escaped == "" || native == "" {
		return "", "", false
	}
	backendID, err := url.PathUnescape(escaped)
	if err != nil {
		return "", "", false
	}
	return backendID, native, true
}

// FlatNamespace exposes tools under their native names. Resources are still
// prefixed so reads can be routed back to their backend.
type FlatNamespace struct {
	ServerPrefixNamespace
}

func (FlatNamespace) ToolName(_, toolName string) string { return toolName }
