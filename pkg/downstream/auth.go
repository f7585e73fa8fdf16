package downstream

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/vikashloomba/mcp-federation-go/pkg/config"
)

const defaultTokenQueryParam = "token"

// dialTarget is everything needed to open a connection with a descriptor's
// credentials applied.
type dialTarget struct {
	URL          string
	Header       http.Header
	Subprotocols []string
}

func resolveDialTarget(desc config.ServerDescriptor) (dialTarget, error) {
	target := dialTarget{URL: desc.URL, Header: http.Header{}}
	creds := desc.Credentials
	if creds == nil {
		return target, nil
	}
	switch strings.ToLower(creds.Type) {
	case "bearer", "header":
		name := creds.Header
		if name == "" {
			name = "Authorization"
		}
		target.Header.Set(name, headerValue(name, creds.Token))
	case "basic":
		target.Header.Set("Authorization", basicAuth(creds.Username, creds.Password))
	case "query":
		u, err := url.Parse(desc.URL)
		if err != nil {
			return dialTarget{}, fmt.Errorf("downstream: parse url for %s: %w", desc.ID, err)
		}
		q := u.Query()
		q.Set(defaultTokenQueryParam, creds.Token)
		u.RawQuery = q.Encode()
		target.URL = u.String()
	case "subprotocol", "websocket-subprotocol":
		target.Subprotocols = []string{creds.Token}
	default:
		return dialTarget{}, fmt.Errorf("downstream: unsupported auth_type %q for %s", creds.Type, desc.ID)
	}
	return target, nil
}

func headerValue(name, token string) string {
	if strings.EqualFold(name, "Authorization") && !strings.Contains(token, " ") {
		return "Bearer " + token
	}
	return token
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}
