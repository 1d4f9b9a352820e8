package client

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/Laisky/zap"

	"github.com/polygate/polygate/common/env"
	"github.com/polygate/polygate/common/logger"
)

// HTTPClient is the default outbound client used for relay requests. It has
// no client-level timeout; relay deadlines come from request contexts.
var HTTPClient *http.Client

// ImpatientHTTPClient is a short-timeout client for token exchanges, probes
// and quota polling.
var ImpatientHTTPClient *http.Client

// Init builds the shared HTTP clients. An optional RELAY_PROXY routes all
// upstream traffic through an operator-supplied proxy.
func Init() {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
		// Disable HTTP/2: upstream SSE behaves more predictably on h1.
		TLSNextProto: make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
	}

	if proxy := env.String("RELAY_PROXY", ""); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			logger.Logger.Fatal("RELAY_PROXY set but invalid", zap.String("proxy", proxy))
		}
		logger.Logger.Info("using relay proxy", zap.String("proxy", proxy))
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	// No client-level timeout: streaming responses outlive any fixed budget.
	// Non-streaming deadlines are enforced via request contexts using
	// config.RelayTimeout.
	HTTPClient = &http.Client{
		Transport: transport,
	}
	ImpatientHTTPClient = &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}
