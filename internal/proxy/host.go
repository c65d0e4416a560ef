package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hpungsan/chirpkeep/internal/certbridge"
)

// Host is the browser session the proxy serves. It owns the session's
// network route and certificate verification.
type Host interface {
	RouteThroughProxy(ctx context.Context, addr string) error
	RestoreDirect(ctx context.Context) error
	InstallVerifier(b *certbridge.Bridge) error
	RemoveVerifier() error
}

// LogHost is a Host for a manually configured browser: it only tells the
// user what to set.
type LogHost struct {
	Logger zerolog.Logger

	// CACertPath is the root certificate the browser must trust.
	CACertPath string
}

func (h *LogHost) RouteThroughProxy(_ context.Context, addr string) error {
	h.Logger.Info().
		Str("proxy", "http://"+addr).
		Str("ca_cert", h.CACertPath).
		Msg("configure the browser to use this HTTP/HTTPS proxy and trust the CA certificate")
	return nil
}

func (h *LogHost) RestoreDirect(_ context.Context) error {
	h.Logger.Info().Msg("proxy stopped; the browser can be switched back to a direct connection")
	return nil
}

func (h *LogHost) InstallVerifier(b *certbridge.Bridge) error {
	h.Logger.Debug().Str("cert_dir", b.Dir()).Msg("minted certificates are recorded for verification")
	return nil
}

func (h *LogHost) RemoveVerifier() error {
	return nil
}

// TransportHost is a Host backed by an http.Client, for programmatic sessions.
type TransportHost struct {
	roots *x509.CertPool

	mu     sync.RWMutex
	proxy  *url.URL
	bridge *certbridge.Bridge

	transport *http.Transport
	client    *http.Client
}

// NewTransportHost returns a host whose client verifies servers against
// roots (nil means the system pool) unless a bridge accepts them.
func NewTransportHost(roots *x509.CertPool) *TransportHost {
	h := &TransportHost{roots: roots}
	h.transport = &http.Transport{
		Proxy: h.proxyURL,
		TLSClientConfig: &tls.Config{
			// verify does the full check, including default chain verification.
			InsecureSkipVerify: true,
			VerifyConnection:   h.verify,
		},
		DisableKeepAlives: true,
	}
	h.client = &http.Client{Transport: h.transport}
	return h
}

// Client returns the session's HTTP client.
func (h *TransportHost) Client() *http.Client {
	return h.client
}

func (h *TransportHost) RouteThroughProxy(_ context.Context, addr string) error {
	h.mu.Lock()
	h.proxy = &url.URL{Scheme: "http", Host: addr}
	h.mu.Unlock()
	h.transport.CloseIdleConnections()
	return nil
}

func (h *TransportHost) RestoreDirect(_ context.Context) error {
	h.mu.Lock()
	h.proxy = nil
	h.mu.Unlock()
	h.transport.CloseIdleConnections()
	return nil
}

func (h *TransportHost) InstallVerifier(b *certbridge.Bridge) error {
	h.mu.Lock()
	h.bridge = b
	h.mu.Unlock()
	return nil
}

func (h *TransportHost) RemoveVerifier() error {
	h.mu.Lock()
	h.bridge = nil
	h.mu.Unlock()
	return nil
}

func (h *TransportHost) proxyURL(*http.Request) (*url.URL, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.proxy, nil
}

func (h *TransportHost) verify(cs tls.ConnectionState) error {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil {
		return certbridge.VerifyChain(cs, cs.ServerName, h.roots)
	}
	return b.VerifyConnection(cs.ServerName, h.roots)(cs)
}
