// Package proxy is the local TLS-intercepting proxy the embedded browser
// session is routed through while capturing.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/hpungsan/chirpkeep/internal/authority"
	"github.com/hpungsan/chirpkeep/internal/certbridge"
	"github.com/hpungsan/chirpkeep/internal/errors"
	"github.com/hpungsan/chirpkeep/internal/metrics"
)

// Options configure a Proxy.
type Options struct {
	Logger    zerolog.Logger
	Authority *authority.Authority
	Bridge    *certbridge.Bridge
	Host      Host
	Observer  Observer
	Metrics   metrics.Recorder

	// SettleDelay is waited at the end of Start so the host's proxy settings
	// take effect before the caller drives the session.
	SettleDelay time.Duration

	// ListenAddr defaults to "127.0.0.1:0" (OS-assigned port).
	ListenAddr string

	// UpstreamRootCAs verifies upstream servers; nil means the system pool.
	UpstreamRootCAs *x509.CertPool

	// Dial opens upstream connections; nil means a net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Proxy forwards HTTP, intercepts CONNECTs to filtered hosts, and reports
// filtered exchanges to its Observer.
type Proxy struct {
	opts      Options
	logger    zerolog.Logger
	metrics   metrics.Recorder
	transport *http.Transport

	filters    atomic.Pointer[FilterSet]
	monitoring atomic.Bool

	mu     sync.Mutex
	server *http.Server
	addr   string
	runCtx context.Context
	cancel context.CancelFunc

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// New creates a stopped proxy.
func New(opts Options) (*Proxy, error) {
	if opts.Authority == nil {
		return nil, fmt.Errorf("authority is required")
	}
	if opts.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	if opts.Observer == nil {
		return nil, fmt.Errorf("observer is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:0"
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}

	transport := &http.Transport{
		// Never chain to an environment proxy: that might be us.
		Proxy:       nil,
		DialContext: opts.Dial,
		TLSClientConfig: &tls.Config{
			RootCAs:    opts.UpstreamRootCAs,
			NextProtos: []string{"http/1.1"},
		},
		ForceAttemptHTTP2: false,
		// Bodies are relayed with their original Content-Encoding.
		DisableCompression:    true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Proxy{
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "proxy").Logger(),
		metrics:   opts.Metrics,
		transport: transport,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Start binds a local port, routes the host session through it, and installs
// the certificate bridge. It returns the listening address.
func (p *Proxy) Start(ctx context.Context, filters []string) (string, error) {
	fs, err := CompileFilters(filters)
	if err != nil {
		return "", errors.NewInvalidRequest(err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		return "", errors.NewConflict("proxy already running on " + p.addr)
	}

	ln, err := net.Listen("tcp", p.opts.ListenAddr)
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("listen: %w", err))
	}

	p.filters.Store(fs)
	server := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.logger.Error().Err(err).Msg("proxy server stopped")
		}
	}()

	p.server = server
	p.addr = ln.Addr().String()
	p.runCtx, p.cancel = context.WithCancel(context.Background())
	p.logger.Info().Str("addr", p.addr).Int("filters", fs.Len()).Msg("proxy listening")

	if err := p.opts.Host.RouteThroughProxy(ctx, p.addr); err != nil {
		p.shutdownLocked()
		return "", errors.NewInternal(fmt.Errorf("route session through proxy: %w", err))
	}
	if err := p.opts.Host.InstallVerifier(p.opts.Bridge); err != nil {
		_ = p.opts.Host.RestoreDirect(ctx)
		p.shutdownLocked()
		return "", errors.NewInternal(fmt.Errorf("install certificate verifier: %w", err))
	}

	// Leaves minted by a previous run are stale; drop both copies so the next
	// interception mints and stores a fresh one.
	if err := p.opts.Bridge.ClearCache(); err != nil {
		p.logger.Warn().Err(err).Msg("could not clear certificate cache")
	}
	p.opts.Authority.Forget()

	if p.opts.SettleDelay > 0 {
		select {
		case <-time.After(p.opts.SettleDelay):
		case <-ctx.Done():
			return p.addr, ctx.Err()
		}
	}
	return p.addr, nil
}

// Stop restores direct networking and default verification and closes the
// listener and every open connection. Stopping a stopped proxy is a no-op.
func (p *Proxy) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		return nil
	}

	var errs []error
	if err := p.opts.Host.RestoreDirect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("restore direct networking: %w", err))
	}
	if err := p.opts.Host.RemoveVerifier(); err != nil {
		errs = append(errs, fmt.Errorf("remove certificate verifier: %w", err))
	}
	p.shutdownLocked()
	p.logger.Info().Msg("proxy stopped")

	return stderrors.Join(errs...)
}

func (p *Proxy) shutdownLocked() {
	p.cancel()
	_ = p.server.Close()
	p.server = nil
	p.addr = ""
	p.runCtx, p.cancel = nil, nil

	p.connMu.Lock()
	for c := range p.conns {
		_ = c.Close()
	}
	p.conns = make(map[net.Conn]struct{})
	p.connMu.Unlock()

	p.transport.CloseIdleConnections()
}

// runContext returns a context canceled when the proxy stops. Upstream
// requests of intercepted connections run under it.
func (p *Proxy) runContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runCtx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return p.runCtx
}

// Addr returns the listening address, or "" when stopped.
func (p *Proxy) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addr
}

// Running reports whether the proxy is listening.
func (p *Proxy) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.server != nil
}

// StartMonitoring begins reporting filtered exchanges to the observer.
func (p *Proxy) StartMonitoring() { p.monitoring.Store(true) }

// StopMonitoring stops reporting; traffic keeps flowing.
func (p *Proxy) StopMonitoring() { p.monitoring.Store(false) }

// Monitoring reports whether exchanges are being captured.
func (p *Proxy) Monitoring() bool { return p.monitoring.Load() }

// ServeHTTP handles proxied requests.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		if p.filters.Load().MatchHost(r.Host) {
			p.handleConnectMITM(w, r)
			return
		}
		p.handleConnectPassthrough(w, r)
		return
	}
	p.handleHTTP(w, r)
}

// handleHTTP forwards a plain-HTTP proxy request.
func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() {
		http.Error(w, "This is a proxy; request an absolute URL", http.StatusBadRequest)
		return
	}

	reqBody, outReq, err := p.outbound(r.Context(), r, r.URL)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	resp, err := p.transport.RoundTrip(outReq)
	if err != nil {
		p.degraded("upstream", r.Host, err)
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for k, vv := range resp.Header {
		header[k] = append([]string(nil), vv...)
	}
	removeHopByHopHeaders(header)
	w.WriteHeader(resp.StatusCode)

	body := p.captureBody(outReq, reqBody, resp)
	if _, err := io.Copy(w, body); err != nil {
		p.logger.Debug().Err(err).Str("url", outReq.URL.String()).Msg("client went away while relaying response")
	}
	body.finish()
}

// handleConnectPassthrough tunnels the connection without interception. The
// client sees the upstream server's real certificate.
func (p *Proxy) handleConnectPassthrough(w http.ResponseWriter, r *http.Request) {
	host := withDefaultPort(r.Host)

	// Dial upstream before answering so failures can still be reported.
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	upstream, err := p.opts.Dial(ctx, "tcp", host)
	cancel()
	if err != nil {
		p.degraded("dial", host, err)
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}

	client, err := p.hijack(w)
	if err != nil {
		upstream.Close()
		return
	}
	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		client.Close()
		upstream.Close()
		return
	}

	p.track(upstream)
	go p.tunnel(client, upstream, host)
}

// handleConnectMITM terminates TLS with a minted leaf and serves the
// client's requests by forwarding them upstream.
func (p *Proxy) handleConnectMITM(w http.ResponseWriter, r *http.Request) {
	host := withDefaultPort(r.Host)

	leaf, fresh, err := p.opts.Authority.Leaf(host)
	if err != nil {
		p.degraded("mint", host, err)
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}
	if fresh {
		if err := p.opts.Bridge.Store(host, leaf.PEM); err != nil {
			p.logger.Warn().Err(err).Str("host", host).Msg("could not store minted certificate")
		}
	}

	client, err := p.hijack(w)
	if err != nil {
		return
	}
	defer p.release(client)

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	tlsConn := tls.Server(client, &tls.Config{
		Certificates: []tls.Certificate{leaf.TLS},
		NextProtos:   []string{"http/1.1"},
	})
	if err := tlsConn.Handshake(); err != nil {
		p.degraded("handshake", host, err)
		return
	}
	p.logger.Debug().Str("host", host).Msg("TLS intercepted")

	ctx := p.runContext()
	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF && !isClosedConn(err) {
				p.logger.Debug().Err(err).Str("host", host).Msg("error reading intercepted request")
			}
			return
		}

		target := &url.URL{Scheme: "https", Host: trimDefaultPort(r.Host), Path: req.URL.Path, RawPath: req.URL.RawPath, RawQuery: req.URL.RawQuery}
		if !p.serveIntercepted(ctx, tlsConn, req, target) || req.Close {
			return
		}
	}
}

// serveIntercepted forwards one request read from an intercepted connection.
// It reports whether the connection can carry another request.
func (p *Proxy) serveIntercepted(ctx context.Context, conn net.Conn, req *http.Request, target *url.URL) bool {
	reqBody, outReq, err := p.outbound(ctx, req, target)
	if err != nil {
		sendError(conn, http.StatusBadRequest, "Bad request")
		return false
	}

	resp, err := p.transport.RoundTrip(outReq)
	if err != nil {
		p.degraded("upstream", target.Host, err)
		sendError(conn, http.StatusBadGateway, "Bad gateway")
		return false
	}

	body := p.captureBody(outReq, reqBody, resp)
	resp.Body = body
	removeHopByHopHeaders(resp.Header)
	err = resp.Write(conn)
	body.finish()
	if err != nil {
		p.degraded("relay", target.Host, err)
		return false
	}
	return !resp.Close
}

// outbound reads the client request body and builds the upstream request.
func (p *Proxy) outbound(ctx context.Context, r *http.Request, target *url.URL) ([]byte, *http.Request, error) {
	var reqBody []byte
	if r.Body != nil {
		var err error
		reqBody, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, nil, err
		}
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, err
	}
	for k, vv := range r.Header {
		outReq.Header[k] = append([]string(nil), vv...)
	}
	removeHopByHopHeaders(outReq.Header)
	outReq.Host = r.Host
	if len(reqBody) == 0 {
		outReq.Body = http.NoBody
		outReq.ContentLength = 0
	}
	return reqBody, outReq, nil
}

// captureBody wraps resp.Body so that, when the exchange is filtered and
// monitoring is on, every chunk read is also sent to the observer.
func (p *Proxy) captureBody(outReq *http.Request, reqBody []byte, resp *http.Response) *capturedBody {
	cb := &capturedBody{rc: resp.Body}
	if !p.monitoring.Load() || !p.filters.Load().MatchURL(outReq.URL) {
		return cb
	}

	id := ulid.Make().String()
	obs := p.opts.Observer
	obs.ConnectionOpened(ConnInfo{
		ID:          id,
		Host:        hostname(outReq.URL.Host),
		URL:         outReq.URL.String(),
		Method:      outReq.Method,
		RequestBody: reqBody,
		StartedAt:   time.Now(),
	})

	cb.onChunk = func(b []byte) { obs.ResponseChunk(id, b) }
	cb.onDone = func() {
		obs.ResponseComplete(Exchange{
			ID:          id,
			Host:        hostname(outReq.URL.Host),
			URL:         outReq.URL.String(),
			Status:      resp.StatusCode,
			Header:      resp.Header.Clone(),
			CompletedAt: time.Now(),
		})
	}
	return cb
}

func (p *Proxy) degraded(stage, host string, err error) {
	p.metrics.IncDegraded(stage)
	p.logger.Warn().Err(err).Str("stage", stage).Str("host", host).Msg("connection degraded")
}

func (p *Proxy) hijack(w http.ResponseWriter) (net.Conn, error) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return nil, fmt.Errorf("hijacking not supported")
	}
	conn, rw, err := hijacker.Hijack()
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to hijack connection")
		return nil, err
	}
	if rw != nil && rw.Reader.Buffered() > 0 {
		conn = &bufferedConn{Conn: conn, r: rw.Reader}
	}
	p.track(conn)
	return conn, nil
}

func (p *Proxy) track(c net.Conn) {
	p.connMu.Lock()
	p.conns[c] = struct{}{}
	p.connMu.Unlock()
}

func (p *Proxy) release(c net.Conn) {
	p.connMu.Lock()
	delete(p.conns, c)
	p.connMu.Unlock()
	_ = c.Close()
}

// capturedBody tees a response body to an observer. finish drains whatever
// the client did not read, so the capture is complete even when the client
// hung up, then reports completion exactly once.
type capturedBody struct {
	rc      io.ReadCloser
	onChunk func([]byte)
	onDone  func()
	once    sync.Once
}

func (c *capturedBody) Read(b []byte) (int, error) {
	n, err := c.rc.Read(b)
	if n > 0 && c.onChunk != nil {
		c.onChunk(append([]byte(nil), b[:n]...))
	}
	return n, err
}

func (c *capturedBody) Close() error {
	return nil
}

func (c *capturedBody) finish() {
	c.once.Do(func() {
		if c.onChunk != nil {
			_, _ = io.Copy(io.Discard, c)
		}
		_ = c.rc.Close()
		if c.onDone != nil {
			c.onDone()
		}
	})
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// sendError writes an HTTP error response over a raw connection.
func sendError(conn net.Conn, status int, message string) {
	response := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(message), message)
	_, _ = conn.Write([]byte(response))
}

var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopByHopHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func withDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), "443")
}

func trimDefaultPort(host string) string {
	if h, port, err := net.SplitHostPort(host); err == nil && port == "443" {
		if strings.Contains(h, ":") {
			return "[" + h + "]"
		}
		return h
	}
	return host
}

func isClosedConn(err error) bool {
	return stderrors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}
