// Package proxy runs the interception engine as a forward HTTP proxy.
// Plain requests arrive in absolute form; HTTPS traffic arrives via
// CONNECT and is terminated with certificates minted by a local CA, so
// clients that trust the CA and point HTTP_PROXY/HTTPS_PROXY at the
// server get interception with no code changes.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarelabs/snare/internal/errx"
	"github.com/snarelabs/snare/pkg/api"
	"github.com/snarelabs/snare/pkg/endpoint"
	"github.com/snarelabs/snare/pkg/intercept"
	"github.com/snarelabs/snare/pkg/logging"
)

const dialTimeout = 30 * time.Second

// Config configures a proxy server.
type Config struct {
	// Addr is the listen address. Defaults to 127.0.0.1:0.
	Addr string
	// CADir persists the interception CA across runs. Empty keeps the
	// CA in memory.
	CADir string
	// Logger for operational messages. Defaults to slog.Default().
	Logger *slog.Logger
	// Emitter receives session_started/session_stopped events. Optional.
	Emitter *logging.Emitter
}

// Server accepts proxy connections and hands every request to the
// engine.
type Server struct {
	eng     *intercept.Engine
	caPool  *CAPool
	logger  *slog.Logger
	emitter *logging.Emitter
	addr    string

	ln     net.Listener
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewServer creates a proxy server for the engine.
func NewServer(eng *intercept.Engine, cfg Config) (*Server, error) {
	caPool, err := NewCAPool(cfg.CADir)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	return &Server{
		eng:     eng,
		caPool:  caPool,
		logger:  logger.With("component", "proxy"),
		emitter: cfg.Emitter,
		addr:    addr,
	}, nil
}

// Start begins accepting connections. A closed server cannot be
// restarted.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errx.Wrap(ErrListen, err)
	}
	s.ln = ln
	s.logger.Info("proxy listening", "addr", ln.Addr().String())
	if s.emitter != nil {
		_ = s.emitter.Emit(logging.EventSessionStarted, "proxy listening",
			"proxy", nil, &logging.SessionData{Mode: "proxy", Addr: ln.Addr().String()})
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// CAPEM returns the interception CA certificate in PEM form.
func (s *Server) CAPEM() []byte {
	return s.caPool.CACertPEM()
}

// CA exposes the server's certificate pool.
func (s *Server) CA() *CAPool {
	return s.caPool
}

// Close stops accepting connections and waits for in-flight handlers.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.wg.Wait()
	if s.emitter != nil && s.ln != nil {
		_ = s.emitter.Emit(logging.EventSessionStopped, "proxy stopped",
			"proxy", nil, &logging.SessionData{Mode: "proxy"})
	}
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.closed.Load() {
				s.logger.Warn("accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		if req.Method == http.MethodConnect {
			s.handleTunnel(conn, req)
			return
		}
		host := req.URL.Host
		if host == "" {
			host = req.Host
		}
		if !s.serveRequest(conn, req, "http", host) {
			return
		}
	}
}

// handleTunnel terminates a CONNECT tunnel with a minted certificate
// and serves the decrypted requests through the engine.
func (s *Server) handleTunnel(conn net.Conn, req *http.Request) {
	target := req.URL.Host
	if target == "" {
		target = req.Host
	}
	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}

	fallbackName := endpoint.Endpoint{Host: target}.Hostname()
	tlsConn := tls.Server(conn, &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = fallbackName
			}
			return s.caPool.GetCertificate(name)
		},
	})
	if err := tlsConn.Handshake(); err != nil {
		return
	}
	defer tlsConn.Close()

	serverName := tlsConn.ConnectionState().ServerName
	if serverName == "" {
		serverName = fallbackName
	}
	canonical := endpoint.Normalize(endpoint.Endpoint{Scheme: "https", Host: target})
	host := net.JoinHostPort(serverName, fmt.Sprintf("%d", canonical.Port))

	reader := bufio.NewReader(tlsConn)
	for {
		inner, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		if !s.serveRequest(tlsConn, inner, "https", host) {
			return
		}
	}
}

// serveRequest runs one request through the engine and writes the
// verdict to the client. The return value reports whether the
// connection can serve another request.
func (s *Server) serveRequest(conn net.Conn, req *http.Request, scheme, host string) bool {
	start := api.RequestStart{
		Scheme: scheme,
		Host:   host,
		Method: req.Method,
		Path:   req.URL.RequestURI(),
		Header: req.Header,
	}
	verdict := &proxyVerdict{}
	x, err := s.eng.StartRequest(context.Background(), start, verdict)
	if err != nil {
		writeHTTPError(conn, http.StatusServiceUnavailable, err.Error())
		return false
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		x.Abort()
		return false
	}
	if len(body) > 0 {
		if err := x.WriteChunk(body); err != nil {
			x.Abort()
			return false
		}
	}
	if err := x.End(); err != nil {
		writeHTTPError(conn, http.StatusBadGateway, err.Error())
		return false
	}

	switch {
	case verdict.failErr != nil:
		status := http.StatusBadGateway
		if errors.Is(verdict.failErr, api.ErrNetConnectBlocked) {
			status = http.StatusForbidden
		}
		s.logger.Debug("request failed", "method", req.Method, "host", host,
			"path", req.URL.Path, "error", verdict.failErr)
		writeHTTPError(conn, status, verdict.failErr.Error())
		return false
	case verdict.forwarded:
		return s.forward(conn, x, req, scheme, host, body)
	default:
		s.logger.Debug("request simulated", "method", req.Method, "host", host,
			"path", req.URL.Path, "status", verdict.status)
		return s.writeSimulated(conn, req, verdict)
	}
}

func (s *Server) writeSimulated(conn net.Conn, req *http.Request, verdict *proxyVerdict) bool {
	header := verdict.header
	if header == nil {
		header = http.Header{}
	}
	body := verdict.body.Bytes()
	resp := &http.Response{
		StatusCode:    verdict.status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
	if err := writeResponse(conn, resp); err != nil {
		return false
	}
	return !req.Close
}

// forward performs the real request upstream, mirrors the response back
// to the exchange for capture, and relays it to the client.
func (s *Server) forward(conn net.Conn, x *intercept.Exchange, req *http.Request, scheme, host string, body []byte) bool {
	canonical := endpoint.Normalize(endpoint.Endpoint{Scheme: scheme, Host: host})
	dialAddr := canonical.Host

	var upstream net.Conn
	var err error
	if scheme == "https" {
		upstream, err = tls.Dial("tcp", dialAddr, &tls.Config{ServerName: canonical.Hostname()})
	} else {
		upstream, err = net.DialTimeout("tcp", dialAddr, dialTimeout)
	}
	if err != nil {
		writeHTTPError(conn, http.StatusBadGateway, "failed to connect upstream")
		return false
	}
	defer upstream.Close()

	out := req.Clone(context.Background())
	if len(body) > 0 {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	} else {
		out.Body = http.NoBody
		out.ContentLength = 0
	}
	if err := out.Write(upstream); err != nil {
		writeHTTPError(conn, http.StatusBadGateway, "failed to write upstream request")
		return false
	}

	resp, err := http.ReadResponse(bufio.NewReader(upstream), out)
	if err != nil {
		writeHTTPError(conn, http.StatusBadGateway, "failed to read upstream response")
		return false
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return false
	}

	x.ObserveResponseHeaders(resp.StatusCode, resp.Header)
	if len(respBody) > 0 {
		x.ObserveResponseChunk(respBody)
	}
	x.ObserveResponseEnd()

	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	resp.ContentLength = int64(len(respBody))
	resp.TransferEncoding = nil
	resp.Header.Del("Transfer-Encoding")
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(respBody)))

	s.logger.Debug("request forwarded", "method", req.Method, "host", host,
		"path", req.URL.Path, "status", resp.StatusCode, "bytes", len(respBody))

	if err := writeResponse(conn, resp); err != nil {
		return false
	}
	return !(req.Close || resp.Close)
}

// proxyVerdict receives the engine's decision. All callbacks run on the
// serveRequest goroutine.
type proxyVerdict struct {
	status    int
	header    http.Header
	body      bytes.Buffer
	forwarded bool
	failErr   error
}

func (v *proxyVerdict) EmitResponseHeaders(status int, header http.Header) error {
	v.status = status
	v.header = header
	return nil
}

func (v *proxyVerdict) EmitResponseChunk(p []byte) error {
	v.body.Write(p)
	return nil
}

func (v *proxyVerdict) EmitResponseEnd() error {
	return nil
}

func (v *proxyVerdict) ForwardToRealNetwork() error {
	v.forwarded = true
	return nil
}

func (v *proxyVerdict) Fail(err error) {
	v.failErr = err
}

func writeHTTPError(conn net.Conn, status int, message string) {
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(message), message)
	_, _ = io.WriteString(conn, resp)
}

func writeResponse(conn net.Conn, resp *http.Response) error {
	bw := bufio.NewWriterSize(conn, 64*1024)
	if err := resp.Write(bw); err != nil {
		return err
	}
	return bw.Flush()
}
