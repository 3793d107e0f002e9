package proxy

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarelabs/snare/pkg/endpoint"
	"github.com/snarelabs/snare/pkg/intercept"
	"github.com/snarelabs/snare/pkg/logging"
	"github.com/snarelabs/snare/pkg/recorder"
)

func newEngine(t *testing.T) *intercept.Engine {
	t.Helper()
	eng := intercept.New(intercept.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func newTestServer(t *testing.T, eng *intercept.Engine) *Server {
	t.Helper()
	srv, err := NewServer(eng, Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func newProxyClient(t *testing.T, srv *Server) *http.Client {
	t.Helper()
	proxyURL, err := url.Parse("http://" + srv.Addr())
	require.NoError(t, err)
	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM(srv.CAPEM()))
	return &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{RootCAs: roots},
		},
		Timeout: 10 * time.Second,
	}
}

func TestProxySimulatesPlainHTTP(t *testing.T) {
	eng := newEngine(t)
	eng.Scope("http://api.internal").
		Get("/users").
		Reply(http.StatusOK).
		JSON(map[string]any{"users": []string{"amy"}})

	srv := newTestServer(t, eng)
	client := newProxyClient(t, srv)

	resp, err := client.Get("http://api.internal/users")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":["amy"]}`, string(body))
	assert.True(t, eng.Done())
}

func TestProxySimulatesHTTPSTunnel(t *testing.T) {
	eng := newEngine(t)
	eng.Scope("https://secure.internal").
		Get("/ping").
		Reply(http.StatusNoContent)

	srv := newTestServer(t, eng)
	client := newProxyClient(t, srv)

	resp, err := client.Get("https://secure.internal/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, eng.Done())
}

func TestProxyForwardsWhenAllowed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "real")
		fmt.Fprintf(w, "origin %s", r.URL.Path)
	}))
	defer backend.Close()

	eng := newEngine(t)
	srv := newTestServer(t, eng)
	client := newProxyClient(t, srv)

	resp, err := client.Get(backend.URL + "/real/path")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "real", resp.Header.Get("X-Origin"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "origin /real/path", string(body))
}

func TestProxyForwardsRequestBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		fmt.Fprint(w, strings.ToUpper(string(b)))
	}))
	defer backend.Close()

	eng := newEngine(t)
	srv := newTestServer(t, eng)
	client := newProxyClient(t, srv)

	resp, err := client.Post(backend.URL+"/shout", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(body))
}

func TestProxyRejectsBlockedHost(t *testing.T) {
	eng := newEngine(t)
	eng.DisableNetConnect()

	srv := newTestServer(t, eng)
	client := newProxyClient(t, srv)

	resp, err := client.Get("http://blocked.internal/x")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "disallowed")
}

func TestProxyMatchesPostBody(t *testing.T) {
	eng := newEngine(t)
	eng.DisableNetConnect()
	eng.Scope("http://api.internal").
		Post("/orders", map[string]any{"item": "book", "qty": 2}).
		Reply(http.StatusCreated).
		JSON(map[string]any{"id": "ord-1"})

	srv := newTestServer(t, eng)
	client := newProxyClient(t, srv)

	resp, err := client.Post("http://api.internal/orders", "application/json",
		strings.NewReader(`{"qty": 2, "item": "book"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ord-1"}`, string(body))
}

func TestProxyKeepAliveServesSequentialRequests(t *testing.T) {
	eng := newEngine(t)
	eng.Scope("http://api.internal").
		Get("/ping").
		Persist().
		Reply(http.StatusOK).
		BodyString("pong")

	srv := newTestServer(t, eng)
	client := newProxyClient(t, srv)

	for i := 0; i < 3; i++ {
		resp, err := client.Get("http://api.internal/ping")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "pong", string(body))
	}
}

func TestProxyRecordsForwardedTraffic(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	}))
	defer backend.Close()

	eng := newEngine(t)
	require.NoError(t, eng.StartRecording(recorder.Options{}))

	srv := newTestServer(t, eng)
	client := newProxyClient(t, srv)

	resp, err := client.Get(backend.URL + "/teapot")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	eng.StopRecording()

	records := eng.Recorder().Records()
	require.Len(t, records, 1)
	assert.Equal(t, endpoint.Parse(backend.URL).Key(), records[0].Scope)
	assert.Equal(t, "GET", records[0].Method)
	assert.Equal(t, "/teapot", records[0].Path)
	assert.Equal(t, http.StatusTeapot, records[0].Status)
	assert.Equal(t, "short and stout", records[0].Response)
}

func TestProxyAddrEmptyBeforeStart(t *testing.T) {
	eng := newEngine(t)
	srv, err := NewServer(eng, Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Start())
	defer srv.Close()
	assert.NotEmpty(t, srv.Addr())
}

func TestProxyCloseIdempotent(t *testing.T) {
	eng := newEngine(t)
	srv, err := NewServer(eng, Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Start(), ErrServerClosed)
}

func TestProxyEmitsSessionEvents(t *testing.T) {
	var buf bytes.Buffer
	emitter := logging.NewEmitter(logging.EmitterConfig{SessionID: "px-1"}, logging.NewWriterSink(&buf))

	eng := newEngine(t)
	srv, err := NewServer(eng, Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Emitter: emitter,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	addr := srv.Addr()
	require.NoError(t, srv.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var started, stopped logging.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &started))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &stopped))

	assert.Equal(t, logging.EventSessionStarted, started.EventType)
	assert.Equal(t, "px-1", started.SessionID)
	var data logging.SessionData
	require.NoError(t, json.Unmarshal(started.Data, &data))
	assert.Equal(t, "proxy", data.Mode)
	assert.Equal(t, addr, data.Addr)

	assert.Equal(t, logging.EventSessionStopped, stopped.EventType)
}
