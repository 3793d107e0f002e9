//go:build acceptance

package acceptance

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarelabs/snare/pkg/cassette"
	"github.com/snarelabs/snare/pkg/endpoint"
	"github.com/snarelabs/snare/pkg/intercept"
	"github.com/snarelabs/snare/pkg/recorder"
)

// widgetBackend serves a small API whose traffic the tests capture.
func widgetBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /widgets/7", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":7,"name":"flange"}`)
	})
	mux.HandleFunc("POST /widgets", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":8}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func captureWidgetTraffic(t *testing.T, client *http.Client, base string) {
	t.Helper()
	status, body := get(t, client, base+"/widgets/7")
	require.Equal(t, 200, status)
	require.JSONEq(t, `{"id":7,"name":"flange"}`, body)

	resp, err := client.Post(base+"/widgets", "application/json",
		strings.NewReader(`{"name":"flange","qty":3}`))
	require.NoError(t, err)
	created, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)
	require.JSONEq(t, `{"id":8}`, string(created))
}

// replayEngine loads a cassette into a fresh engine with the real
// network denied, so any unmatched request fails loudly.
func replayEngine(t *testing.T, cas *cassette.Cassette) *intercept.Engine {
	t.Helper()
	eng := newEngine(t)
	eng.DisableNetConnect()
	for _, exp := range cassette.Expectations(cas, cassette.ExpectOptions{}) {
		eng.Register(exp)
	}
	return eng
}

func TestRecordReplayAcrossFormats(t *testing.T) {
	backend := widgetBackend(t)

	rec := newEngine(t)
	require.NoError(t, rec.StartRecording(recorder.Options{}))
	captureWidgetTraffic(t, installedClient(t, rec), backend.URL)
	rec.StopRecording()

	records := rec.Recorder().Records()
	require.Len(t, records, 2)

	for _, ext := range []string{".json", ".yaml", ".cbor"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "capture"+ext)
			require.NoError(t, cassette.Save(path, cassette.New(records...)))

			loaded, err := cassette.Load(path)
			require.NoError(t, err)
			require.Len(t, loaded.Records, 2)

			eng := replayEngine(t, loaded)
			client := installedClient(t, eng)

			status, body := get(t, client, backend.URL+"/widgets/7")
			assert.Equal(t, 200, status)
			assert.JSONEq(t, `{"id":7,"name":"flange"}`, body)

			// Key order differs from the capture; body matching for
			// structured payloads is structural.
			resp, err := client.Post(backend.URL+"/widgets", "application/json",
				strings.NewReader(`{"qty":3,"name":"flange"}`))
			require.NoError(t, err)
			created, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)
			assert.Equal(t, 201, resp.StatusCode)
			assert.JSONEq(t, `{"id":8}`, string(created))

			assert.True(t, eng.Done())
		})
	}
}

func TestProxyRecordTransportReplay(t *testing.T) {
	backend := widgetBackend(t)

	rec := newEngine(t)
	require.NoError(t, rec.StartRecording(recorder.Options{}))
	captureWidgetTraffic(t, proxiedClient(t, rec), backend.URL)
	rec.StopRecording()

	records := rec.Recorder().Records()
	require.Len(t, records, 2)
	assert.Equal(t, endpoint.Parse(backend.URL).Key(), records[0].Scope)

	// The backend is gone; a capture taken through the proxy replays
	// through the in-process transport.
	backend.Close()

	eng := replayEngine(t, cassette.New(records...))
	client := installedClient(t, eng)

	status, body := get(t, client, backend.URL+"/widgets/7")
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"id":7,"name":"flange"}`, body)

	resp, err := client.Post(backend.URL+"/widgets", "application/json",
		strings.NewReader(`{"name":"flange","qty":3}`))
	require.NoError(t, err)
	created, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.JSONEq(t, `{"id":8}`, string(created))
}

func TestArchiveRoundTrip(t *testing.T) {
	backend := widgetBackend(t)

	rec := newEngine(t)
	require.NoError(t, rec.StartRecording(recorder.Options{}))
	captureWidgetTraffic(t, installedClient(t, rec), backend.URL)
	rec.StopRecording()

	dbPath := filepath.Join(t.TempDir(), "traffic.db")
	arch, err := cassette.OpenArchive(dbPath)
	require.NoError(t, err)
	require.NoError(t, arch.InsertAll("run-1", rec.Recorder().Records()))
	require.NoError(t, arch.Close())

	reopened, err := cassette.OpenArchive(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	sessions, err := reopened.Sessions()
	require.NoError(t, err)
	assert.Contains(t, sessions, "run-1")

	cas, err := reopened.Cassette("run-1")
	require.NoError(t, err)
	require.Len(t, cas.Records, 2)

	backend.Close()

	eng := replayEngine(t, cas)
	client := installedClient(t, eng)
	status, body := get(t, client, backend.URL+"/widgets/7")
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"id":7,"name":"flange"}`, body)
}
