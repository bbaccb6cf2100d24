package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/wlmirror/internal/config"
	"github.com/bryanchriswhite/wlmirror/internal/output"
	"github.com/bryanchriswhite/wlmirror/internal/transform"
	"github.com/bryanchriswhite/wlmirror/internal/window"
)

type staticOutputs []output.Entry

func (s staticOutputs) List() []output.Entry { return s }

func newTestServer(t *testing.T) (*Server, *Hub, *config.Manager) {
	t.Helper()
	cfgMgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	hub := NewHub()
	outputs := staticOutputs{
		{ID: 1, Name: "DP-1", Scale: 2, Transform: transform.Rotate90, Geometry: output.Geometry{Width: 3840, Height: 2160}},
	}
	return NewServer(hub, outputs, cfgMgr), hub, cfgMgr
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestGetWindow(t *testing.T) {
	s, hub, _ := newTestServer(t)

	rec := get(t, s, "/api/window")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	hub.publish(window.Snapshot{Width: 800, Height: 600, Scale: 1.25, BufferWidth: 1000, BufferHeight: 750, InitDone: true})

	rec = get(t, s, "/api/window")
	require.Equal(t, http.StatusOK, rec.Code)

	var got window.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1000, got.BufferWidth)
	assert.Equal(t, 1.25, got.Scale)
	assert.Contains(t, rec.Body.String(), `"transform":"normal"`)
}

func TestGetOutputs(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/api/outputs")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []output.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "DP-1", got[0].Name)
	assert.Equal(t, transform.Rotate90, got[0].Transform)
}

func TestConfigRoundTrip(t *testing.T) {
	s, _, cfgMgr := newTestServer(t)

	rec := get(t, s, "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fractional_scale":"auto"`)

	req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{"api":{"enabled":true,"port":9999}}`))
	put := httptest.NewRecorder()
	s.Handler().ServeHTTP(put, req)
	require.Equal(t, http.StatusOK, put.Code)
	assert.Equal(t, 9999, cfgMgr.Get().API.Port)
	assert.Equal(t, "info", cfgMgr.Get().LogLevel, "fields missing from the body are kept")

	req = httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{"log_level":"loud"}`))
	put = httptest.NewRecorder()
	s.Handler().ServeHTTP(put, req)
	assert.Equal(t, http.StatusBadRequest, put.Code)
	assert.Equal(t, "info", cfgMgr.Get().LogLevel)
}

func TestIndexAndPreflight(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/window/stream")

	pre := httptest.NewRecorder()
	s.Handler().ServeHTTP(pre, httptest.NewRequest(http.MethodOptions, "/api/config", nil))
	assert.Equal(t, http.StatusOK, pre.Code)
}

func TestWindowStream(t *testing.T) {
	s, hub, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	hub.publish(window.Snapshot{Width: 100, Height: 100, Scale: 1, InitDone: true})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/window/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first window.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 100, first.Width)

	// the initial state is sent after subscribing, so this commit is streamed
	hub.publish(window.Snapshot{Width: 200, Height: 100, Scale: 1, InitDone: true, Changed: "size"})

	var next window.Snapshot
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, 200, next.Width)
	assert.Equal(t, "size", next.Changed)
}

func TestWindowStreamUnsubscribesOnDisconnect(t *testing.T) {
	s, hub, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/window/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	// no commit follows, so only the read side can notice the client leaving
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownBeforeStart(t *testing.T) {
	s, hub, _ := newTestServer(t)
	updates := hub.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, ok := <-updates
	assert.False(t, ok, "shutdown ends open streams")

	done := make(chan error, 1)
	go func() { done <- s.Start(0) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}

func TestHubSubscribeAfterClose(t *testing.T) {
	hub := NewHub()
	live := hub.Subscribe()
	hub.Close()

	_, ok := <-live
	assert.False(t, ok)

	late := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	hub.Unsubscribe(late)
	hub.publish(window.Snapshot{Width: 1})
	assert.Equal(t, 1, hub.Current().Width)
}
