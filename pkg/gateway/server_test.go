package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/ggbconnect/pkg/engine"
	"github.com/harun/ggbconnect/pkg/relay"
	"github.com/harun/ggbconnect/pkg/session"
	"github.com/harun/ggbconnect/pkg/store"
)

// in-memory engine and store doubles

type stubHandle struct {
	mu       sync.Mutex
	scripts  []string
	handlers map[engine.EventKind]engine.EventHandler
}

func newStubHandle() *stubHandle {
	return &stubHandle{handlers: make(map[engine.EventKind]engine.EventHandler)}
}

func (h *stubHandle) EvalScript(ctx context.Context, script string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts = append(h.scripts, script)
	return nil
}

func (h *stubHandle) Export64(ctx context.Context, format engine.Format) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := string(format) + ":" + strings.Join(h.scripts, ";")
	return base64.StdEncoding.EncodeToString([]byte(state)), nil
}

func (h *stubHandle) Export(ctx context.Context, format engine.Format) ([]byte, error) {
	encoded, err := h.Export64(ctx, format)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (h *stubHandle) OnEvent(kind engine.EventKind, handler engine.EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[kind] = handler
}

func (h *stubHandle) Release(ctx context.Context) error { return nil }

func (h *stubHandle) emit(kind engine.EventKind, args ...interface{}) {
	h.mu.Lock()
	handler := h.handlers[kind]
	h.mu.Unlock()
	if handler != nil {
		handler(args...)
	}
}

type stubFactory struct {
	mu      sync.Mutex
	handles []*stubHandle
}

func (f *stubFactory) Acquire(ctx context.Context) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := newStubHandle()
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *stubFactory) Close() error { return nil }

func (f *stubFactory) lastHandle() *stubHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

type stubGateway struct {
	mu       sync.Mutex
	versions map[string]string
	docs     map[string]string
}

func newStubGateway() *stubGateway {
	return &stubGateway{versions: make(map[string]string), docs: make(map[string]string)}
}

func (g *stubGateway) UpsertSession(ctx context.Context, id, version string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.versions[id]; !exists {
		g.versions[id] = version
	}
	return nil
}

func (g *stubGateway) UpdateDocument(ctx context.Context, id, doc string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.versions[id]; !exists {
		return store.ErrRowNotFound
	}
	g.docs[id] = doc
	return nil
}

func (g *stubGateway) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return nil, store.ErrRowNotFound
}

func (g *stubGateway) Close() error { return nil }

// newTestServer wires a gateway server over in-memory doubles
func newTestServer(t *testing.T) (*httptest.Server, *stubFactory) {
	t.Helper()

	factory := &stubFactory{}
	manager, err := session.NewManager(session.Config{
		Engines: factory,
		Gateway: newStubGateway(),
		Relay:   relay.New(zerolog.Nop()),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	s, err := NewServer(Config{Host: "127.0.0.1", Port: 8080, Manager: manager, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, factory
}

func doHandshake(t *testing.T, ts *httptest.Server, id string) session.Descriptor {
	t.Helper()

	resp, err := http.Get(ts.URL + "/handshake?sessionId=" + id + "&version=1.0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var desc session.Descriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&desc))
	return desc
}

func postJSON(t *testing.T, ts *httptest.Server, path, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandshakeRoute(t *testing.T) {
	ts, _ := newTestServer(t)

	desc := doHandshake(t, ts, "s1")
	assert.Equal(t, "s1", desc.SessionID)
	assert.Equal(t, "/session/s1", desc.WebsocketLink)
}

func TestHandshakeRoute_MissingParams(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/handshake?sessionId=s1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Expected params: sessionId, version\n", readBody(t, resp))
}

func TestCommandRoute(t *testing.T) {
	ts, factory := newTestServer(t)
	doHandshake(t, ts, "s1")

	resp := postJSON(t, ts, "/command", `{"sessionId":"s1","command":"A=(1,2)"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"A=(1,2)"}, factory.lastHandle().scripts)
}

func TestCommandRoute_UnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/command", `{"sessionId":"ghost","command":"A=(1,2)"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Session with specified id not found.\n", readBody(t, resp))
}

func TestCommandRoute_MalformedBody(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/command", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Expected params: sessionId, command\n", readBody(t, resp))
}

func TestGetCurrSessionRoute(t *testing.T) {
	ts, _ := newTestServer(t)
	doHandshake(t, ts, "s1")

	resp := postJSON(t, ts, "/command", `{"sessionId":"s1","command":"A=(1,2)"}`)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/getCurrSession?sessionId=s1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decoded, err := base64.StdEncoding.DecodeString(readBody(t, resp))
	require.NoError(t, err)
	assert.Equal(t, "ggb:A=(1,2)", string(decoded))
}

func TestGetPNGRoute(t *testing.T) {
	ts, _ := newTestServer(t)
	doHandshake(t, ts, "s1")

	resp, err := http.Get(ts.URL + "/getPNG?sessionId=s1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "png:", readBody(t, resp))
}

func TestExportRoute_FormatValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	doHandshake(t, ts, "s1")

	resp, err := http.Get(ts.URL + "/export?sessionId=s1&format=bmp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/export?sessionId=s1&format=svg")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	resp.Body.Close()
}

func TestSaveCurrSessionRoute(t *testing.T) {
	ts, _ := newTestServer(t)
	doHandshake(t, ts, "s1")

	resp := postJSON(t, ts, "/command", `{"sessionId":"s1","command":"A=(1,2)"}`)
	resp.Body.Close()

	resp = postJSON(t, ts, "/saveCurrSession", `{"id":"s1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, readBody(t, resp))
}

func TestReleaseRoute(t *testing.T) {
	ts, _ := newTestServer(t)
	doHandshake(t, ts, "s1")

	resp := postJSON(t, ts, "/release", `{"sessionId":"s1"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Released session is gone
	resp = postJSON(t, ts, "/release", `{"sessionId":"s1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Session with specified id not found.\n", readBody(t, resp))
}

func TestHealthzRoute(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, readBody(t, resp))
}

func TestMetricsRoute(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "active_sessions")
}

func dialWebsocket(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWsJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestWebsocket_PathSubscribe(t *testing.T) {
	ts, factory := newTestServer(t)
	doHandshake(t, ts, "s1")

	conn := dialWebsocket(t, ts, "/session/s1")

	var ack subscribeAck
	readWsJSON(t, conn, &ack)
	assert.True(t, ack.Success)
	assert.Equal(t, "subscribed", ack.Event)
	assert.Equal(t, "s1", ack.SessionID)

	// Engine events arrive in emission order
	handle := factory.lastHandle()
	handle.emit(engine.EventAdd, "A")
	handle.emit(engine.EventUpdate, "A")

	var first, second relay.Event
	readWsJSON(t, conn, &first)
	readWsJSON(t, conn, &second)
	assert.Equal(t, "add", first.Event)
	assert.Equal(t, "update", second.Event)
	assert.Equal(t, "s1", first.SessionID)
	assert.Less(t, first.Seq, second.Seq)
}

func TestWebsocket_ExplicitSubscribe(t *testing.T) {
	ts, _ := newTestServer(t)
	doHandshake(t, ts, "s1")

	conn := dialWebsocket(t, ts, "/session")
	require.NoError(t, conn.WriteJSON(subscribeRequest{Action: "subscribe", SessionID: "s1"}))

	var ack subscribeAck
	readWsJSON(t, conn, &ack)
	assert.True(t, ack.Success)
	assert.Equal(t, "subscribed", ack.Event)
}

func TestWebsocket_SubscribeUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)

	conn := dialWebsocket(t, ts, "/session")
	require.NoError(t, conn.WriteJSON(subscribeRequest{Action: "subscribe", SessionID: "ghost"}))

	var ack subscribeAck
	readWsJSON(t, conn, &ack)
	assert.False(t, ack.Success)
	assert.Equal(t, "Session with specified id not found.", ack.Error)
}

func TestWebsocket_UnknownAction(t *testing.T) {
	ts, _ := newTestServer(t)

	conn := dialWebsocket(t, ts, "/session")
	require.NoError(t, conn.WriteJSON(subscribeRequest{Action: "shout", SessionID: "s1"}))

	var ack subscribeAck
	readWsJSON(t, conn, &ack)
	assert.False(t, ack.Success)
	assert.Contains(t, ack.Error, "unknown action")
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Port: 0})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8080})
	assert.Error(t, err, "manager is required")
}
