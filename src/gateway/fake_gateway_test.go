package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"personal/discord_client/src/opcodes"
	"personal/discord_client/src/tasks"
)

const testTimeout = 5 * time.Second

// fakeGateway is a scripted gateway server. Each accepted socket is handed
// to the test, which plays the server side frame by frame.
type fakeGateway struct {
	t      *testing.T
	server *httptest.Server
	conns  chan *fakeSocket
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t, conns: make(chan *fakeSocket, 8)}
	upgrader := websocket.Upgrader{}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		g.conns <- &fakeSocket{t: t, conn: conn, path: r.URL.Path, query: r.URL.Query().Encode()}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) url(path string) string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http") + path
}

func (g *fakeGateway) accept() *fakeSocket {
	g.t.Helper()
	select {
	case s := <-g.conns:
		g.t.Cleanup(func() { s.conn.Close() })
		return s
	case <-time.After(testTimeout):
		g.t.Fatal("client did not connect")
		return nil
	}
}

// requireNoConnection asserts the client stays on its current socket.
func (g *fakeGateway) requireNoConnection(wait time.Duration) {
	g.t.Helper()
	select {
	case <-g.conns:
		g.t.Fatal("client reconnected unexpectedly")
	case <-time.After(wait):
	}
}

type fakeSocket struct {
	t     *testing.T
	conn  *websocket.Conn
	path  string
	query string
}

func (s *fakeSocket) write(frame map[string]any) {
	s.t.Helper()
	require.NoError(s.t, s.conn.WriteJSON(frame))
}

func (s *fakeSocket) send(op opcodes.Opcode, d any) {
	s.t.Helper()
	s.write(map[string]any{"op": op, "d": d, "s": nil, "t": nil})
}

func (s *fakeSocket) dispatch(seq int64, event string, d any) {
	s.t.Helper()
	s.write(map[string]any{"op": opcodes.Dispatch, "d": d, "s": seq, "t": event})
}

func (s *fakeSocket) dispatchCompressed(seq int64, event string, d any) {
	s.t.Helper()
	payload, err := json.Marshal(map[string]any{"op": opcodes.Dispatch, "d": d, "s": seq, "t": event})
	require.NoError(s.t, err)

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err = w.Write(payload)
	require.NoError(s.t, err)
	require.NoError(s.t, w.Close())
	require.NoError(s.t, s.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()))
}

func (s *fakeSocket) hello(intervalMillis int64) {
	s.t.Helper()
	s.send(opcodes.Hello, HelloData{HeartbeatInterval: intervalMillis})
}

func (s *fakeSocket) read() Frame {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(testTimeout)))
	var frame Frame
	_, data, err := s.conn.ReadMessage()
	require.NoError(s.t, err)
	require.NoError(s.t, json.Unmarshal(data, &frame))
	return frame
}

// expect returns the next frame with op. Heartbeats met on the way are
// acknowledged and skipped unless op is Heartbeat itself.
func (s *fakeSocket) expect(op opcodes.Opcode) Frame {
	s.t.Helper()
	for {
		frame := s.read()
		if frame.Op == opcodes.Heartbeat && op != opcodes.Heartbeat {
			s.send(opcodes.HeartbeatACK, nil)
			continue
		}
		require.Equal(s.t, op, frame.Op, "unexpected frame %s", frame.D)
		return frame
	}
}

func (s *fakeSocket) expectIdentify() IdentifyData {
	s.t.Helper()
	var data IdentifyData
	require.NoError(s.t, json.Unmarshal(s.expect(opcodes.Identify).D, &data))
	return data
}

func (s *fakeSocket) expectResume() ResumeData {
	s.t.Helper()
	var data ResumeData
	require.NoError(s.t, json.Unmarshal(s.expect(opcodes.Resume).D, &data))
	return data
}

func (s *fakeSocket) ready(seq int64, sessionID, resumeURL string, guildIDs ...string) {
	s.t.Helper()
	guilds := make([]map[string]any, 0, len(guildIDs))
	for _, id := range guildIDs {
		guilds = append(guilds, map[string]any{"id": id, "unavailable": true})
	}
	s.dispatch(seq, "READY", map[string]any{
		"v":                  APIVersion,
		"user":               map[string]any{"id": "100", "username": "bot"},
		"guilds":             guilds,
		"session_id":         sessionID,
		"resume_gateway_url": resumeURL,
	})
}

func (s *fakeSocket) closeWith(code int, text string) {
	s.t.Helper()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	s.conn.Close()
}

// readClose reads until the client's close frame and returns its code.
func (s *fakeSocket) readClose() int {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(testTimeout)))
	for {
		_, _, err := s.conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(s.t, err, &closeErr)
		return closeErr.Code
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConnection wraps a Connection started by startConnection.
type testConnection struct {
	*Connection
	result chan error
}

func newTestConnection(t *testing.T, g *fakeGateway, mutate func(*Config)) *Connection {
	t.Helper()
	queue := tasks.NewQueue(tasks.Options{Workers: 2, Logger: discardLogger()})
	queue.Start()
	t.Cleanup(queue.Close)

	cfg := Config{
		Token:                  "test-token",
		URL:                    g.url("/"),
		Intents:                opcodes.DefaultIntents,
		Queue:                  queue,
		Logger:                 discardLogger(),
		MinBackoff:             5 * time.Millisecond,
		MaxBackoff:             20 * time.Millisecond,
		InvalidSessionMinDelay: 5 * time.Millisecond,
		InvalidSessionMaxDelay: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewConnection(cfg)
	require.NoError(t, err)
	// First heartbeat a full interval after HELLO keeps scripts deterministic.
	c.heartbeat.jitter = func() float64 { return 1 }
	return c
}

func startConnection(t *testing.T, c *Connection) *testConnection {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	tc := &testConnection{Connection: c, result: make(chan error, 1)}
	go func() { tc.result <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-tc.result:
		case <-time.After(testTimeout):
			t.Error("Run did not return after cancel")
		}
	})
	return tc
}

func (tc *testConnection) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-tc.result:
		tc.result <- err
		return err
	case <-time.After(testTimeout):
		t.Fatal("Run did not return")
		return nil
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}
