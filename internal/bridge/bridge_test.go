package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabbridge/internal/protocol"
	"tabbridge/internal/recorder"
)

// controller is a fake controller endpoint.
type controller struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	dials    atomic.Int32
}

func newController(t *testing.T) *controller {
	t.Helper()
	c := &controller{conns: make(chan *websocket.Conn, 8)}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := c.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.dials.Add(1)
		c.conns <- conn
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *controller) endpoint() string {
	return "ws" + strings.TrimPrefix(c.srv.URL, "http")
}

func (c *controller) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-c.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not connect")
		return nil
	}
}

// echoHandler answers {"action":a,"sleep":ms} with {"action":a,"data":{"seq":n}}
// after sleeping, and drops anything that is not JSON.
type echoHandler struct {
	seq atomic.Int32
}

func (h *echoHandler) Handle(_ context.Context, frame []byte) (protocol.Envelope, bool) {
	var req struct {
		Action string `json:"action"`
		Sleep  int    `json:"sleep"`
	}
	if err := json.Unmarshal(frame, &req); err != nil {
		return protocol.Envelope{}, false
	}
	time.Sleep(time.Duration(req.Sleep) * time.Millisecond)
	return protocol.Success(req.Action, map[string]int32{"seq": h.seq.Add(1)}), true
}

type transitions struct {
	mu  sync.Mutex
	log []string
}

func (tr *transitions) record(from, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.log = append(tr.log, from.String()+">"+to.String())
}

func (tr *transitions) count(to State) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for _, s := range tr.log {
		if strings.HasSuffix(s, ">"+to.String()) {
			n++
		}
	}
	return n
}

func run(ctx context.Context, m *Manager) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func receive(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}

func closeCleanly(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
}

func TestRequestResponseAndCleanClose(t *testing.T) {
	ctrl := newController(t)
	traceDir := t.TempDir()
	rec, err := recorder.New(traceDir)
	require.NoError(t, err)

	tr := &transitions{}
	m := New(&echoHandler{}, Options{Endpoint: ctrl.endpoint(), ReconnectDelay: 50 * time.Millisecond, Recorder: rec, OnState: tr.record})
	done := run(context.Background(), m)

	conn := ctrl.accept(t)
	send(t, conn, `{"action":"dimensions"}`)
	assert.JSONEq(t, `{"action":"dimensions","data":{"seq":1}}`, receive(t, conn))
	assert.Equal(t, Open, m.State())
	assert.NotEmpty(t, m.ConnID())

	closeCleanly(t, conn)
	waitDone(t, done)

	assert.Equal(t, Closed, m.State())
	assert.Equal(t, int32(1), ctrl.dials.Load(), "clean close must not reconnect")
	assert.Zero(t, tr.count(Reconnecting))

	entries, err := os.ReadDir(traceDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	trace, err := os.ReadFile(traceDir + "/" + entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(trace), `"kind":"in"`)
	assert.Contains(t, string(trace), `"kind":"out"`)
	assert.Contains(t, string(trace), m.ConnID())
}

func TestUncleanDropReconnectsOnceAfterDelay(t *testing.T) {
	ctrl := newController(t)
	delay := 150 * time.Millisecond
	tr := &transitions{}
	m := New(&echoHandler{}, Options{Endpoint: ctrl.endpoint(), ReconnectDelay: delay, OnState: tr.record})
	done := run(context.Background(), m)

	first := ctrl.accept(t)
	require.Eventually(t, func() bool { return m.State() == Open }, 5*time.Second, 5*time.Millisecond)
	firstID := m.ConnID()
	dropped := time.Now()
	// Close the TCP connection without a close frame.
	require.NoError(t, first.Close())

	second := ctrl.accept(t)
	assert.GreaterOrEqual(t, time.Since(dropped), delay)
	assert.Equal(t, 1, tr.count(Reconnecting))
	assert.Equal(t, int32(2), ctrl.dials.Load())

	// The new connection behaves exactly like the first one.
	send(t, second, `{"action":"screenshot"}`)
	assert.JSONEq(t, `{"action":"screenshot","data":{"seq":1}}`, receive(t, second))
	assert.Equal(t, Open, m.State())
	assert.NotEqual(t, firstID, m.ConnID())

	closeCleanly(t, second)
	waitDone(t, done)
	assert.Equal(t, 1, tr.count(Reconnecting))
}

func TestRepliesKeepRequestOrder(t *testing.T) {
	ctrl := newController(t)
	m := New(&echoHandler{}, Options{Endpoint: ctrl.endpoint()})
	done := run(context.Background(), m)
	conn := ctrl.accept(t)

	send(t, conn, `{"action":"wait","sleep":80}`)
	send(t, conn, `{"action":"click","sleep":0}`)
	send(t, conn, `{"action":"key","sleep":20}`)

	assert.JSONEq(t, `{"action":"wait","data":{"seq":1}}`, receive(t, conn))
	assert.JSONEq(t, `{"action":"click","data":{"seq":2}}`, receive(t, conn))
	assert.JSONEq(t, `{"action":"key","data":{"seq":3}}`, receive(t, conn))

	closeCleanly(t, conn)
	waitDone(t, done)
}

func TestMalformedFrameGetsNoReply(t *testing.T) {
	ctrl := newController(t)
	m := New(&echoHandler{}, Options{Endpoint: ctrl.endpoint()})
	done := run(context.Background(), m)
	conn := ctrl.accept(t)

	send(t, conn, `this is not json`)
	send(t, conn, `{"action":"dimensions"}`)
	assert.JSONEq(t, `{"action":"dimensions","data":{"seq":1}}`, receive(t, conn))

	closeCleanly(t, conn)
	waitDone(t, done)
}

func TestShutdownSendsNormalClose(t *testing.T) {
	ctrl := newController(t)
	ctx, cancel := context.WithCancel(context.Background())
	tr := &transitions{}
	m := New(&echoHandler{}, Options{Endpoint: ctrl.endpoint(), WriteTimeout: time.Second, OnState: tr.record})
	done := run(ctx, m)
	conn := ctrl.accept(t)

	closed := make(chan error, 1)
	go func() {
		_, _, err := conn.ReadMessage()
		closed <- err
	}()

	require.Eventually(t, func() bool { return m.State() == Open }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-closed:
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("no close frame received")
	}

	waitDone(t, done)
	assert.Equal(t, Closed, m.State())
	assert.Equal(t, 1, tr.count(Closing))
	assert.Zero(t, tr.count(Reconnecting))
}

func TestDialFailureRetriesForever(t *testing.T) {
	ctrl := newController(t)
	endpoint := ctrl.endpoint()
	ctrl.srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reconnects atomic.Int32
	m := New(&echoHandler{}, Options{
		Endpoint:       endpoint,
		ReconnectDelay: 10 * time.Millisecond,
		OnState: func(_, to State) {
			if to == Reconnecting && reconnects.Add(1) == 3 {
				cancel()
			}
		},
	})

	waitDone(t, run(ctx, m))
	assert.Equal(t, int32(3), reconnects.Load())
	assert.Equal(t, Closed, m.State())
}

func TestClassify(t *testing.T) {
	m := New(&echoHandler{}, Options{})
	tests := []struct {
		name  string
		err   error
		clean bool
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"peer error code", &websocket.CloseError{Code: websocket.CloseInternalServerErr}, true},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, false},
		{"eof", io.ErrUnexpectedEOF, false},
		{"reset", errors.New("connection reset by peer"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.clean, m.classify(tt.err))
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(Closed, Connecting))
	assert.True(t, CanTransition(Connecting, Open))
	assert.True(t, CanTransition(Open, Reconnecting))
	assert.True(t, CanTransition(Reconnecting, Connecting))
	assert.True(t, CanTransition(Closing, Closed))
	assert.False(t, CanTransition(Closing, Reconnecting))
	assert.False(t, CanTransition(Reconnecting, Open))
	assert.Equal(t, "reconnecting", Reconnecting.String())
}
