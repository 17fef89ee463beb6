// Package bridge owns the control channel: one WebSocket client connection
// to the controller, reconnected after a fixed delay whenever it drops
// uncleanly.
//
// Frames are read by one goroutine into a bounded queue and handled by a
// single consumer, which is also the only writer of replies. Replies are
// therefore sent in request order and handlers never overlap.
package bridge

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"tabbridge/internal/config"
	"tabbridge/internal/protocol"
	"tabbridge/internal/recorder"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler answers one inbound frame. ok=false means no reply is sent.
type Handler interface {
	Handle(ctx context.Context, frame []byte) (env protocol.Envelope, ok bool)
}

// Options tunes the manager.
type Options struct {
	Endpoint         string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	QueueSize        int

	// Recorder traces frames; nil disables tracing.
	Recorder *recorder.Recorder
	// OnState observes every transition.
	OnState func(from, to State)
}

// OptionsFromConfig maps the bridge section of the config file.
func OptionsFromConfig(cfg config.BridgeConfig) Options {
	return Options{
		Endpoint:         cfg.Endpoint,
		ReconnectDelay:   cfg.GetReconnectDelay(),
		HandshakeTimeout: cfg.GetHandshakeTimeout(),
		WriteTimeout:     cfg.GetWriteTimeout(),
		QueueSize:        cfg.GetQueueSize(),
	}
}

// Manager is the connection state machine. It is the single owner of the
// socket.
type Manager struct {
	opts    Options
	handler Handler
	dialer  *websocket.Dialer

	mu     sync.Mutex
	state  State
	connID string
}

func New(handler Handler, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Manager{
		opts:    opts,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		state: Closed,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnID identifies the current or last connection in logs and traces.
func (m *Manager) ConnID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from == to {
		return
	}
	if !CanTransition(from, to) {
		log.Printf("[bridge] unexpected transition %s -> %s", from, to)
	}
	log.Printf("[bridge] %s -> %s", from, to)
	m.opts.Recorder.State(from.String(), to.String())
	if m.opts.OnState != nil {
		m.opts.OnState(from, to)
	}
}

// Run connects and serves until the peer closes the channel cleanly or ctx
// is cancelled. Both end in Closed and return nil. Dial failures and network
// drops are retried forever after ReconnectDelay.
func (m *Manager) Run(ctx context.Context) error {
	for {
		m.setState(Connecting)

		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(Closed)
				return nil
			}
			log.Printf("[bridge] dial %s failed: %v", m.opts.Endpoint, err)
			if !m.waitReconnect(ctx) {
				return nil
			}
			continue
		}

		if clean := m.serve(ctx, conn); clean {
			m.setState(Closed)
			return nil
		}
		if !m.waitReconnect(ctx) {
			return nil
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.opts.Endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// waitReconnect sleeps the fixed delay in Reconnecting. It returns false,
// leaving the manager Closed, when ctx ends first.
func (m *Manager) waitReconnect(ctx context.Context) bool {
	m.setState(Reconnecting)
	log.Printf("[bridge] reconnecting in %v", m.opts.ReconnectDelay)

	timer := time.NewTimer(m.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		m.setState(Closed)
		return false
	case <-timer.C:
		return true
	}
}

// serve runs one connection. It reports whether the connection ended
// cleanly, i.e. by a close frame from the peer or by shutdown.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) bool {
	defer conn.Close()

	connID := uuid.NewString()
	m.mu.Lock()
	m.connID = connID
	m.mu.Unlock()

	rec := m.opts.Recorder
	if err := rec.Start(connID); err != nil {
		log.Printf("[bridge] recorder start failed: %v", err)
	}
	defer rec.Close()

	m.setState(Open)
	log.Printf("[bridge] connection %s ready on %s", connID, m.opts.Endpoint)

	frames := make(chan []byte, m.opts.QueueSize)
	readDone := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)

	var readErr error
	go func() {
		defer close(readDone)
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				readErr = err
				return
			}
			if typ != websocket.TextMessage {
				log.Printf("[bridge] dropping non-text frame (type %d)", typ)
				rec.Dropped(data, "non-text frame")
				continue
			}
			rec.Inbound(data)
			select {
			case frames <- data:
			case <-stop:
				return
			}
		}
	}()

	for {
		// Shutdown wins over queued frames.
		if ctx.Err() != nil {
			m.shutdown(conn, readDone)
			return true
		}

		select {
		case <-ctx.Done():
			m.shutdown(conn, readDone)
			return true

		case <-readDone:
			if n := len(frames); n > 0 {
				log.Printf("[bridge] discarding %d queued frames from closed connection", n)
			}
			return m.classify(readErr)

		case frame := <-frames:
			select {
			case <-readDone:
				// The reply could not be delivered; leave the frame unhandled.
				rec.Dropped(frame, "connection closed")
				continue
			default:
			}
			m.handle(ctx, conn, frame)
		}
	}
}

func (m *Manager) handle(ctx context.Context, conn *websocket.Conn, frame []byte) {
	env, ok := m.handler.Handle(ctx, frame)
	if !ok {
		m.opts.Recorder.Dropped(frame, "malformed frame")
		return
	}

	m.opts.Recorder.Outbound(env)
	if err := conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
		log.Printf("[bridge] set write deadline: %v", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		// The reader sees the broken connection and drives the reconnect.
		log.Printf("[bridge] write reply for %q failed: %v", env.Action, err)
	}
}

// shutdown sends a normal close frame and waits briefly for the peer's echo.
func (m *Manager) shutdown(conn *websocket.Conn, readDone <-chan struct{}) {
	m.setState(Closing)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bridge shutting down")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.opts.WriteTimeout)); err != nil {
		log.Printf("[bridge] send close frame: %v", err)
		return
	}

	timer := time.NewTimer(m.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case <-readDone:
	case <-timer.C:
		log.Printf("[bridge] peer did not acknowledge close")
	}
}

// classify reports whether a read error is a clean, peer-initiated close.
// A missing close frame surfaces as CloseAbnormalClosure and is unclean.
func (m *Manager) classify(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure && ce.Code != websocket.CloseTLSHandshake {
		log.Printf("[bridge] peer closed connection (%d %s)", ce.Code, ce.Text)
		return true
	}
	log.Printf("[bridge] connection lost: %v", err)
	return false
}
