// Package recorder is a flight recorder for the control channel: every
// inbound frame, outbound envelope and state change of one connection goes
// to its own JSONL trace file.
package recorder

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// MaxTraces is how many trace files are kept on disk, the current one included.
	MaxTraces  = 5
	DefaultDir = "data/traces"
)

// Kind labels a trace event.
type Kind string

const (
	KindInbound  Kind = "in"
	KindOutbound Kind = "out"
	KindDropped  Kind = "drop"
	KindState    Kind = "state"
)

// Event is one line of a trace.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	Kind      Kind            `json:"kind"`
	ConnID    string          `json:"conn_id"`
	Frame     json.RawMessage `json:"frame,omitempty"`
	Text      string          `json:"text,omitempty"`
}

// Recorder writes traces. A nil *Recorder is valid and records nothing, so
// callers need no enabled checks.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	keep    int
	file    *os.File
	encoder *json.Encoder
	connID  string
	failed  bool
}

// New creates the trace directory and returns a recorder writing into it.
func New(dir string) (*Recorder, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{dir: dir, keep: MaxTraces}, nil
}

// Start closes the current trace and opens a new one for connID, pruning
// old traces first.
func (r *Recorder) Start(connID string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	if err := r.prune(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("trace_%s_%d.jsonl", connID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.dir, name))
	if err != nil {
		return err
	}
	r.file = f
	r.encoder = json.NewEncoder(f)
	r.connID = connID
	r.failed = false
	return nil
}

// Inbound records a frame read from the controller. Frames that are not
// JSON are kept as text.
func (r *Recorder) Inbound(frame []byte) {
	r.record(KindInbound, frame, "")
}

// Outbound records an envelope sent to the controller.
func (r *Recorder) Outbound(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		r.record(KindOutbound, nil, fmt.Sprintf("unencodable: %v", err))
		return
	}
	r.record(KindOutbound, raw, "")
}

// Dropped records a frame that got no reply.
func (r *Recorder) Dropped(frame []byte, reason string) {
	r.record(KindDropped, frame, reason)
}

// State records a connection state transition.
func (r *Recorder) State(from, to string) {
	r.record(KindState, nil, from+" -> "+to)
}

func (r *Recorder) record(kind Kind, frame []byte, text string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return
	}

	evt := Event{Timestamp: time.Now(), Kind: kind, ConnID: r.connID, Text: text}
	if len(frame) > 0 {
		if json.Valid(frame) {
			evt.Frame = json.RawMessage(frame)
		} else if evt.Text != "" {
			evt.Text += ": " + string(frame)
		} else {
			evt.Text = string(frame)
		}
	}

	if err := r.encoder.Encode(evt); err != nil && !r.failed {
		// Log once per trace; a full disk must not flood the log.
		r.failed = true
		log.Printf("[recorder] write failed: %v", err)
	}
}

// prune keeps the newest keep-1 traces, leaving room for the next one.
func (r *Recorder) prune() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].mod.After(traces[j].mod)
	})

	keep := r.keep - 1
	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.dir, traces[i].name))
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.encoder = nil
	return err
}
