// Package router turns decoded control messages into handler calls and
// handler outcomes into reply envelopes.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"tabbridge/internal/capture"
	"tabbridge/internal/inject"
	"tabbridge/internal/keymap"
	"tabbridge/internal/protocol"
)

// ErrNoActiveTab is returned by a Host when no tab is focused or visible.
var ErrNoActiveTab = errors.New("no active tab")

// Tab is everything the handlers need from the active tab.
type Tab interface {
	// TargetID identifies the tab in logs.
	TargetID() string
	inject.Document
	inject.Debuggable
	capture.Source
}

// Host looks up the active tab. It is consulted once per message.
type Host interface {
	ActiveTab(ctx context.Context) (Tab, error)
}

// Router dispatches one message at a time. It is safe for concurrent use but
// the bridge never calls it concurrently.
type Router struct {
	host          Host
	inj           *inject.Injector
	actionTimeout time.Duration
}

// New creates a router. actionTimeout bounds each tab action; 0 disables it.
func New(host Host, inj *inject.Injector, actionTimeout time.Duration) *Router {
	return &Router{host: host, inj: inj, actionTimeout: actionTimeout}
}

// Handle decodes frame and runs it. The boolean is false when the frame is
// unanswerable and must be dropped.
func (r *Router) Handle(ctx context.Context, frame []byte) (protocol.Envelope, bool) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformedFrame) {
			log.Printf("[router] dropping frame: %v", err)
			return protocol.Envelope{}, false
		}
		log.Printf("[router] rejecting %q: %v", msg.Action, err)
		return protocol.Failure(msg.Action, err), true
	}
	return r.Dispatch(ctx, msg), true
}

// Dispatch runs a decoded message and always produces an envelope. Panics in
// handlers are contained here.
func (r *Router) Dispatch(ctx context.Context, msg protocol.ControlMessage) (env protocol.Envelope) {
	start := time.Now()
	var tab Tab
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[router] panic handling %s: %v\n%s", msg.Action, rec, debug.Stack())
			env = protocol.Failure(msg.Action, fmt.Errorf("internal error: %v", rec))
		}
		outcome := "ok"
		switch {
		case env.IsNoActiveTab():
			outcome = "no active tab"
		case env.IsError():
			outcome = "error: " + env.Error
		}
		on := ""
		if tab != nil {
			on = " on " + tab.TargetID()
		}
		log.Printf("[router] %s (%s)%s %s in %v", msg.Action, msg.Kind, on, outcome, time.Since(start).Round(time.Millisecond))
	}()

	if err := validate(msg); err != nil {
		return protocol.Failure(msg.Action, err)
	}

	if msg.Kind.NeedsTab() {
		var err error
		tab, err = r.host.ActiveTab(ctx)
		if errors.Is(err, ErrNoActiveTab) {
			return protocol.NoActiveTab()
		}
		if err != nil {
			return protocol.Failure(msg.Action, fmt.Errorf("find active tab: %w", err))
		}

		if r.actionTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.actionTimeout)
			defer cancel()
		}
	}

	switch msg.Kind {
	case protocol.Wait:
		res, err := r.inj.Wait(ctx, msg.Duration)
		return reply(msg.Action, res, err)
	case protocol.GetDimensions:
		dims, err := capture.GetDimensions(ctx, tab)
		return reply(msg.Action, dims, err)
	case protocol.CaptureView:
		url, err := capture.Screenshot(ctx, tab)
		return reply(msg.Action, url, err)
	case protocol.PointerClick:
		res, err := r.inj.Click(ctx, tab, *msg.Target)
		return reply(msg.Action, res, err)
	case protocol.TypeAtTarget:
		res, err := r.inj.TypeAt(ctx, tab, *msg.Target, msg.Text)
		return reply(msg.Action, res, err)
	case protocol.TypeAtFocus:
		res, err := r.inj.TypeFocused(ctx, tab, msg.Text)
		return reply(msg.Action, res, err)
	case protocol.KeyChord:
		res, err := r.inj.Key(ctx, tab, msg.Text)
		return reply(msg.Action, res, err)
	default:
		return protocol.Failure(msg.Action, fmt.Errorf("%w: %s", protocol.ErrUnknownAction, msg.Action))
	}
}

// validate rejects requests that would fail before any host call.
func validate(msg protocol.ControlMessage) error {
	switch msg.Kind {
	case protocol.UnknownAction:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownAction, msg.Action)
	case protocol.PointerClick, protocol.TypeAtTarget:
		if msg.Target == nil {
			return fmt.Errorf("%w: missing coordinates", protocol.ErrInvalidField)
		}
	case protocol.KeyChord:
		if _, err := keymap.Parse(msg.Text); err != nil {
			return err
		}
	}
	return nil
}

func reply(action string, data any, err error) protocol.Envelope {
	if err != nil {
		return protocol.Failure(action, err)
	}
	return protocol.Success(action, data)
}
