package inject

import (
	"context"
	"fmt"
	"log"

	"tabbridge/internal/keymap"
)

// KeyEventType is the CDP Input.dispatchKeyEvent type.
type KeyEventType string

const (
	KeyRawDown KeyEventType = "rawKeyDown"
	KeyUp      KeyEventType = "keyUp"
)

// KeyEvent is one raw key event sent through the debugging channel.
type KeyEvent struct {
	Type      KeyEventType
	Modifiers int
	Code      int
	Key       string
}

// DebuggerSession is an attached privileged debugging channel.
type DebuggerSession interface {
	DispatchKey(ctx context.Context, ev KeyEvent) error
	Detach(ctx context.Context) error
}

// Debuggable can open a debugging channel to the active tab.
type Debuggable interface {
	AttachDebugger(ctx context.Context) (DebuggerSession, error)
}

// Key parses chord and presses it: raw key-down then key-up, both carrying
// the combined modifier mask. Parsing happens before any attach.
func (inj *Injector) Key(ctx context.Context, tab Debuggable, chord string) (Result, error) {
	parsed, err := keymap.Parse(chord)
	if err != nil {
		return Result{}, err
	}

	err = inj.withDebugger(ctx, tab, func(sess DebuggerSession) error {
		for _, typ := range []KeyEventType{KeyRawDown, KeyUp} {
			ev := KeyEvent{
				Type:      typ,
				Modifiers: int(parsed.Modifiers),
				Code:      parsed.Key.Code,
				Key:       parsed.Key.ID,
			}
			if err := sess.DispatchKey(ctx, ev); err != nil {
				return fmt.Errorf("dispatch %s: %w", typ, err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	log.Printf("[inject] pressed %s", parsed)
	return Result{Success: true, Key: chord}, nil
}

// withDebugger attaches, runs fn and detaches on every exit path, panics
// included. A failed detach is logged and never replaces fn's outcome.
func (inj *Injector) withDebugger(ctx context.Context, tab Debuggable, fn func(DebuggerSession) error) error {
	sess, err := tab.AttachDebugger(ctx)
	if err != nil {
		return fmt.Errorf("attach debugger: %w", err)
	}
	log.Printf("[inject] debugger attached")

	defer func() {
		// The action context may already be cancelled; the tab must still be released.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inj.detachTimeout)
		defer cancel()
		if err := sess.Detach(dctx); err != nil {
			log.Printf("[inject] error detaching debugger: %v", err)
			return
		}
		log.Printf("[inject] debugger detached")
	}()

	return fn(sess)
}
