package browser

import (
	"context"
	"fmt"
	"log"

	"tabbridge/internal/inject"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// debugSession is a flattened CDP session created by Target.attachToTarget.
type debugSession struct {
	browser *rod.Browser
	id      proto.TargetSessionID
}

// sessionClient routes proto calls through the browser connection with a
// fixed session ID.
type sessionClient struct {
	ctx     context.Context
	browser *rod.Browser
	id      proto.TargetSessionID
}

func (c sessionClient) Call(ctx context.Context, sessionID, method string, params interface{}) ([]byte, error) {
	return c.browser.Call(ctx, sessionID, method, params)
}

func (c sessionClient) GetSessionID() proto.TargetSessionID { return c.id }

func (c sessionClient) GetContext() context.Context { return c.ctx }

func (s *debugSession) client(ctx context.Context) sessionClient {
	return sessionClient{ctx: ctx, browser: s.browser, id: s.id}
}

func (s *debugSession) DispatchKey(ctx context.Context, ev inject.KeyEvent) error {
	params, err := keyEventParams(ev)
	if err != nil {
		return err
	}
	return params.Call(s.client(ctx))
}

func (s *debugSession) Detach(ctx context.Context) error {
	err := proto.TargetDetachFromTarget{SessionID: s.id}.Call(s.browser.Context(ctx))
	if err == nil {
		log.Printf("[browser] detached session %s", s.id)
	}
	return err
}

// keyEventParams builds the Input.dispatchKeyEvent request for ev.
func keyEventParams(ev inject.KeyEvent) (proto.InputDispatchKeyEvent, error) {
	var typ proto.InputDispatchKeyEventType
	switch ev.Type {
	case inject.KeyRawDown:
		typ = proto.InputDispatchKeyEventTypeRawKeyDown
	case inject.KeyUp:
		typ = proto.InputDispatchKeyEventTypeKeyUp
	default:
		return proto.InputDispatchKeyEvent{}, fmt.Errorf("unsupported key event type %q", ev.Type)
	}
	return proto.InputDispatchKeyEvent{
		Type:                  typ,
		Modifiers:             ev.Modifiers,
		WindowsVirtualKeyCode: ev.Code,
		Key:                   ev.Key,
	}, nil
}
