package inject

import (
	"context"
	"errors"

	"tabbridge/internal/target"
)

type fakeElement struct {
	info  ElementInfo
	state TextState

	calls    []string
	clickAt  target.Point
	written  string
	cursor   int
	writeErr error
	clickErr error
}

func (e *fakeElement) Info(context.Context) (ElementInfo, error) {
	e.calls = append(e.calls, "info")
	return e.info, nil
}

func (e *fakeElement) ScrollIntoView(context.Context) error {
	e.calls = append(e.calls, "scroll")
	return nil
}

func (e *fakeElement) DispatchClick(_ context.Context, p target.Point) error {
	e.calls = append(e.calls, "click")
	e.clickAt = p
	return e.clickErr
}

func (e *fakeElement) Focus(context.Context) error {
	e.calls = append(e.calls, "focus")
	return nil
}

func (e *fakeElement) ReadText(context.Context) (TextState, error) {
	e.calls = append(e.calls, "read")
	return e.state, nil
}

func (e *fakeElement) WriteText(_ context.Context, value string, cursor int) error {
	e.calls = append(e.calls, "write")
	if e.writeErr != nil {
		return e.writeErr
	}
	e.written, e.cursor = value, cursor
	e.state.Value = value
	e.state.SelectionStart = &cursor
	e.state.SelectionEnd = &cursor
	return nil
}

type fakeDoc struct {
	vp      target.Viewport
	el      *fakeElement
	focused *fakeElement
	hitErr  error

	hitAt []target.Point
}

func (d *fakeDoc) Viewport(context.Context) (target.Viewport, error) {
	return d.vp, nil
}

func (d *fakeDoc) ElementAt(_ context.Context, p target.Point) (Element, error) {
	d.hitAt = append(d.hitAt, p)
	if d.hitErr != nil {
		return nil, d.hitErr
	}
	inside := p.X >= 0 && p.Y >= 0 && p.X <= d.vp.Width && p.Y <= d.vp.Height
	if d.el == nil || !inside {
		return nil, nil
	}
	return d.el, nil
}

func (d *fakeDoc) FocusedElement(context.Context) (Element, error) {
	if d.focused == nil {
		return nil, nil
	}
	return d.focused, nil
}

type fakeDebugger struct {
	attachErr   error
	dispatchErr error
	detachErr   error
	panicOnKey  bool

	attaches int
	detaches int
	events   []KeyEvent
	// detachCtxErr records whether the detach context was already done.
	detachCtxErr error
}

func (f *fakeDebugger) AttachDebugger(context.Context) (DebuggerSession, error) {
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	f.attaches++
	return &fakeSession{f: f}, nil
}

type fakeSession struct {
	f *fakeDebugger
}

func (s *fakeSession) DispatchKey(_ context.Context, ev KeyEvent) error {
	if s.f.panicOnKey {
		panic("renderer crashed")
	}
	if s.f.dispatchErr != nil {
		return s.f.dispatchErr
	}
	s.f.events = append(s.f.events, ev)
	return nil
}

func (s *fakeSession) Detach(ctx context.Context) error {
	s.f.detaches++
	s.f.detachCtxErr = ctx.Err()
	return s.f.detachErr
}

var errHost = errors.New("host failure")

func intPtr(v int) *int { return &v }
