package browser

import (
	"context"
	"fmt"

	"tabbridge/internal/inject"
	"tabbridge/internal/target"

	"github.com/go-rod/rod"
)

// element adapts a rod element handle to inject.Element. All work happens in
// page script so the DOM sees the same events a user-initiated change fires.
type element struct {
	el *rod.Element
}

type elementInfo struct {
	Tag      string `json:"tag"`
	ID       string `json:"id"`
	Editable string `json:"editable"`
}

type textState struct {
	Value string `json:"value"`
	Start *int   `json:"start"`
	End   *int   `json:"end"`
}

func (e *element) Info(ctx context.Context) (inject.ElementInfo, error) {
	var info elementInfo
	if err := evalInto(e.el.Context(ctx), jsElementInfo, &info); err != nil {
		return inject.ElementInfo{}, err
	}
	return inject.ElementInfo{Tag: info.Tag, ID: info.ID, Editable: inject.EditableKind(info.Editable)}, nil
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.run(ctx, jsScrollIntoView)
}

func (e *element) DispatchClick(ctx context.Context, p target.Point) error {
	return e.run(ctx, jsDispatchClick, p.X, p.Y)
}

func (e *element) Focus(ctx context.Context) error {
	return e.run(ctx, jsFocus)
}

func (e *element) ReadText(ctx context.Context) (inject.TextState, error) {
	var st textState
	if err := evalInto(e.el.Context(ctx), jsReadText, &st); err != nil {
		return inject.TextState{}, err
	}
	return inject.TextState{Value: st.Value, SelectionStart: st.Start, SelectionEnd: st.End}, nil
}

func (e *element) WriteText(ctx context.Context, value string, cursor int) error {
	return e.run(ctx, jsWriteText, value, cursor)
}

func (e *element) run(ctx context.Context, js string, args ...interface{}) error {
	if _, err := e.el.Context(ctx).Eval(js, args...); err != nil {
		return fmt.Errorf("element script: %w", err)
	}
	return nil
}
