// Package inject performs the side effects of control actions against the
// active document: synthetic pointer clicks, text insertion that honours the
// caret, and OS-faithful key events sent over a privileged debugging channel.
//
// The package only depends on the small host interfaces below; the go-rod
// implementation lives in internal/browser.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tabbridge/internal/target"
)

// Failure reasons reported inside a Result rather than as errors.
const (
	ReasonNoElement      = "No element at coordinates"
	ReasonNotEditable    = "Target element is not editable"
	ReasonNoFocusedInput = "No editable element focused"
)

var (
	// ErrWaitTooLong rejects wait durations above the configured cap.
	ErrWaitTooLong = errors.New("wait duration exceeds maximum")
)

// EditableKind classifies how an element stores its text.
type EditableKind string

const (
	NotEditable     EditableKind = ""
	TextInput       EditableKind = "input"
	TextArea        EditableKind = "textarea"
	ContentEditable EditableKind = "contenteditable"
)

// ElementInfo is what the bridge reports about a hit element.
type ElementInfo struct {
	Tag      string
	ID       string
	Editable EditableKind
}

// TextState is an editable element's value and selection. Offsets are UTF-16
// code units, as reported by the DOM; nil means the element has no selection.
type TextState struct {
	Value          string
	SelectionStart *int
	SelectionEnd   *int
}

// Element is a handle to a live DOM element.
type Element interface {
	Info(ctx context.Context) (ElementInfo, error)
	ScrollIntoView(ctx context.Context) error
	// DispatchClick fires a bubbling, cancelable click at p on the element.
	DispatchClick(ctx context.Context, p target.Point) error
	Focus(ctx context.Context) error
	ReadText(ctx context.Context) (TextState, error)
	// WriteText stores value through the accessor matching the element kind,
	// places the caret at cursor and dispatches an input event.
	WriteText(ctx context.Context, value string, cursor int) error
}

// Document is the active tab as seen by the injector.
type Document interface {
	target.ViewportSource
	// ElementAt hit-tests p. It returns (nil, nil) when nothing is there.
	ElementAt(ctx context.Context, p target.Point) (Element, error)
	// FocusedElement returns (nil, nil) when nothing holds focus.
	FocusedElement(ctx context.Context) (Element, error)
}

// Result is carried in the data field of a success envelope.
type Result struct {
	Success      bool   `json:"success"`
	Tag          string `json:"tag,omitempty"`
	ElementID    string `json:"id,omitempty"`
	TextInserted string `json:"textInserted,omitempty"`
	Key          string `json:"key,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WaitResult reports a completed wait. Waited is always present, 0 included.
type WaitResult struct {
	Success  bool  `json:"success"`
	WaitedMs int64 `json:"waited"`
}

func failed(reason string) Result {
	return Result{Success: false, Error: reason}
}

// Injector executes actions. It holds no per-action state.
type Injector struct {
	resolver      target.Resolver
	maxWait       time.Duration
	detachTimeout time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

// New returns an injector that rejects waits above maxWait (0 disables the cap).
func New(maxWait time.Duration) *Injector {
	return &Injector{
		maxWait:       maxWait,
		detachTimeout: 5 * time.Second,
		sleep:         sleepWithContext,
	}
}

// Click resolves spec, scrolls the hit element into view, clicks it and
// moves focus to it.
func (inj *Injector) Click(ctx context.Context, doc Document, spec target.Spec) (Result, error) {
	p, el, err := inj.hit(ctx, doc, spec)
	if err != nil {
		return Result{}, err
	}
	if el == nil {
		log.Printf("[inject] click at (%.1f, %.1f): %s", p.X, p.Y, ReasonNoElement)
		return failed(ReasonNoElement), nil
	}

	info, err := el.Info(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("describe element: %w", err)
	}
	if err := el.ScrollIntoView(ctx); err != nil {
		return Result{}, fmt.Errorf("scroll into view: %w", err)
	}
	if err := el.DispatchClick(ctx, p); err != nil {
		return Result{}, fmt.Errorf("dispatch click: %w", err)
	}
	if err := el.Focus(ctx); err != nil {
		return Result{}, fmt.Errorf("focus element: %w", err)
	}

	log.Printf("[inject] clicked <%s id=%q> at (%.1f, %.1f)", info.Tag, info.ID, p.X, p.Y)
	return Result{Success: true, Tag: info.Tag, ElementID: info.ID}, nil
}

func (inj *Injector) hit(ctx context.Context, doc Document, spec target.Spec) (target.Point, Element, error) {
	p, err := inj.resolver.Resolve(ctx, doc, spec)
	if err != nil {
		return target.Point{}, nil, err
	}
	el, err := doc.ElementAt(ctx, p)
	if err != nil {
		return p, nil, fmt.Errorf("hit test: %w", err)
	}
	return p, el, nil
}

// Wait suspends for d. Shutdown cancels it through ctx; controllers cannot.
func (inj *Injector) Wait(ctx context.Context, d time.Duration) (WaitResult, error) {
	if inj.maxWait > 0 && d > inj.maxWait {
		return WaitResult{}, fmt.Errorf("%w: %v > %v", ErrWaitTooLong, d, inj.maxWait)
	}
	if err := inj.sleep(ctx, d); err != nil {
		return WaitResult{}, err
	}
	return WaitResult{Success: true, WaitedMs: d.Milliseconds()}, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
