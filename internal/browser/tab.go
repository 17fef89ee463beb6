package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tabbridge/internal/capture"
	"tabbridge/internal/inject"
	"tabbridge/internal/target"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Tab is the go-rod implementation of the active tab. It is created per
// action and discarded afterwards.
type Tab struct {
	browser       *rod.Browser
	page          *rod.Page
	attachTimeout time.Duration
}

// TargetID returns the CDP target of the tab.
func (t *Tab) TargetID() string {
	return string(t.page.TargetID)
}

func (t *Tab) Viewport(ctx context.Context) (target.Viewport, error) {
	var vp target.Viewport
	err := evalInto(t.page.Context(ctx), jsViewport, &vp)
	return vp, err
}

func (t *Tab) ElementAt(ctx context.Context, p target.Point) (inject.Element, error) {
	page := t.page.Context(ctx)
	obj, err := page.Evaluate(rod.Eval(jsElementAt, p.X, p.Y).ByObject())
	if err != nil {
		return nil, fmt.Errorf("elementFromPoint: %w", err)
	}
	return t.wrap(page, obj)
}

func (t *Tab) FocusedElement(ctx context.Context) (inject.Element, error) {
	page := t.page.Context(ctx)
	obj, err := page.Evaluate(rod.Eval(jsActiveElement).ByObject())
	if err != nil {
		return nil, fmt.Errorf("activeElement: %w", err)
	}
	return t.wrap(page, obj)
}

// wrap turns a remote object into an element handle; a null object means
// there was nothing there.
func (t *Tab) wrap(page *rod.Page, obj *proto.RuntimeRemoteObject) (inject.Element, error) {
	if obj == nil || obj.ObjectID == "" {
		return nil, nil
	}
	el, err := page.ElementFromObject(obj)
	if err != nil {
		return nil, fmt.Errorf("resolve element: %w", err)
	}
	return &element{el: el}, nil
}

func (t *Tab) Metrics(ctx context.Context) (capture.RawDimensions, error) {
	var raw capture.RawDimensions
	err := evalInto(t.page.Context(ctx), jsMetrics, &raw)
	return raw, err
}

func (t *Tab) CaptureVisible(ctx context.Context, format capture.Format) ([]byte, error) {
	var f proto.PageCaptureScreenshotFormat
	switch format {
	case capture.PNG:
		f = proto.PageCaptureScreenshotFormatPng
	default:
		return nil, fmt.Errorf("unsupported capture format %q", format)
	}
	return t.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{Format: f})
}

// AttachDebugger opens a dedicated flattened CDP session on the tab. Key
// events sent through it are indistinguishable from hardware input.
func (t *Tab) AttachDebugger(ctx context.Context) (inject.DebuggerSession, error) {
	actx, cancel := context.WithTimeout(ctx, t.attachTimeout)
	defer cancel()

	res, err := proto.TargetAttachToTarget{
		TargetID: t.page.TargetID,
		Flatten:  true,
	}.Call(t.browser.Context(actx))
	if err != nil {
		return nil, err
	}
	log.Printf("[browser] attached session %s to %s", res.SessionID, t.page.TargetID)
	return &debugSession{browser: t.browser, id: res.SessionID}, nil
}

// evaluator is satisfied by *rod.Page and *rod.Element.
type evaluator interface {
	Eval(js string, args ...interface{}) (*proto.RuntimeRemoteObject, error)
}

// evalInto runs js and decodes its by-value result into out.
func evalInto(ev evaluator, js string, out any, args ...interface{}) error {
	res, err := ev.Eval(js, args...)
	if err != nil {
		return err
	}
	return decodeValue(res, out)
}

func decodeValue(res *proto.RuntimeRemoteObject, out any) error {
	if res == nil {
		return fmt.Errorf("empty evaluation result")
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
