package inject

import (
	"context"
	"fmt"
	"log"
	"unicode/utf16"

	"tabbridge/internal/target"
)

// Splice inserts text into value over the selection [start, end) and returns
// the new value and the caret position just after the inserted text.
//
// Offsets are UTF-16 code units. A nil start means "no selection" and inserts
// at the end of the existing content; a nil end collapses onto start.
// Out-of-range offsets are clamped.
func Splice(value, text string, start, end *int) (string, int) {
	units := utf16.Encode([]rune(value))
	n := len(units)

	s := n
	if start != nil {
		s = clamp(*start, 0, n)
	}
	e := s
	if end != nil {
		e = clamp(*end, s, n)
	}

	ins := utf16.Encode([]rune(text))
	out := make([]uint16, 0, n-(e-s)+len(ins))
	out = append(out, units[:s]...)
	out = append(out, ins...)
	out = append(out, units[e:]...)

	return string(utf16.Decode(out)), s + len(ins)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TypeAt resolves spec and inserts text into the hit element at its caret.
func (inj *Injector) TypeAt(ctx context.Context, doc Document, spec target.Spec, text string) (Result, error) {
	p, el, err := inj.hit(ctx, doc, spec)
	if err != nil {
		return Result{}, err
	}
	if el == nil {
		log.Printf("[inject] type at (%.1f, %.1f): %s", p.X, p.Y, ReasonNoElement)
		return failed(ReasonNoElement), nil
	}

	info, err := el.Info(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("describe element: %w", err)
	}
	if info.Editable == NotEditable {
		log.Printf("[inject] type at <%s id=%q>: %s", info.Tag, info.ID, ReasonNotEditable)
		res := failed(ReasonNotEditable)
		res.Tag, res.ElementID = info.Tag, info.ID
		return res, nil
	}

	if err := el.ScrollIntoView(ctx); err != nil {
		return Result{}, fmt.Errorf("scroll into view: %w", err)
	}
	if err := el.Focus(ctx); err != nil {
		return Result{}, fmt.Errorf("focus element: %w", err)
	}
	if err := insert(ctx, el, text); err != nil {
		return Result{}, err
	}

	log.Printf("[inject] typed %d chars into <%s id=%q>", len(text), info.Tag, info.ID)
	return Result{Success: true, Tag: info.Tag, ElementID: info.ID, TextInserted: text}, nil
}

// TypeFocused inserts text into whatever editable element holds focus. A
// missing or non-editable focus is logged and reported without mutation.
func (inj *Injector) TypeFocused(ctx context.Context, doc Document, text string) (Result, error) {
	el, err := doc.FocusedElement(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("focused element: %w", err)
	}
	if el == nil {
		log.Printf("[inject] warning: no editable element focused to type into")
		return failed(ReasonNoFocusedInput), nil
	}

	info, err := el.Info(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("describe element: %w", err)
	}
	if info.Editable == NotEditable {
		log.Printf("[inject] warning: focused <%s> is not editable", info.Tag)
		return failed(ReasonNoFocusedInput), nil
	}

	if err := insert(ctx, el, text); err != nil {
		return Result{}, err
	}

	log.Printf("[inject] typed %d chars into focused <%s id=%q>", len(text), info.Tag, info.ID)
	return Result{Success: true, Tag: info.Tag, ElementID: info.ID, TextInserted: text}, nil
}

// insert is the only place element text is mutated.
func insert(ctx context.Context, el Element, text string) error {
	state, err := el.ReadText(ctx)
	if err != nil {
		return fmt.Errorf("read text: %w", err)
	}
	value, cursor := Splice(state.Value, text, state.SelectionStart, state.SelectionEnd)
	if err := el.WriteText(ctx, value, cursor); err != nil {
		return fmt.Errorf("write text: %w", err)
	}
	return nil
}
