// Package target converts the spatial fields of a control message into CSS
// pixel coordinates in the active document's viewport.
package target

import (
	"context"
	"fmt"
)

// Mode selects how a Spec's coordinates are interpreted.
type Mode int

const (
	// Ratio coordinates are fractions of the viewport (normally 0..1).
	Ratio Mode = iota
	// Absolute coordinates are CSS pixels.
	Absolute
)

func (m Mode) String() string {
	switch m {
	case Ratio:
		return "ratio"
	case Absolute:
		return "absolute"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Spec is a logical target taken from a request. It is never cached: the
// viewport may change between actions.
type Spec struct {
	Mode Mode
	X    float64
	Y    float64
}

// Point is a CSS pixel position relative to the viewport's top-left corner.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the layout viewport size in CSS pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ViewportSource reports the current viewport size of the active document.
type ViewportSource interface {
	Viewport(ctx context.Context) (Viewport, error)
}

// Resolve maps spec onto vp. Ratios are scaled but not clamped; an
// out-of-range ratio resolves off-screen and hit-testing reports no element.
func Resolve(spec Spec, vp Viewport) Point {
	if spec.Mode == Absolute {
		return Point{X: spec.X, Y: spec.Y}
	}
	return Point{X: spec.X * vp.Width, Y: spec.Y * vp.Height}
}

// Resolver resolves specs against a live viewport.
type Resolver struct{}

// Resolve fetches the viewport only when the spec needs it.
func (Resolver) Resolve(ctx context.Context, src ViewportSource, spec Spec) (Point, error) {
	if spec.Mode == Absolute {
		return Resolve(spec, Viewport{}), nil
	}
	vp, err := src.Viewport(ctx)
	if err != nil {
		return Point{}, fmt.Errorf("read viewport: %w", err)
	}
	return Resolve(spec, vp), nil
}
