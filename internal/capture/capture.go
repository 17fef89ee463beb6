// Package capture reads geometry snapshots and visible-frame images from the
// active tab.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

// Format is the raster format of a visible-frame capture.
type Format string

const (
	PNG Format = "png"
)

// ErrEmptyCapture is returned when the host produced no image bytes.
var ErrEmptyCapture = errors.New("capture returned no image data")

// VisualViewport is the pinch-zoom viewport geometry.
type VisualViewport struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Scale      float64 `json:"scale"`
	OffsetLeft float64 `json:"offsetLeft"`
	OffsetTop  float64 `json:"offsetTop"`
}

// RawDimensions is what the page reports. VisualViewport is nil when the
// page has no visualViewport facility.
type RawDimensions struct {
	InnerWidth       float64         `json:"innerWidth"`
	InnerHeight      float64         `json:"innerHeight"`
	OuterWidth       float64         `json:"outerWidth"`
	OuterHeight      float64         `json:"outerHeight"`
	DevicePixelRatio float64         `json:"devicePixelRatio"`
	VisualViewport   *VisualViewport `json:"visualViewport"`
	ScrollX          float64         `json:"scrollX"`
	ScrollY          float64         `json:"scrollY"`
	LocationHref     string          `json:"locationHref"`
}

// Dimensions is the snapshot returned to the controller.
type Dimensions struct {
	InnerWidth       float64        `json:"innerWidth"`
	InnerHeight      float64        `json:"innerHeight"`
	OuterWidth       float64        `json:"outerWidth"`
	OuterHeight      float64        `json:"outerHeight"`
	DevicePixelRatio float64        `json:"devicePixelRatio"`
	VisualViewport   VisualViewport `json:"visualViewport"`
	ScrollX          float64        `json:"scrollX"`
	ScrollY          float64        `json:"scrollY"`
	LocationHref     string         `json:"locationHref"`
}

// Source is the host side of the capture provider.
type Source interface {
	Metrics(ctx context.Context) (RawDimensions, error)
	CaptureVisible(ctx context.Context, format Format) ([]byte, error)
}

// Normalize fills the visual viewport from the window extents when the host
// did not report one: inner size, scale 1, zero offsets.
func Normalize(raw RawDimensions) Dimensions {
	d := Dimensions{
		InnerWidth:       raw.InnerWidth,
		InnerHeight:      raw.InnerHeight,
		OuterWidth:       raw.OuterWidth,
		OuterHeight:      raw.OuterHeight,
		DevicePixelRatio: raw.DevicePixelRatio,
		ScrollX:          raw.ScrollX,
		ScrollY:          raw.ScrollY,
		LocationHref:     raw.LocationHref,
	}
	if raw.VisualViewport != nil {
		d.VisualViewport = *raw.VisualViewport
	} else {
		d.VisualViewport = VisualViewport{Width: raw.InnerWidth, Height: raw.InnerHeight, Scale: 1}
	}
	if d.DevicePixelRatio == 0 {
		d.DevicePixelRatio = 1
	}
	return d
}

// GetDimensions returns the active tab's geometry snapshot.
func GetDimensions(ctx context.Context, src Source) (Dimensions, error) {
	raw, err := src.Metrics(ctx)
	if err != nil {
		return Dimensions{}, fmt.Errorf("read dimensions: %w", err)
	}
	return Normalize(raw), nil
}

// Screenshot captures the visible viewport as PNG and returns it as a data
// URL. No cropping or scaling is applied.
func Screenshot(ctx context.Context, src Source) (string, error) {
	img, err := src.CaptureVisible(ctx, PNG)
	if err != nil {
		return "", fmt.Errorf("capture visible tab: %w", err)
	}
	if len(img) == 0 {
		return "", ErrEmptyCapture
	}
	return DataURL(PNG, img), nil
}

// DataURL encodes img as a base64 data URL.
func DataURL(format Format, img []byte) string {
	return "data:image/" + string(format) + ";base64," + base64.StdEncoding.EncodeToString(img)
}
