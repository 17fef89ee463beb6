// Package protocol defines the JSON messages exchanged with the controller
// over the control channel.
//
// Inbound frames are JSON objects of the form {"action": "<kind>", ...fields}.
// Every handled frame yields exactly one outbound envelope:
//
//	{"action": "<kind>", "data": <result>}      on success
//	{"action": "<kind>", "error": "<message>"}  on failure
//	{"screenshot": null, "error": "No active tab found."}  when no tab is active
//
// There are no request IDs. The bridge handles frames one at a time, so
// responses arrive in request order.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"tabbridge/internal/target"
)

// ActionKind is the closed set of actions the bridge understands.
type ActionKind int

const (
	UnknownAction ActionKind = iota
	GetDimensions
	CaptureView
	PointerClick
	TypeAtTarget
	TypeAtFocus
	KeyChord
	Wait
)

var kindNames = map[ActionKind]string{
	UnknownAction: "UnknownAction",
	GetDimensions: "GetDimensions",
	CaptureView:   "CaptureView",
	PointerClick:  "PointerClick",
	TypeAtTarget:  "TypeAtTarget",
	TypeAtFocus:   "TypeAtFocus",
	KeyChord:      "KeyChord",
	Wait:          "Wait",
}

func (k ActionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// NeedsTab reports whether the action operates on the active tab.
func (k ActionKind) NeedsTab() bool {
	return k != Wait && k != UnknownAction
}

// Wire action names.
const (
	ActionDimensions = "dimensions"
	ActionScreenshot = "screenshot"
	ActionClick      = "click"
	ActionLeftClick  = "left_click"
	ActionClickType  = "click_type"
	ActionType       = "type"
	ActionKey        = "key"
	ActionWait       = "wait"
)

var wireActions = map[string]ActionKind{
	ActionDimensions: GetDimensions,
	ActionScreenshot: CaptureView,
	ActionClick:      PointerClick,
	ActionLeftClick:  PointerClick,
	ActionClickType:  TypeAtTarget,
	ActionType:       TypeAtFocus,
	ActionKey:        KeyChord,
	ActionWait:       Wait,
}

// KindOf maps a wire action name to its kind.
func KindOf(action string) ActionKind {
	return wireActions[action]
}

// Actions lists the accepted wire action names in sorted order.
func Actions() []string {
	names := make([]string, 0, len(wireActions))
	for name := range wireActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	// ErrMalformedFrame marks a frame that cannot be answered: not a JSON
	// object, or without a string action.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownAction marks a well-formed frame naming an action outside the closed set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidField marks a missing or ill-typed action field.
	ErrInvalidField = errors.New("invalid field")
)

// ControlMessage is a decoded, validated inbound frame.
type ControlMessage struct {
	// Action is the wire name exactly as sent; envelopes echo it.
	Action string
	Kind   ActionKind

	// Target is set for PointerClick and TypeAtTarget.
	Target *target.Spec
	// Text carries the text to type, or the chord for KeyChord.
	Text string
	// Duration is set for Wait.
	Duration time.Duration
}

// Decode parses and validates a text frame.
//
// On ErrMalformedFrame the returned message is zero and no reply is possible.
// On ErrUnknownAction or ErrInvalidField the returned message carries the
// wire action so the caller can answer with an error envelope.
func Decode(frame []byte) (ControlMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil || fields == nil {
		return ControlMessage{}, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}

	var action string
	raw, ok := fields["action"]
	if !ok || isNull(raw) {
		return ControlMessage{}, fmt.Errorf("%w: missing action", ErrMalformedFrame)
	}
	if err := json.Unmarshal(raw, &action); err != nil {
		return ControlMessage{}, fmt.Errorf("%w: action is not a string", ErrMalformedFrame)
	}

	msg := ControlMessage{Action: action, Kind: KindOf(action)}

	var err error
	switch msg.Kind {
	case GetDimensions, CaptureView:
	case PointerClick:
		msg.Target, err = decodeTarget(fields)
	case TypeAtTarget:
		if msg.Target, err = decodeTarget(fields); err == nil {
			msg.Text, err = requireString(fields, "text", "missing text to type")
		}
	case TypeAtFocus:
		msg.Text, err = requireString(fields, "text", "missing text to type")
	case KeyChord:
		msg.Text, err = decodeChord(fields)
	case Wait:
		msg.Duration, err = decodeDuration(fields)
	default:
		return msg, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return msg, err
}

func decodeTarget(fields map[string]json.RawMessage) (*target.Spec, error) {
	if raw, ok := fields["coordinate"]; ok && !isNull(raw) {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("%w: coordinate must be a [x, y] pair", ErrInvalidField)
		}
		x, okX := number(pair[0])
		y, okY := number(pair[1])
		if !okX || !okY {
			return nil, fmt.Errorf("%w: coordinate must contain numbers", ErrInvalidField)
		}
		return &target.Spec{Mode: target.Absolute, X: x, Y: y}, nil
	}

	x, okX := number(fields["x"])
	y, okY := number(fields["y"])
	if !okX || !okY {
		return nil, fmt.Errorf("%w: invalid or missing x/y ratio", ErrInvalidField)
	}
	return &target.Spec{Mode: target.Ratio, X: x, Y: y}, nil
}

// decodeChord accepts the chord in "text" and falls back to the older "key" field.
func decodeChord(fields map[string]json.RawMessage) (string, error) {
	for _, name := range []string{"text", "key"} {
		raw, ok := fields[name]
		if !ok || isNull(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: invalid or missing key", ErrInvalidField)
		}
		return s, nil
	}
	return "", fmt.Errorf("%w: invalid or missing key", ErrInvalidField)
}

// maxDurationMs is the largest millisecond count a time.Duration can hold.
const maxDurationMs = float64(math.MaxInt64 / int64(time.Millisecond))

func decodeDuration(fields map[string]json.RawMessage) (time.Duration, error) {
	ms, ok := number(fields["duration"])
	if !ok {
		return 0, fmt.Errorf("%w: invalid or missing duration", ErrInvalidField)
	}
	if ms < 0 {
		return 0, fmt.Errorf("%w: duration must not be negative", ErrInvalidField)
	}
	if ms > maxDurationMs {
		return 0, fmt.Errorf("%w: duration out of range", ErrInvalidField)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

func requireString(fields map[string]json.RawMessage, name, msg string) (string, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return "", fmt.Errorf("%w: %s", ErrInvalidField, msg)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidField, msg)
	}
	return s, nil
}

func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
