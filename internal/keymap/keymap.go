// Package keymap holds the canonical key table used to validate and dispatch
// key chords such as "ctrl+shift+a".
package keymap

import (
	"errors"
	"fmt"
	"strings"
)

// Modifier is a CDP Input.dispatchKeyEvent modifier bit.
type Modifier int

const (
	ModAlt   Modifier = 1
	ModCtrl  Modifier = 2
	ModMeta  Modifier = 4
	ModShift Modifier = 8
)

var (
	ErrMultipleMainKeys = errors.New("invalid key combination: multiple main keys")
	ErrNoMainKey        = errors.New("invalid key combination: no main key")
	ErrUnknownKey       = errors.New("unknown key")
)

// Key is one entry of the canonical key table.
type Key struct {
	Name string // canonical lowercase name
	Code int    // Windows virtual key code
	ID   string // DOM KeyboardEvent.key value
}

// Chord is a parsed key specification.
type Chord struct {
	Modifiers Modifier
	Key       Key
}

var modifiers = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"option":  ModAlt,
	"meta":    ModMeta,
	"command": ModMeta,
	"cmd":     ModMeta,
	"super":   ModMeta,
	"win":     ModMeta,
}

var named = []Key{
	{Name: "enter", Code: 13, ID: "Enter"},
	{Name: "escape", Code: 27, ID: "Escape"},
	{Name: "space", Code: 32, ID: " "},
	{Name: "tab", Code: 9, ID: "Tab"},
	{Name: "backspace", Code: 8, ID: "Backspace"},
	{Name: "delete", Code: 46, ID: "Delete"},
	{Name: "arrowleft", Code: 37, ID: "ArrowLeft"},
	{Name: "arrowup", Code: 38, ID: "ArrowUp"},
	{Name: "arrowright", Code: 39, ID: "ArrowRight"},
	{Name: "arrowdown", Code: 40, ID: "ArrowDown"},
}

var aliases = map[string]string{
	" ":        "space",
	"spacebar": "space",
	"return":   "enter",
	"esc":      "escape",
	"del":      "delete",
	"left":     "arrowleft",
	"up":       "arrowup",
	"right":    "arrowright",
	"down":     "arrowdown",
}

var table = buildTable()

func buildTable() map[string]Key {
	t := make(map[string]Key, 26+10+len(named))
	for c := 'a'; c <= 'z'; c++ {
		name := string(c)
		t[name] = Key{Name: name, Code: int(c - 'a' + 'A'), ID: name}
	}
	for c := '0'; c <= '9'; c++ {
		name := string(c)
		t[name] = Key{Name: name, Code: int(c), ID: name}
	}
	for _, k := range named {
		t[k.Name] = k
	}
	return t
}

// Lookup resolves a main key name (case-insensitive, aliases allowed).
func Lookup(name string) (Key, bool) {
	name = normalizeToken(name)
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	k, ok := table[name]
	return k, ok
}

// Parse splits spec on '+' into modifiers and exactly one main key.
// Validation order: multiple main keys, no main key, unknown key.
func Parse(spec string) (Chord, error) {
	var chord Chord
	main := ""
	hasMain := false

	for _, raw := range strings.Split(spec, "+") {
		if raw == "" {
			// "ctrl+" and "" name no key at all.
			continue
		}
		tok := normalizeToken(raw)
		if mod, ok := modifiers[tok]; ok {
			chord.Modifiers |= mod
			continue
		}
		if hasMain {
			return Chord{}, ErrMultipleMainKeys
		}
		main = tok
		hasMain = true
	}

	if !hasMain {
		return Chord{}, ErrNoMainKey
	}

	key, ok := Lookup(main)
	if !ok {
		return Chord{}, fmt.Errorf("%w: %q", ErrUnknownKey, main)
	}
	chord.Key = key
	return chord, nil
}

// normalizeToken lowercases and trims a token, keeping a bare space as the
// space key rather than collapsing it to an empty name.
func normalizeToken(raw string) string {
	tok := strings.ToLower(strings.TrimSpace(raw))
	if tok == "" && raw != "" {
		return " "
	}
	return tok
}

// String renders the chord back in canonical form, e.g. "ctrl+shift+a".
func (c Chord) String() string {
	var parts []string
	if c.Modifiers&ModCtrl != 0 {
		parts = append(parts, "ctrl")
	}
	if c.Modifiers&ModAlt != 0 {
		parts = append(parts, "alt")
	}
	if c.Modifiers&ModShift != 0 {
		parts = append(parts, "shift")
	}
	if c.Modifiers&ModMeta != 0 {
		parts = append(parts, "meta")
	}
	parts = append(parts, c.Key.Name)
	return strings.Join(parts, "+")
}
