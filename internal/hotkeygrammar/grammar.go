// Package hotkeygrammar parses and validates the hotkey string grammar of
// spec.md §6: [Modifier("+"Modifier)*"+"]Key. Adapted from the teacher's
// hotkey_service.go parseHotkey/FormatHotkey, generalized from the macOS
// golang.design/x/hotkey modifier/key set to the Linux key set §6 names.
//
// Design Notes §9 delegates actual global-hotkey binding to the desktop
// environment's own shortcut system (invoking `nextalk --toggle`); this
// package therefore only parses and validates the configured string — it
// never registers a key with the OS.
package hotkeygrammar

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is returned for any string that does not match the grammar.
var ErrInvalid = errors.New("hotkeygrammar: invalid hotkey combination")

// DefaultCombo is the spec's default hotkey.
const DefaultCombo = "Ctrl+Alt+V"

var validModifiers = map[string]string{
	"ctrl":    "Ctrl",
	"control": "Control",
	"shift":   "Shift",
	"alt":     "Alt",
	"super":   "Super",
	"meta":    "Meta",
}

// validKeys is the closed key set of spec.md §6: letters, digits, F1-F12,
// the named editing/navigation keys, and left/right modifier keys.
var validKeys = buildValidKeys()

func buildValidKeys() map[string]bool {
	keys := map[string]bool{
		"space": true, "escape": true, "tab": true, "return": true,
		"backspace": true, "caps_lock": true,
		"up": true, "down": true, "left": true, "right": true,
		"insert": true, "delete": true, "home": true, "end": true,
		"page_up": true, "page_down": true,
		"shift_l": true, "shift_r": true, "control_l": true, "control_r": true,
		"alt_l": true, "alt_r": true, "super_l": true, "super_r": true,
	}
	for c := 'a'; c <= 'z'; c++ {
		keys[string(c)] = true
	}
	for c := '0'; c <= '9'; c++ {
		keys[string(c)] = true
	}
	for i := 1; i <= 12; i++ {
		keys[fmt.Sprintf("f%d", i)] = true
	}
	return keys
}

// Combo is a parsed, validated hotkey string: zero or more modifiers plus
// exactly one key.
type Combo struct {
	Modifiers []string // canonical names, e.g. "Ctrl", "Alt"
	Key       string   // canonical lowercase key name, e.g. "v", "f5"
}

// Parse validates combo against the grammar and returns its canonical
// decomposition. A bare key with no modifier is permitted (the grammar's
// modifier list is optional), unlike the teacher's macOS parser which
// required at least one modifier.
func Parse(combo string) (Combo, error) {
	trimmed := strings.TrimSpace(combo)
	if trimmed == "" {
		return Combo{}, fmt.Errorf("%w: empty string", ErrInvalid)
	}
	parts := strings.Split(trimmed, "+")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return Combo{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalid, combo)
		}
	}

	keyPart := parts[len(parts)-1]
	modParts := parts[:len(parts)-1]

	keyLower := strings.ToLower(keyPart)
	if !validKeys[keyLower] {
		return Combo{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, keyPart)
	}

	seen := map[string]bool{}
	var mods []string
	for _, m := range modParts {
		lower := strings.ToLower(m)
		canon, ok := validModifiers[lower]
		if !ok {
			return Combo{}, fmt.Errorf("%w: unknown modifier %q", ErrInvalid, m)
		}
		if seen[canon] {
			continue
		}
		seen[canon] = true
		mods = append(mods, canon)
	}

	return Combo{Modifiers: mods, Key: keyLower}, nil
}

// String renders the Combo back to the canonical "Mod+Mod+Key" form.
func (c Combo) String() string {
	parts := append([]string{}, c.Modifiers...)
	parts = append(parts, c.Key)
	return strings.Join(parts, "+")
}
