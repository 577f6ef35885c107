package lockdown

import (
	"fmt"
	"strings"
)

// Restriction is one class of candidate action suppressed while the lockdown is installed.
type Restriction string

const (
	RestrictContextMenu Restriction = "context_menu"
	RestrictShortcuts   Restriction = "shortcuts"
	RestrictClipboard   Restriction = "clipboard"
	RestrictSelection   Restriction = "selection"
	RestrictFullscreen  Restriction = "fullscreen"
)

// Shortcut is a key combination. Key is compared case-insensitively.
type Shortcut struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
	Meta  bool   `json:"meta,omitempty"`
}

func (s Shortcut) String() string {
	var parts []string
	if s.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if s.Shift {
		parts = append(parts, "Shift")
	}
	if s.Alt {
		parts = append(parts, "Alt")
	}
	if s.Meta {
		parts = append(parts, "Meta")
	}
	return strings.Join(append(parts, s.Key), "+")
}

// ParseShortcut reads combinations like "Ctrl+Shift+I" or "F12".
func ParseShortcut(raw string) (Shortcut, error) {
	var s Shortcut
	parts := strings.Split(raw, "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i == len(parts)-1 {
			if p == "" {
				return Shortcut{}, fmt.Errorf("shortcut %q has no key", raw)
			}
			s.Key = p
			continue
		}
		switch strings.ToLower(p) {
		case "ctrl", "control":
			s.Ctrl = true
		case "shift":
			s.Shift = true
		case "alt":
			s.Alt = true
		case "meta", "cmd":
			s.Meta = true
		default:
			return Shortcut{}, fmt.Errorf("shortcut %q: unknown modifier %q", raw, p)
		}
	}
	return s, nil
}

func (s Shortcut) matches(other Shortcut) bool {
	return strings.EqualFold(s.Key, other.Key) &&
		s.Ctrl == other.Ctrl && s.Shift == other.Shift && s.Alt == other.Alt && s.Meta == other.Meta
}

// Policy describes what a Surface must suppress.
type Policy struct {
	Restrictions     []Restriction `json:"restrictions"`
	BlockedShortcuts []Shortcut    `json:"blockedShortcuts"`
	HideChrome       bool          `json:"hideChrome"`
}

// DefaultPolicy blocks developer tools, view-source, save, print and escape, and hides the
// navigation sidebar and header.
func DefaultPolicy() Policy {
	return Policy{
		Restrictions: []Restriction{
			RestrictContextMenu,
			RestrictShortcuts,
			RestrictClipboard,
			RestrictSelection,
			RestrictFullscreen,
		},
		BlockedShortcuts: []Shortcut{
			{Key: "F12"},
			{Key: "I", Ctrl: true, Shift: true},
			{Key: "J", Ctrl: true, Shift: true},
			{Key: "U", Ctrl: true},
			{Key: "S", Ctrl: true},
			{Key: "P", Ctrl: true},
			{Key: "Escape"},
		},
		HideChrome: true,
	}
}

// Blocks reports whether the policy suppresses the given combination.
func (p Policy) Blocks(s Shortcut) bool {
	if !p.Has(RestrictShortcuts) {
		return false
	}
	for _, b := range p.BlockedShortcuts {
		if b.matches(s) {
			return true
		}
	}
	return false
}

func (p Policy) Has(r Restriction) bool {
	for _, have := range p.Restrictions {
		if have == r {
			return true
		}
	}
	return false
}
