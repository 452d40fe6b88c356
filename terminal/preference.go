package terminal

import (
	"errors"
	"strings"
)

// Default terminal preferences. Windows reports the ACR122U without the U.
var defaultPatterns = []string{
	"ACS ACR122U PICC Interface",
	"ACR122",
	"",
}

// ErrMisplacedCatchAll is returned when the empty pattern is not the last
// preference.
var ErrMisplacedCatchAll = errors.New("empty preference must be last")

// Preferences is an ordered list of terminal name substrings, most specific
// first. An empty pattern is a catch-all and may only appear last.
type Preferences struct {
	patterns []string
}

// NewPreferences validates and copies the given patterns.
func NewPreferences(patterns ...string) (Preferences, error) {
	for i, p := range patterns {
		if p == "" && i != len(patterns)-1 {
			return Preferences{}, ErrMisplacedCatchAll
		}
	}
	return Preferences{patterns: append([]string(nil), patterns...)}, nil
}

// DefaultPreferences prefers the ACR122U and falls back to any terminal.
func DefaultPreferences() Preferences {
	return Preferences{patterns: append([]string(nil), defaultPatterns...)}
}

// Len returns the number of patterns.
func (p Preferences) Len() int {
	return len(p.patterns)
}

// Patterns returns a copy of the patterns.
func (p Preferences) Patterns() []string {
	return append([]string(nil), p.patterns...)
}

// Resolve picks a terminal name. Preference order dominates catalog order:
// the first pattern with any match wins, and within that pattern the first
// matching entry. The catch-all pattern takes the first entry.
func Resolve(prefs Preferences, entries []Entry) (string, bool) {
	if len(entries) == 0 {
		return "", false
	}
	for _, pattern := range prefs.patterns {
		if pattern == "" {
			return entries[0].Name, true
		}
		for _, e := range entries {
			if strings.Contains(e.Name, pattern) {
				return e.Name, true
			}
		}
	}
	return "", false
}

// Bind looks up a previously resolved name by exact match.
func Bind(name string, entries []Entry) (*Handle, bool) {
	if name == "" {
		return nil, false
	}
	for _, e := range entries {
		if e.Name == name {
			return &Handle{Name: e.Name, Ref: e.Ref}, true
		}
	}
	return nil, false
}
