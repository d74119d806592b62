// Package form holds wizard field state and the validation toolkit used
// by every flow.
package form

import (
	"maps"
	"slices"
	"strings"

	"bankflow/pkg/money"

	"github.com/shopspring/decimal"
)

// State is the flat field map a wizard accumulates. Values are kept in
// the form the user entered them; typed accessors parse on read.
type State map[string]string

// NewState returns an empty state, optionally seeded with presets.
func NewState(presets map[string]string) State {
	st := make(State, len(presets))
	for k, v := range presets {
		st[k] = v
	}
	return st
}

// Get returns the trimmed value of field.
func (s State) Get(field string) string {
	return strings.TrimSpace(s[field])
}

// Has reports whether field holds a non-blank value.
func (s State) Has(field string) bool {
	return s.Get(field) != ""
}

// Amount parses field as money. ok is false for blank or malformed input.
func (s State) Amount(field string) (decimal.Decimal, bool) {
	d, err := money.Parse(s[field])
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Bool reads checkbox style fields ("true", "on", "yes", "1").
func (s State) Bool(field string) bool {
	switch strings.ToLower(s.Get(field)) {
	case "true", "on", "yes", "1":
		return true
	}
	return false
}

// List splits a comma separated field into its non-empty items.
func (s State) List(field string) []string {
	var out []string
	for _, item := range strings.Split(s[field], ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// WithPrefix returns the fields starting with prefix, prefix stripped,
// in key order. Used for repeated groups such as "alloc.<fund>".
func (s State) WithPrefix(prefix string) []Field {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var out []Field
	for _, k := range keys {
		if rest, ok := strings.CutPrefix(k, prefix); ok && rest != "" {
			out = append(out, Field{Name: rest, Value: s[k]})
		}
	}
	return out
}

// Clone returns an independent copy.
func (s State) Clone() State {
	return maps.Clone(s)
}

// Field is a name/value pair.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
