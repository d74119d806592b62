package form

import (
	"slices"
	"strings"
)

// Errors maps a field name to the message shown next to it.
// An empty Errors means the step may advance.
type Errors map[string]string

// Add records msg for field unless the field already has an error;
// the first failing rule wins.
func (e Errors) Add(field, msg string) {
	if _, exists := e[field]; !exists {
		e[field] = msg
	}
}

// Merge copies every error from other that is not already present.
func (e Errors) Merge(other Errors) {
	for f, m := range other {
		e.Add(f, m)
	}
}

// Clear removes the error for field.
func (e Errors) Clear(field string) {
	delete(e, field)
}

// Empty reports whether no field failed.
func (e Errors) Empty() bool {
	return len(e) == 0
}

// Fields returns the failing field names in sorted order.
func (e Errors) Fields() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Error makes Errors usable as an error value for callers that need one.
func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, f := range e.Fields() {
		parts = append(parts, f+": "+e[f])
	}
	return "form: " + strings.Join(parts, "; ")
}
