// Package filter applies literal (non-regex) substring redaction rules to
// outgoing request bodies.
package filter

import (
	"strings"

	"clproxy/internal/model"
)

// Engine applies an ordered list of rules to request bodies.
type Engine struct {
	rules []model.FilterRule
}

// New compiles rules into an Engine. Rules with an empty Source are dropped
// at compile time since they would be no-ops on every call.
func New(rules model.FilterDocument) *Engine {
	compiled := make([]model.FilterRule, 0, len(rules))
	for _, r := range rules {
		if r.Source == "" {
			continue
		}
		compiled = append(compiled, r)
	}
	return &Engine{rules: compiled}
}

// Apply runs every rule in declared order over body, each rule seeing the
// previous rule's output, and returns the rewritten bytes. When no rule
// matches it returns body itself, unchanged.
func (e *Engine) Apply(body []byte) []byte {
	if len(e.rules) == 0 {
		return body
	}
	s := string(body)
	changed := false
	for _, r := range e.rules {
		if !strings.Contains(s, r.Source) {
			continue
		}
		changed = true
		switch r.Op {
		case model.FilterOpReplace:
			s = strings.ReplaceAll(s, r.Source, r.Target)
		case model.FilterOpRemove:
			s = strings.ReplaceAll(s, r.Source, "")
		}
	}
	if !changed {
		return body
	}
	return []byte(s)
}

// Rules returns the compiled rule set, for diagnostics.
func (e *Engine) Rules() []model.FilterRule {
	return e.rules
}
