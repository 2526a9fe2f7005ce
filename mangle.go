package etch

import "strings"

// MangleName produces the canonical function-table name for a
// declared function, disambiguating overloads by parameter type the
// way the host-visible symbol table requires (spec §3.3 "canonical
// mangled name"). Mirrors the teacher's grammar_compiler.go practice
// of deriving a single deterministic string key per rule/production,
// generalized from rule names to (name, param types) pairs.
func MangleName(name string, params []TypeRef) string {
	if len(params) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('#')
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Name)
	}
	return b.String()
}
