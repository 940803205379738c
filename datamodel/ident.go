package datamodel

import (
	"strings"
	"unicode"
)

// Identifiers exist in two forms: raw, exactly as the model author typed
// them, and canonical. All graph and lookup operations use the canonical
// form. Nested module namespaces are joined with '.', and a leading '.'
// marks a reference that resolves against the root model rather than the
// enclosing module.

// Canonicalize normalizes a raw identifier: surrounding quotes are
// stripped, letters are lower-cased, and runs of whitespace (including
// literal "\n" escapes from file formats) collapse to a single '_'.
func Canonicalize(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, "\\n", " ")
	s = strings.ReplaceAll(s, "\\\\", " ")
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// JoinIdent nests child inside the namespace of parent.
func JoinIdent(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}

// IsRootRef reports whether ident explicitly targets the root namespace.
func IsRootRef(ident string) bool {
	return strings.HasPrefix(ident, ".")
}

// TrimRootRef removes the root-reference marker, if present.
func TrimRootRef(ident string) string {
	return strings.TrimPrefix(ident, ".")
}

// SplitIdent separates the first namespace component from the rest.
// For "mod.sub.x" it returns ("mod", "sub.x"); for a plain identifier
// the second result is empty.
func SplitIdent(ident string) (string, string) {
	if i := strings.IndexByte(ident, '.'); i >= 0 {
		return ident[:i], ident[i+1:]
	}
	return ident, ""
}
