package intake

import "strings"

// patternKind selects how one accept pattern is evaluated.
type patternKind int

const (
	matchSuffix patternKind = iota // ".png" matches the file name's extension
	matchPrefix                    // "image/*" matches the declared MIME type
	matchExact                     // anything else matches name or type exactly
)

type pattern struct {
	kind  patternKind
	value string
}

// Policy is a compiled accept-pattern list. Patterns are separated by commas
// or pipes; a leading dot means case-insensitive name-suffix match, a trailing
// asterisk means prefix match against the declared MIME type, anything else is
// an exact match. The zero Policy accepts everything.
type Policy struct {
	patterns []pattern
}

// CompilePolicy parses an accept-pattern string like ".png,.jpg|image/*".
func CompilePolicy(spec string) Policy {
	var p Policy
	for _, raw := range strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == '|'
	}) {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		switch {
		case strings.HasPrefix(tok, "."):
			p.patterns = append(p.patterns, pattern{matchSuffix, strings.ToLower(tok)})
		case strings.HasSuffix(tok, "*"):
			p.patterns = append(p.patterns, pattern{matchPrefix, strings.TrimSuffix(tok, "*")})
		default:
			p.patterns = append(p.patterns, pattern{matchExact, tok})
		}
	}
	return p
}

// Empty reports whether the policy has no patterns and therefore accepts all.
func (p Policy) Empty() bool { return len(p.patterns) == 0 }

// Match tests a file's declared name and MIME type against the policy.
func (p Policy) Match(name, mimeType string) bool {
	if p.Empty() {
		return true
	}
	lower := strings.ToLower(name)
	for _, pat := range p.patterns {
		switch pat.kind {
		case matchSuffix:
			if strings.HasSuffix(lower, pat.value) {
				return true
			}
		case matchPrefix:
			if mimeType != "" && strings.HasPrefix(mimeType, pat.value) {
				return true
			}
		case matchExact:
			if name == pat.value || mimeType == pat.value {
				return true
			}
		}
	}
	return false
}
