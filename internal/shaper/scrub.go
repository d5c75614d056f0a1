package shaper

import "regexp"

// Rule is one technical-artifact pattern.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Scrubber rejects user-visible strings that leak implementation detail.
type Scrubber struct {
	rules []Rule
}

// DefaultRules is the artifact rule set applied to every shaped string.
func DefaultRules() []Rule {
	return []Rule{
		{"json", regexp.MustCompile(`\{\s*"[^"]*"\s*:`)},
		{"debug_marker", regexp.MustCompile(`\[(?:DEBUG|ERROR|LOG|INFO|WARN|TRACE)\]`)},
		{"stack_trace", regexp.MustCompile(`\bat \b.*\.js:`)},
		{"file_path", regexp.MustCompile(`src/|node_modules/|\.(?:js|ts|ini|json|md)\b`)},
		{"technical_token", regexp.MustCompile(`\b(?:undefined|null|NaN|TypeError|ReferenceError|SyntaxError)\b|\[object Object\]`)},
		{"sql", regexp.MustCompile(`\b(?:SELECT|INSERT|UPDATE|DELETE)\s+\w`)},
		{"placeholder", regexp.MustCompile(`\$\{[^}]*\}|\{[^{}]*\}|%[A-Z_]+%`)},
		{"endpoint", regexp.MustCompile(`/api/|/v\d+/|localhost:\d+|127\.0\.0\.1`)},
		{"config_reference", regexp.MustCompile(`\b[A-Z][A-Z0-9_]+=|\bconfig\.|process\.env\.`)},
	}
}

func NewScrubber(rules ...Rule) *Scrubber {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Scrubber{rules: rules}
}

// Check returns the name of the first rule s violates, or "" when s is clean.
func (sc *Scrubber) Check(s string) string {
	for _, r := range sc.rules {
		if r.Pattern.MatchString(s) {
			return r.Name
		}
	}
	return ""
}

// Clean reports whether s passes every rule.
func (sc *Scrubber) Clean(s string) bool {
	return sc.Check(s) == ""
}
