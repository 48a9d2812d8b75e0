// Package filter compiles `trace=` expressions into an admit/deny
// predicate over syscall names.
//
// Grammar (case-sensitive, comma-separated, whitespace between terms ok):
//
//	expr    := term ("," term)*
//	term    := "!" atom | atom
//	atom    := class | literal | "/" regex "/"
//	class   := "file" | "network" | "process" | "memory" | "socket"
//	literal := [a-z0-9_]+
//
// Classes expand to predefined literal sets. Admission is: if any exclude
// matches, reject; else if any include is configured, require at least one
// include to match; else admit. Excludes always dominate.
package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/paiml/renacer/internal/sys"
)

// Filter is a compiled trace expression. The zero value admits everything.
type Filter struct {
	includeLit map[string]struct{}
	excludeLit map[string]struct{}
	includeRe  []*regexp.Regexp
	excludeRe  []*regexp.Regexp
}

var literalRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// Parse compiles a trace expression. An empty expression yields a filter
// that admits every syscall. Invalid terms and invalid regexes are
// configuration errors.
func Parse(expr string) (*Filter, error) {
	f := &Filter{
		includeLit: make(map[string]struct{}),
		excludeLit: make(map[string]struct{}),
	}
	if strings.TrimSpace(expr) == "" {
		return f, nil
	}

	for _, raw := range strings.Split(expr, ",") {
		term := strings.TrimSpace(raw)
		if term == "" {
			return nil, fmt.Errorf("empty term in filter expression %q", expr)
		}

		negated := false
		if strings.HasPrefix(term, "!") {
			negated = true
			term = term[1:]
			if term == "" {
				return nil, fmt.Errorf("dangling negation in filter expression %q", expr)
			}
		}

		switch {
		case strings.HasPrefix(term, "/") && strings.HasSuffix(term, "/") && len(term) > 1:
			re, err := regexp.Compile(term[1 : len(term)-1])
			if err != nil {
				return nil, fmt.Errorf("invalid regex term %s: %w", term, err)
			}
			if negated {
				f.excludeRe = append(f.excludeRe, re)
			} else {
				f.includeRe = append(f.includeRe, re)
			}
		case isClass(term):
			for _, name := range sys.Classes[term] {
				if negated {
					f.excludeLit[name] = struct{}{}
				} else {
					f.includeLit[name] = struct{}{}
				}
			}
		case literalRe.MatchString(term):
			if negated {
				f.excludeLit[term] = struct{}{}
			} else {
				f.includeLit[term] = struct{}{}
			}
		default:
			return nil, fmt.Errorf("invalid filter term %q", term)
		}
	}
	return f, nil
}

func isClass(term string) bool {
	_, ok := sys.Classes[term]
	return ok
}

// Admit reports whether a syscall name passes the filter.
func (f *Filter) Admit(name string) bool {
	if f == nil {
		return true
	}
	if _, excluded := f.excludeLit[name]; excluded {
		return false
	}
	for _, re := range f.excludeRe {
		if re.MatchString(name) {
			return false
		}
	}
	if len(f.includeLit) == 0 && len(f.includeRe) == 0 {
		return true
	}
	if _, included := f.includeLit[name]; included {
		return true
	}
	for _, re := range f.includeRe {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Empty reports whether the filter has no terms at all.
func (f *Filter) Empty() bool {
	return f == nil ||
		(len(f.includeLit) == 0 && len(f.excludeLit) == 0 &&
			len(f.includeRe) == 0 && len(f.excludeRe) == 0)
}

// Format renders the filter back to a canonical expression string.
// Classes are already expanded at parse time, so the output lists
// literals (sorted) and regex terms; Parse(Format(f)) compiles to a
// filter equal to f.
func (f *Filter) Format() string {
	var terms []string

	lits := make([]string, 0, len(f.includeLit))
	for name := range f.includeLit {
		lits = append(lits, name)
	}
	sort.Strings(lits)
	terms = append(terms, lits...)

	for _, re := range f.includeRe {
		terms = append(terms, "/"+re.String()+"/")
	}

	lits = lits[:0]
	for name := range f.excludeLit {
		lits = append(lits, name)
	}
	sort.Strings(lits)
	for _, name := range lits {
		terms = append(terms, "!"+name)
	}

	for _, re := range f.excludeRe {
		terms = append(terms, "!/"+re.String()+"/")
	}

	return strings.Join(terms, ",")
}
