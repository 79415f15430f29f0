package sourcecfg

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/teranos/croplink/errors"
)

var placeholderName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PathMatcher tests concrete paths against a compiled template and extracts
// the declared fields. Safe for concurrent use.
type PathMatcher struct {
	template string
	re       *regexp.Regexp
	// capture group index per declared field
	groups map[string]int
}

// CompilePattern compiles template once. Each {name} placeholder matches a
// single non-empty path segment; the match is anchored to the whole path.
// Errors name every structural problem: unbalanced braces, empty, invalid
// or duplicate names, and declared fields absent from the template.
func CompilePattern(template string, fields []string) (*PathMatcher, error) {
	if template == "" {
		return nil, errors.New("path template is empty")
	}

	var (
		expr     strings.Builder
		literal  strings.Builder
		names    []string
		problems []string
	)
	flush := func() {
		expr.WriteString(regexp.QuoteMeta(literal.String()))
		literal.Reset()
	}

	expr.WriteString("^")
	for i := 0; i < len(template); i++ {
		switch c := template[i]; c {
		case '{':
			end := strings.IndexAny(template[i+1:], "{}")
			if end < 0 || template[i+1+end] != '}' {
				problems = append(problems, fmt.Sprintf("unbalanced '{' at offset %d", i))
				literal.WriteByte(c)
				continue
			}
			name := template[i+1 : i+1+end]
			switch {
			case name == "":
				problems = append(problems, fmt.Sprintf("empty placeholder at offset %d", i))
			case !placeholderName.MatchString(name):
				problems = append(problems, fmt.Sprintf("invalid placeholder name %q", name))
			case slices.Contains(names, name):
				problems = append(problems, fmt.Sprintf("duplicate placeholder %q", name))
			}
			names = append(names, name)
			flush()
			expr.WriteString("([^/]+)")
			i += end + 1
		case '}':
			problems = append(problems, fmt.Sprintf("unbalanced '}' at offset %d", i))
			literal.WriteByte(c)
		default:
			literal.WriteByte(c)
		}
	}
	flush()
	expr.WriteString("$")

	groups := make(map[string]int, len(fields))
	for _, f := range fields {
		idx := slices.Index(names, f)
		if idx < 0 {
			problems = append(problems, fmt.Sprintf("field %q is not a placeholder in the template", f))
			continue
		}
		groups[f] = idx + 1
	}

	if len(problems) > 0 {
		return nil, errors.Newf("path template %q: %s", template, strings.Join(problems, "; "))
	}

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, errors.Wrapf(err, "compile path template %q", template)
	}

	return &PathMatcher{template: template, re: re, groups: groups}, nil
}

// Template returns the source template.
func (m *PathMatcher) Template() string { return m.template }

// Match reports whether path fits the template and returns the declared
// fields. Placeholders not declared as fields are matched but not returned.
func (m *PathMatcher) Match(path string) (map[string]string, bool) {
	sub := m.re.FindStringSubmatch(path)
	if sub == nil {
		return nil, false
	}
	out := make(map[string]string, len(m.groups))
	for name, idx := range m.groups {
		out[name] = sub[idx]
	}
	return out, true
}
