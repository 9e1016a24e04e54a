// Package sanitize rewrites absolute links pointing at known deployment
// hosts into relative markdown links, so authored content never leaks
// fully-qualified URLs across tenants. Text inside inline code spans or
// 4-space-indented blocks is left untouched.
package sanitize

import (
	"regexp"
	"strings"
	"sync"
)

// HostProvider returns the currently active deployment hostnames.
type HostProvider interface {
	Hosts() []string
}

// StaticHosts is a fixed HostProvider.
type StaticHosts []string

// Hosts implements HostProvider.
func (h StaticHosts) Hosts() []string { return h }

// Sanitizer rewrites same-deployment absolute links in message bodies.
type Sanitizer struct {
	provider HostProvider

	mu       sync.Mutex
	forHosts string
	re       *regexp.Regexp
}

// New builds a Sanitizer over the given host provider. The matcher is
// rebuilt whenever the provider's host set changes.
func New(provider HostProvider) *Sanitizer {
	return &Sanitizer{provider: provider}
}

// matcher returns the compiled pattern for the current host set, or nil
// when no hosts are known. It captures one boundary character on each side
// of the URL; the path group excludes whitespace, ')' and ']'. The final
// group rejects hostname characters so a known host never matches as a
// prefix of a longer foreign host.
func (s *Sanitizer) matcher() *regexp.Regexp {
	hosts := s.provider.Hosts()
	if len(hosts) == 0 {
		return nil
	}
	quoted := make([]string, len(hosts))
	for i, h := range hosts {
		quoted[i] = regexp.QuoteMeta(h)
	}
	joined := strings.Join(quoted, "|")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.re == nil || s.forHosts != joined {
		s.re = regexp.MustCompile(`(.?)https?://(?:` + joined + `)(/[^\s\)\]]*)?([^A-Za-z0-9./-]|$)`)
		s.forHosts = joined
	}
	return s.re
}

// Sanitize returns body with every matching absolute link rewritten to a
// relative markdown link. Bare URLs become "[path](path)"; the title and
// target halves of an existing markdown link are each rewritten to the path
// alone, so re-sanitizing already converted output is a no-op.
func (s *Sanitizer) Sanitize(body string) string {
	re := s.matcher()
	if re == nil {
		return body
	}
	matches := re.FindAllStringSubmatchIndex(body, -1)
	if matches == nil {
		return body
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		urlStart := m[3] // end of the before-boundary group
		if inCodeSpan(body, urlStart) || inIndentedBlock(body, urlStart) {
			continue
		}

		before := body[m[2]:m[3]]
		path := "/"
		if m[4] >= 0 && m[5] > m[4] {
			path = body[m[4]:m[5]]
		}
		after := ""
		if m[6] >= 0 {
			after = body[m[6]:m[7]]
		}

		b.WriteString(body[last:m[0]])
		switch {
		case before == "[" && after == "]":
			// title half of an existing markdown link
			b.WriteString("[" + path + "]")
		case before == "(" && after == ")":
			// target half of an existing markdown link
			b.WriteString("(" + path + ")")
		default:
			b.WriteString(before + "[" + path + "](" + path + ")" + after)
		}
		last = m[1]
	}
	b.WriteString(body[last:])
	return b.String()
}

// inCodeSpan reports whether pos falls inside an inline code span: an odd
// number of backticks precede it.
func inCodeSpan(body string, pos int) bool {
	return strings.Count(body[:pos], "`")%2 == 1
}

// inIndentedBlock reports whether the line holding pos, and every
// contiguous line above it back to the previous blank line, starts with
// four spaces.
func inIndentedBlock(body string, pos int) bool {
	lineStart := strings.LastIndexByte(body[:pos], '\n') + 1
	for {
		if !strings.HasPrefix(body[lineStart:], "    ") {
			return false
		}
		if lineStart == 0 {
			return true
		}
		prevStart := strings.LastIndexByte(body[:lineStart-1], '\n') + 1
		if strings.TrimSpace(body[prevStart:lineStart-1]) == "" {
			return true
		}
		lineStart = prevStart
	}
}
