package scms

import (
	"net/url"
	"strings"
)

// JoinURL appends escaped path segments to base. A segment containing a slash,
// such as a GitLab "group/project" path, is escaped as a single segment.
func JoinURL(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
