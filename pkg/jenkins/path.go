package jenkins

import (
	"net/url"
	"strings"
)

// NormalizePath trims separators and drops empty segments, so "/A//B/" and
// "A/B" name the same job.
func NormalizePath(p string) string {
	return strings.Join(Segments(p), "/")
}

// Segments splits a job path into its non-empty components.
func Segments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinPath appends name under parent.
func JoinPath(parent, name string) string {
	parent = NormalizePath(parent)
	name = NormalizePath(name)
	switch {
	case parent == "":
		return name
	case name == "":
		return parent
	}
	return parent + "/" + name
}

// BaseName returns the last segment of a job path.
func BaseName(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// JobURLPath maps "A/B" to "/job/A/job/B", escaping each segment.
func JobURLPath(p string) string {
	var b strings.Builder
	for _, seg := range Segments(p) {
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// PathFromJobURL recovers a job path from a job URL such as
// "https://ci/job/A/job/B/" or "job/A/job/B/". It returns "" when the URL
// contains no job segments.
func PathFromJobURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		raw = u.Path
	}

	segs := strings.Split(strings.Trim(raw, "/"), "/")
	var out []string
	for i := 0; i+1 < len(segs); i++ {
		if segs[i] != "job" {
			continue
		}
		name, err := url.PathUnescape(segs[i+1])
		if err != nil {
			name = segs[i+1]
		}
		out = append(out, name)
		i++
	}
	return strings.Join(out, "/")
}
