package uri

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotAbsolute is returned when a URI lacks a scheme or host
var ErrNotAbsolute = errors.New("URI is not absolute")

// URI is an immutable parsed absolute URI
// Two URIs are equal when their String forms are equal
type URI struct {
	u        *url.URL
	str      string
	segments []string
}

// Parse parses an absolute URI (scheme and host required)
// An empty path is normalized to "/"
func Parse(raw string) (URI, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return URI{}, err
	}
	return FromURL(parsed)
}

// MustParse is Parse for literals; it panics on error
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(fmt.Sprintf("uri: MustParse(%q): %v", raw, err))
	}
	return u
}

// FromURL builds a URI from an already parsed url.URL, which is copied
func FromURL(parsed *url.URL) (URI, error) {
	if parsed == nil || parsed.Scheme == "" || parsed.Host == "" {
		return URI{}, fmt.Errorf("%w: %v", ErrNotAbsolute, parsed)
	}
	cp := *parsed
	if cp.Path == "" && cp.RawPath == "" {
		cp.Path = "/"
	}
	cp.Fragment = ""
	cp.RawFragment = ""
	return URI{
		u:        &cp,
		str:      cp.String(),
		segments: splitSegments(cp.EscapedPath()),
	}, nil
}

// splitSegments splits an escaped path into segments:
// "/a/b" -> ["/", "a/", "b"]; every element but the last keeps its slash
func splitSegments(p string) []string {
	if p == "" {
		p = "/"
	}
	var segs []string
	for i := 0; i < len(p); {
		j := strings.IndexByte(p[i:], '/')
		if j < 0 {
			segs = append(segs, p[i:])
			break
		}
		segs = append(segs, p[i:i+j+1])
		i += j + 1
	}
	return segs
}

// IsZero reports whether u was never set
func (u URI) IsZero() bool { return u.u == nil }

// String returns the normalized string form, also used as cache key
func (u URI) String() string { return u.str }

// AbsoluteURI returns the full URI string
func (u URI) AbsoluteURI() string { return u.str }

// Scheme returns the URI scheme
func (u URI) Scheme() string {
	if u.u == nil {
		return ""
	}
	return u.u.Scheme
}

// Host returns the host name without port, as written in the URI
func (u URI) Host() string {
	if u.u == nil {
		return ""
	}
	return u.u.Hostname()
}

// Path returns the unescaped path
func (u URI) Path() string {
	if u.u == nil {
		return ""
	}
	return u.u.Path
}

// Query returns "?" followed by the raw query, or "" when there is none
func (u URI) Query() string {
	if u.u == nil || u.u.RawQuery == "" {
		return ""
	}
	return "?" + u.u.RawQuery
}

// Segments returns a copy of the path segments
func (u URI) Segments() []string {
	out := make([]string, len(u.segments))
	copy(out, u.segments)
	return out
}

// SegmentCount returns the number of path segments, root included
func (u URI) SegmentCount() int { return len(u.segments) }

// Segment returns segment i; negative i counts from the end
func (u URI) Segment(i int) string {
	if i < 0 {
		i += len(u.segments)
	}
	if i < 0 || i >= len(u.segments) {
		return ""
	}
	return u.segments[i]
}

// LastSegment returns the final path segment
func (u URI) LastSegment() string { return u.Segment(-1) }

// URL returns a copy of the underlying url.URL
func (u URI) URL() *url.URL {
	if u.u == nil {
		return nil
	}
	cp := *u.u
	return &cp
}

// Equal reports whether two URIs have the same string form
func (u URI) Equal(other URI) bool { return u.str == other.str }
