package patch

import "bytes"

// Kind classifies how the call sites use a matched literal.
type Kind string

// Literal classifications. Directory prefixes and separator literals are
// complete strings, name prefixes start a longer string (for example a
// per-process filename pattern) whose tail must be preserved.
const (
	KindDirectoryPrefix  Kind = "directory-prefix"
	KindSeparatorLiteral Kind = "separator-literal"
	KindNamePrefix       Kind = "name-prefix"
)

// Trailing reports whether matches of this kind carry live bytes between
// the literal and the NUL terminator.
func (k Kind) Trailing() bool { return k == KindNamePrefix }

// Variant is one literal form of the shared-memory path to locate.
type Variant struct {
	Literal []byte
	Kind    Kind

	// Optional variants may be absent from a library build without
	// failing the run.
	Optional bool

	// AllowUnanchored accepts matches not preceded by a NUL byte.
	// Off by default: a literal appearing inside an unrelated larger
	// string must not be rewritten.
	AllowUnanchored bool
}

// ReplacementFor shapes the configured shared-memory directory to this
// variant's literal form: the replacement keeps or drops the trailing
// separator to mirror the literal.
func (v Variant) ReplacementFor(shmDir string) []byte {
	want := bytes.HasSuffix(v.Literal, []byte{'/'})
	for len(shmDir) > 1 && shmDir[len(shmDir)-1] == '/' {
		shmDir = shmDir[:len(shmDir)-1]
	}
	if want {
		shmDir += "/"
	}
	return []byte(shmDir)
}

// Match is one occurrence of a variant literal within a library image.
type Match struct {
	Offset  int64
	Literal []byte
	// Span counts the bytes from Offset through the NUL terminator,
	// the full region a complete-string replacement may occupy.
	Span int
	Kind Kind
}

// Scan returns every occurrence of the variant literal in data, in offset
// order. A match must start the image or follow a NUL byte unless the
// variant allows unanchored matches. Complete-string kinds match only when
// the literal is immediately NUL terminated; the name-prefix kind matches
// only when live bytes follow, so the two never claim the same occurrence.
// Occurrences with no NUL terminator before end of image are skipped as
// structurally unsound.
func Scan(data []byte, v Variant) []Match {
	var ms []Match
	trailing := v.Kind.Trailing()
	for pos := 0; ; {
		i := bytes.Index(data[pos:], v.Literal)
		if i < 0 {
			break
		}
		pos += i
		off := pos
		pos++

		if !v.AllowUnanchored && off > 0 && data[off-1] != 0 {
			continue
		}
		end := off + len(v.Literal)
		if end > len(data) {
			break
		}
		if end == len(data) {
			continue // no room for a terminator
		}
		if trailing == (data[end] == 0) {
			continue
		}
		nul := bytes.IndexByte(data[end:], 0)
		if nul < 0 {
			continue
		}
		ms = append(ms, Match{
			Offset:  int64(off),
			Literal: append([]byte(nil), v.Literal...),
			Span:    len(v.Literal) + nul + 1,
			Kind:    v.Kind,
		})
	}
	return ms
}
