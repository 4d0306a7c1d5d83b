package patch

import (
	"bytes"
	"strings"
)

// Plan is a validated substitution: Bytes exactly fills the matched region.
type Plan struct {
	Match Match
	// Region is the number of bytes overwritten starting at Match.Offset.
	// Complete-string matches use the whole span with NUL padding, name
	// prefixes replace only the literal to keep the tail intact.
	Region int
	Bytes  []byte
}

// CheckPath rejects replacement paths that would corrupt the runtime path:
// only absolute, printable, NUL-free POSIX paths survive validation.
func CheckPath(p string) error {
	if p == "" || p[0] != '/' {
		return &BadReplacementError{Replacement: p, Reason: "must be an absolute path"}
	}
	if strings.IndexByte(p, 0) >= 0 {
		return &BadReplacementError{Replacement: p, Reason: "contains NUL byte"}
	}
	for i := 0; i < len(p); i++ {
		if p[i] <= 0x20 || p[i] >= 0x7f {
			return &BadReplacementError{Replacement: p, Reason: "contains non-printable byte"}
		}
	}
	return nil
}

// Validate confirms replacement fits the matched region of library and
// builds the plan that fills it exactly.
//
// Complete-string matches accept any replacement with
// len(replacement)+1 <= span; the region is padded with NUL bytes. Name
// prefix matches must preserve the bytes after the literal, so the
// replacement has to be exactly as long as the literal.
func Validate(library string, m Match, replacement []byte) (Plan, error) {
	if err := CheckPath(string(replacement)); err != nil {
		return Plan{}, err
	}
	if m.Kind.Trailing() {
		if len(replacement) > len(m.Literal) {
			return Plan{}, &ReplacementTooLongError{
				Library: library,
				Offset:  m.Offset,
				Span:    len(m.Literal),
				Need:    len(replacement),
			}
		}
		if len(replacement) < len(m.Literal) {
			return Plan{}, &BadReplacementError{
				Replacement: string(replacement),
				Reason:      "prefix with trailing data requires a replacement of identical length",
			}
		}
		return Plan{
			Match:  m,
			Region: len(m.Literal),
			Bytes:  append([]byte(nil), replacement...),
		}, nil
	}
	if len(replacement)+1 > m.Span {
		return Plan{}, &ReplacementTooLongError{
			Library: library,
			Offset:  m.Offset,
			Span:    m.Span,
			Need:    len(replacement) + 1,
		}
	}
	b := make([]byte, m.Span)
	copy(b, replacement)
	return Plan{Match: m, Region: m.Span, Bytes: b}, nil
}

// AlreadySatisfied reports whether data already carries the replacement in
// the variant's literal position, which makes a missing original literal a
// no-op instead of a failure when re-patching a patched tree.
func AlreadySatisfied(data []byte, v Variant, shmDir string) bool {
	repl := v.ReplacementFor(shmDir)
	if bytes.Equal(repl, v.Literal) {
		return false
	}
	w := v
	w.Literal = repl
	return len(Scan(data, w)) > 0
}
