package patch

import "fmt"

// NoMatchError reports that a mandatory literal was absent from a library,
// which usually means the library version does not embed the expected
// shared-memory path.
type NoMatchError struct {
	Library string
	Literal string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("patch: %s: literal %q not found", e.Library, e.Literal)
}

// ReplacementTooLongError reports a replacement path that does not fit the
// span allocated for the original literal. There is no safe way to grow the
// region without relinking, so the caller must pick a shorter path.
type ReplacementTooLongError struct {
	Library string
	Offset  int64
	Span    int
	Need    int
}

func (e *ReplacementTooLongError) Error() string {
	return fmt.Sprintf("patch: %s: replacement needs %d bytes but only %d available at offset %d",
		e.Library, e.Need, e.Span, e.Offset)
}

// BadReplacementError reports a replacement that is not a usable POSIX path
// or cannot substitute the matched region for a structural reason.
type BadReplacementError struct {
	Replacement string
	Reason      string
}

func (e *BadReplacementError) Error() string {
	return fmt.Sprintf("patch: replacement %q rejected: %s", e.Replacement, e.Reason)
}

// OverlappingPatchError reports two plans touching the same bytes. It is an
// internal invariant violation and always fatal.
type OverlappingPatchError struct {
	Library          string
	OffsetA, OffsetB int64
}

func (e *OverlappingPatchError) Error() string {
	return fmt.Sprintf("patch: %s: overlapping patches at offsets %d and %d",
		e.Library, e.OffsetA, e.OffsetB)
}
