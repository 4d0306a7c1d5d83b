// Package patch implements length-preserving string substitution inside
// compiled shared libraries.
//
// The shared-memory directory a libc uses is a literal in the library's
// data section. Scan locates every occurrence of such a literal together
// with the span of bytes available up to its NUL terminator, Validate
// checks that a replacement path fits the span, and Apply overwrites the
// spans on a copy of the library image. No byte is ever inserted or
// removed, so section offsets, symbol tables and relocations stay valid.
package patch
