// Package elfident identifies ELF shared objects from their header bytes
// without loading section or program tables.
package elfident

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen bytes are enough to read e_ident plus e_type and e_machine for
// both ELF classes.
const HeaderLen = 20

// Rejection reasons for candidate files.
var (
	ErrNotELF          = errors.New("elfident: not an ELF image")
	ErrNotSharedObject = errors.New("elfident: not a shared object")
	ErrBadClass        = errors.New("elfident: unknown ELF class")
	ErrBadEncoding     = errors.New("elfident: unknown data encoding")
)

// FormatTag describes the binary format of a shared library.
type FormatTag struct {
	Class   elf.Class
	Machine elf.Machine
	Order   binary.ByteOrder
}

func (t FormatTag) String() string {
	return fmt.Sprintf("%v %v", t.Class, t.Machine)
}

// Identify parses an ELF header prefix and returns the format tag for a
// shared object. Anything that is not an ELF DSO is rejected so the string
// scanner never runs over scripts, archives or executables.
func Identify(header []byte) (FormatTag, error) {
	if len(header) < HeaderLen {
		return FormatTag{}, ErrNotELF
	}
	if header[0] != 0x7f || header[1] != 'E' || header[2] != 'L' || header[3] != 'F' {
		return FormatTag{}, ErrNotELF
	}

	var tag FormatTag
	switch elf.Class(header[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		tag.Class = elf.ELFCLASS32
	case elf.ELFCLASS64:
		tag.Class = elf.ELFCLASS64
	default:
		return FormatTag{}, ErrBadClass
	}
	switch elf.Data(header[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		tag.Order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		tag.Order = binary.BigEndian
	default:
		return FormatTag{}, ErrBadEncoding
	}

	// e_type and e_machine sit right after e_ident in both classes.
	typ := elf.Type(tag.Order.Uint16(header[16:18]))
	tag.Machine = elf.Machine(tag.Order.Uint16(header[18:20]))
	if typ != elf.ET_DYN {
		return FormatTag{}, ErrNotSharedObject
	}
	return tag, nil
}
