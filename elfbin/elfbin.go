// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package elfbin implements a tolerant decoder for ELF object files. It walks
// the on-disk layout of a potentially malformed or adversarial input and
// builds a structured, queryable, mutable in-memory model of the file:
// header, sections, segments, symbols, relocations, dynamic metadata, symbol
// versioning and notes.
//
// The parser differs from debug/elf in intent:
//   - it keeps going on internally inconsistent input, producing the best
//     possible partial model instead of refusing on any imperfection
//   - every file-relative read is bounds-checked against the stream extent;
//     hard structural limits bound worst-case memory and time
//   - the number of dynamic symbols, which the format does not store
//     directly, is recovered through a ranked set of independent heuristics
//
// The Executable and Linking Format (ELF) specification is available at:
//
//	https://refspecs.linuxfoundation.org/elf/elf.pdf
//
// The DT_GNU_HASH layout is not part of the specification; a good
// description lives at https://flapenguin.me/elf-dt-gnu-hash
package elfbin

import (
	"errors"
)

// ErrNotELF is returned when the input does not start with the ELF magic.
var ErrNotELF = errors.New("not an ELF file")

// ErrUnsupportedClass is returned when the class byte is neither ELFCLASS32
// nor ELFCLASS64.
var ErrUnsupportedClass = errors.New("unsupported ELF class")

// ErrUnreliableCount is recorded when an explicitly selected dynamic symbol
// count method fails to produce a plausible value.
var ErrUnreliableCount = errors.New("unreliable dynamic symbol count")

// ErrNoBuildID is returned when the binary carries no GNU build ID note.
var ErrNoBuildID = errors.New("no build ID")

// DynsymCountMethod selects how the number of dynamic symbols is computed.
// The format has no authoritative field for this count, so it has to be
// recovered from side tables.
type DynsymCountMethod int

const (
	// CountAuto tries the estimators in a fixed preference order
	// (hash > gnu hash > section > relocations) and accepts the first
	// plausible non-zero value.
	CountAuto DynsymCountMethod = iota
	// CountHash derives the count from the SysV hash table chain count.
	CountHash
	// CountGNUHash derives the count from the GNU hash table layout.
	CountGNUHash
	// CountSection derives the count from the dynamic symbol section size.
	CountSection
	// CountRelocations derives the count from the highest symbol index
	// referenced by dynamic and PLT/GOT relocations.
	CountRelocations
)

func (m DynsymCountMethod) String() string {
	switch m {
	case CountAuto:
		return "auto"
	case CountHash:
		return "hash"
	case CountGNUHash:
		return "gnu-hash"
	case CountSection:
		return "section"
	case CountRelocations:
		return "relocations"
	default:
		return "unknown"
	}
}

// Option configures a parse.
type Option func(*parser)

// WithDynsymCountMethod selects the dynamic symbol count method. The default
// is CountAuto.
func WithDynsymCountMethod(m DynsymCountMethod) Option {
	return func(p *parser) {
		p.countMethod = m
	}
}
