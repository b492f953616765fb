// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"debug/elf"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ianlancetaylor/demangle"

	"github.com/objscope/elfbin/sliceread"
)

// Header is the decoded ELF file header. Counts are widened to 32 bits
// because the on-disk 16-bit fields can carry extended counts through
// reserved escape encodings.
type Header struct {
	Type    elf.Type
	Machine elf.Machine
	Version uint32
	Entry   uint64

	ProgTabOffset uint64
	SectTabOffset uint64
	Flags         uint32
	Size          uint16

	ProgEntrySize uint16
	ProgCount     uint32
	SectEntrySize uint16
	SectCount     uint32
	SectNameIndex uint32
}

// Section is one decoded section header. Content is read lazily through
// Data, bounded by MaxSectionSize.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64

	nameOffset uint32
	dec        sliceread.Decoder
	sr         *io.SectionReader
}

// ReadAt reads from the section content.
func (s *Section) ReadAt(p []byte, off int64) (int, error) {
	if s.sr == nil {
		return 0, io.EOF
	}
	return s.sr.ReadAt(p, off)
}

// Segment is one decoded program header. ReadAt serves the in-memory image
// of the segment: bytes past Filesz but within Memsz read as zeroes, the way
// the loader would map them.
type Segment struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64

	elfReader io.ReaderAt
}

// ReadAt implements the io.ReaderAt interface over the segment image.
func (ph *Segment) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset value %d given", off)
	}

	// First serve as much as possible from the file content.
	if uint64(off) < ph.Filesz {
		end := int(min(int64(len(p)), int64(ph.Filesz)-off))
		n, err = ph.elfReader.ReadAt(p[0:end], int64(ph.Offset)+off)
		if n != end || err != nil {
			return n, err
		}
		off += int64(n)
	}

	// The gap between Filesz and Memsz is allocated by the dynamic loader as
	// anonymous pages, and zero initialized. Read zeroes from this area.
	if n < len(p) && uint64(off) < ph.Memsz {
		end := int(min(int64(len(p)-n), int64(ph.Memsz)-off))
		for i := range p[n : n+end] {
			p[n+i] = 0
		}
		n += end
	}

	if n != len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Data loads the whole segment content, bounded by maxSize.
func (ph *Segment) Data(maxSize uint) ([]byte, error) {
	if ph.Filesz > uint64(maxSize) {
		return nil, fmt.Errorf("segment size %d is too large", ph.Filesz)
	}
	p := make([]byte, ph.Filesz)
	_, err := ph.ReadAt(p, 0)
	return p, err
}

// SymbolOrigin tags which table a symbol was decoded from.
type SymbolOrigin uint8

const (
	// OriginDynamic marks symbols from the dynamic symbol table.
	OriginDynamic SymbolOrigin = iota
	// OriginStatic marks symbols from .symtab.
	OriginStatic
)

func (o SymbolOrigin) String() string {
	if o == OriginDynamic {
		return "dynamic"
	}
	return "static"
}

// Symbol is one decoded symbol table entry. Static and dynamic symbols share
// the type, tagged by Origin. SectionIndex is a weak reference into the
// owning Binary's section sequence.
type Symbol struct {
	Name         string
	Value        uint64
	Size         uint64
	Info         uint8
	Other        uint8
	SectionIndex elf.SectionIndex
	Origin       SymbolOrigin

	// Version is set on dynamic symbols when the binary carries symbol
	// versioning tables, nil otherwise.
	Version *SymbolVersion

	nameOffset uint32
}

// Binding returns the symbol binding extracted from Info.
func (s *Symbol) Binding() elf.SymBind {
	return elf.ST_BIND(s.Info)
}

// SymbolType returns the symbol type extracted from Info.
func (s *Symbol) SymbolType() elf.SymType {
	return elf.ST_TYPE(s.Info)
}

// Visibility returns the symbol visibility extracted from Other.
func (s *Symbol) Visibility() elf.SymVis {
	return elf.ST_VISIBILITY(s.Other)
}

// Demangled returns the demangled form of the symbol name, or the raw name
// when it is not a mangled symbol.
func (s *Symbol) Demangled() string {
	return demangle.Filter(s.Name)
}

// SymbolVersion is one entry of the DT_VERSYM table resolved against the
// version definition and requirement tables. Values 0 and 1 are the reserved
// local and global sentinels and never carry an auxiliary record.
type SymbolVersion struct {
	value uint16
	aux   *SymbolVersionAux
}

// Value returns the raw 16-bit version index (hidden bit masked off).
func (v *SymbolVersion) Value() uint16 {
	return v.value
}

// IsLocal reports whether this is the reserved local version.
func (v *SymbolVersion) IsLocal() bool {
	return v.value == 0
}

// IsGlobal reports whether this is the reserved global version.
func (v *SymbolVersion) IsGlobal() bool {
	return v.value == 1
}

// HasAux reports whether a matching auxiliary version record was found.
func (v *SymbolVersion) HasAux() bool {
	return v.aux != nil
}

// Aux returns the auxiliary version record, or nil.
func (v *SymbolVersion) Aux() *SymbolVersionAux {
	return v.aux
}

// SymbolVersionAux is a named auxiliary version record.
type SymbolVersionAux struct {
	Name string
}

// SymbolVersionAuxRequirement is an auxiliary entry of a version
// requirement: the version a dynamic symbol binds against in some needed
// library.
type SymbolVersionAuxRequirement struct {
	SymbolVersionAux
	Hash  uint32
	Flags uint16
	// Other is the version index that DT_VERSYM entries match against.
	Other uint16
}

// SymbolVersionDefinition is one decoded entry of the DT_VERDEF table.
type SymbolVersionDefinition struct {
	Version uint16
	Flags   uint16
	// NDX is the version index that DT_VERSYM entries match against.
	NDX  uint16
	Hash uint32
	Aux  []*SymbolVersionAux
}

// SymbolVersionRequirement is one decoded entry of the DT_VERNEED table.
type SymbolVersionRequirement struct {
	Version uint16
	// Name is the file name of the depended-on library.
	Name string
	Aux  []*SymbolVersionAuxRequirement
}

// RelocationOrigin tags which decode family produced a relocation.
type RelocationOrigin uint8

const (
	// OriginDynamicReloc marks relocations reachable through the dynamic table.
	OriginDynamicReloc RelocationOrigin = iota
	// OriginPltGot marks PLT/GOT relocations.
	OriginPltGot
	// OriginSectionReloc marks relocations decoded from SHT_REL/SHT_RELA sections.
	OriginSectionReloc
)

func (o RelocationOrigin) String() string {
	switch o {
	case OriginDynamicReloc:
		return "dynamic"
	case OriginPltGot:
		return "pltgot"
	default:
		return "section"
	}
}

// Relocation is one decoded relocation entry from any of the three families.
// Symbol references are linked in a second phase, after all symbol tables
// have been decoded; until then only SymbolIndex is meaningful.
type Relocation struct {
	Address     uint64
	Type        uint32
	Addend      int64
	HasAddend   bool
	SymbolIndex uint32
	// Symbol is the resolved target, nil for index 0 or when the index is
	// out of range of the designated symbol table.
	Symbol *Symbol
	Origin RelocationOrigin

	// symtabOrigin selects which symbol table SymbolIndex refers to.
	symtabOrigin SymbolOrigin
}

// DynamicEntry is one (tag, value) pair of the dynamic table. Tags are not
// guaranteed unique in malformed input; the decoded sequence preserves file
// order and lookups through Binary.DynamicEntry take the first occurrence.
type DynamicEntry struct {
	Tag   elf.DynTag
	Value uint64
}

// Binary is the root of the decoded object graph. It owns every decoded
// entity; cross references between entities (section indices on symbols,
// symbol references on relocations) are non-owning.
type Binary struct {
	Name  string
	Class elf.Class
	// DataEncoding is the byte order declared in the ident bytes.
	DataEncoding elf.Data

	Header   Header
	Sections []*Section
	Segments []*Segment

	DynamicEntries []DynamicEntry
	DynamicSymbols []*Symbol
	StaticSymbols  []*Symbol
	Relocations    []*Relocation

	VersionDefinitions  []*SymbolVersionDefinition
	VersionRequirements []*SymbolVersionRequirement
	SymbolVersions      []*SymbolVersion

	Notes []*Note

	// Overlay holds trailing bytes past the end of everything the header
	// and tables declare, when present.
	Overlay []byte

	// FileID is the content identity hash of the parsed input.
	FileID FileID

	buildID []byte

	closer    io.Closer
	anomalies uint64

	// symbolIndex resolves names to the first symbol inserted under that
	// name, in decode order (dynamic before static).
	symbolIndex map[string]*Symbol
}

// Close releases the resources backing lazy content reads. A Binary parsed
// from memory has nothing to release.
func (b *Binary) Close() (err error) {
	if b.closer != nil {
		err = b.closer.Close()
		b.closer = nil
	}
	return err
}

// Anomalies returns the number of recoverable structural problems that were
// tolerated while parsing. A well-formed input parses with zero.
func (b *Binary) Anomalies() uint64 {
	return b.anomalies
}

// Symbols returns all decoded symbols, dynamic first, in decode order.
func (b *Binary) Symbols() []*Symbol {
	out := make([]*Symbol, 0, len(b.DynamicSymbols)+len(b.StaticSymbols))
	out = append(out, b.DynamicSymbols...)
	return append(out, b.StaticSymbols...)
}

// HasSymbol reports whether a symbol with the given name was decoded.
func (b *Binary) HasSymbol(name string) bool {
	_, ok := b.symbolIndex[name]
	return ok
}

// Symbol returns the first symbol decoded under the given name, or nil.
// When duplicates exist the first match in insertion order wins.
func (b *Binary) Symbol(name string) *Symbol {
	return b.symbolIndex[name]
}

// Section returns the section with the given name, or nil.
func (b *Binary) Section(name string) *Section {
	for _, s := range b.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SectionByType returns the first section of the given type, or nil.
func (b *Binary) SectionByType(typ elf.SectionType) *Section {
	for _, s := range b.Sections {
		if s.Type == typ {
			return s
		}
	}
	return nil
}

// Segment returns the first segment of the given type, or nil.
func (b *Binary) Segment(typ elf.ProgType) *Segment {
	for _, p := range b.Segments {
		if p.Type == typ {
			return p
		}
	}
	return nil
}

// DynamicEntry returns the value of the first dynamic entry with the given
// tag.
func (b *Binary) DynamicEntry(tag elf.DynTag) (uint64, bool) {
	for _, d := range b.DynamicEntries {
		if d.Tag == tag {
			return d.Value, true
		}
	}
	return 0, false
}

// BuildID returns the GNU build ID as a hex string, or ErrNoBuildID.
func (b *Binary) BuildID() (string, error) {
	if len(b.buildID) == 0 {
		return "", ErrNoBuildID
	}
	return hex.EncodeToString(b.buildID), nil
}

// VirtualAddressToOffset translates a virtual address to a file offset using
// the loadable segments.
func (b *Binary) VirtualAddressToOffset(va uint64) (uint64, error) {
	for _, ph := range b.Segments {
		if ph.Type == elf.PT_LOAD && va >= ph.Vaddr && va < ph.Vaddr+ph.Filesz {
			return va - ph.Vaddr + ph.Offset, nil
		}
	}
	return 0, fmt.Errorf("no loadable segment maps address 0x%x", va)
}

// ReadVirtualMemory reads bytes from the given virtual address through the
// loadable segment that contains it. Short reads indicate the address range
// runs past the segment image.
func (b *Binary) ReadVirtualMemory(p []byte, addr int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for _, ph := range b.Segments {
		if ph.Type == elf.PT_LOAD && uint64(addr) >= ph.Vaddr &&
			uint64(addr) < ph.Vaddr+ph.Memsz {
			return ph.ReadAt(p, addr-int64(ph.Vaddr))
		}
	}
	return 0, fmt.Errorf("no matching segment for 0x%x", uint64(addr))
}

// addAnomaly counts one tolerated structural problem.
func (b *Binary) addAnomaly() {
	b.anomalies++
}

// indexSymbol registers a symbol for name lookup; the first insertion under
// a name wins.
func (b *Binary) indexSymbol(sym *Symbol) {
	if sym.Name == "" {
		return
	}
	if _, exists := b.symbolIndex[sym.Name]; !exists {
		b.symbolIndex[sym.Name] = sym
	}
}
