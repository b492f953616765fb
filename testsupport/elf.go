// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package testsupport

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Builder assembles a synthetic ELF image in memory. Section zero (the
// reserved NULL section) and the section name string table are added
// automatically; content sections are laid out in insertion order after the
// file header, followed by the section and program header tables.
type Builder struct {
	Class   elf.Class
	Order   binary.ByteOrder
	Type    elf.Type
	Machine elf.Machine
	Entry   uint64

	sections []SectionSpec
	segments []SegmentSpec
	loadAll  bool
}

// SectionSpec describes one section to add to the image.
type SectionSpec struct {
	Name    string
	Type    elf.SectionType
	Flags   elf.SectionFlag
	Addr    uint64
	Data    []byte
	Link    uint32
	Info    uint32
	Entsize uint64
}

// SegmentSpec describes one program header to add to the image.
type SegmentSpec struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Offset uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
}

// NewBuilder returns a Builder for a little-endian 64-bit shared object.
func NewBuilder() *Builder {
	return &Builder{
		Class:   elf.ELFCLASS64,
		Order:   binary.LittleEndian,
		Type:    elf.ET_DYN,
		Machine: elf.EM_X86_64,
	}
}

// AddSection appends a section and returns its header table index.
func (b *Builder) AddSection(s SectionSpec) uint32 {
	b.sections = append(b.sections, s)
	// Index 0 is the NULL section.
	return uint32(len(b.sections))
}

// AddSegment appends a program header verbatim.
func (b *Builder) AddSegment(s SegmentSpec) {
	b.segments = append(b.segments, s)
}

// LoadAll arranges for a single PT_LOAD segment that identity-maps the whole
// image, so virtual addresses equal file offsets.
func (b *Builder) LoadAll() {
	b.loadAll = true
}

func (b *Builder) wordSize() uint64 {
	if b.Class == elf.ELFCLASS32 {
		return 4
	}
	return 8
}

func (b *Builder) tableSizes() (ehdr, phent, shent uint64) {
	if b.Class == elf.ELFCLASS32 {
		return 52, 32, 40
	}
	return 64, 56, 64
}

// enc appends fixed-width fields to a buffer in the builder's byte order.
type enc struct {
	order binary.ByteOrder
	ws    uint64
	buf   bytes.Buffer
}

func (b *Builder) enc() *enc {
	return &enc{order: b.Order, ws: b.wordSize()}
}

func (e *enc) u8(v uint8) { e.buf.WriteByte(v) }

func (e *enc) u16(v uint16) {
	var b [2]byte
	e.order.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *enc) u32(v uint32) {
	var b [4]byte
	e.order.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *enc) word(v uint64) {
	if e.ws == 4 {
		e.u32(uint32(v))
		return
	}
	var b [8]byte
	e.order.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// Sym encodes one symbol record.
func (b *Builder) Sym(nameOff uint32, info, other uint8, shndx uint16,
	value, size uint64) []byte {
	e := b.enc()
	e.u32(nameOff)
	if b.Class == elf.ELFCLASS32 {
		e.word(value)
		e.word(size)
		e.u8(info)
		e.u8(other)
		e.u16(shndx)
	} else {
		e.u8(info)
		e.u8(other)
		e.u16(shndx)
		e.word(value)
		e.word(size)
	}
	return e.buf.Bytes()
}

// Dyn encodes one dynamic table entry.
func (b *Builder) Dyn(tag elf.DynTag, value uint64) []byte {
	e := b.enc()
	e.word(uint64(tag))
	e.word(value)
	return e.buf.Bytes()
}

func (b *Builder) relInfo(sym, typ uint32) uint64 {
	if b.Class == elf.ELFCLASS32 {
		return uint64(sym)<<8 | uint64(typ&0xff)
	}
	return uint64(sym)<<32 | uint64(typ)
}

// Rel encodes one implicit-addend relocation record.
func (b *Builder) Rel(off uint64, sym, typ uint32) []byte {
	e := b.enc()
	e.word(off)
	e.word(b.relInfo(sym, typ))
	return e.buf.Bytes()
}

// Rela encodes one explicit-addend relocation record.
func (b *Builder) Rela(off uint64, sym, typ uint32, addend int64) []byte {
	e := b.enc()
	e.word(off)
	e.word(b.relInfo(sym, typ))
	e.word(uint64(addend))
	return e.buf.Bytes()
}

// U16s encodes a sequence of 16-bit values, for version index arrays.
func (b *Builder) U16s(vals ...uint16) []byte {
	e := b.enc()
	for _, v := range vals {
		e.u16(v)
	}
	return e.buf.Bytes()
}

// U32s encodes a sequence of 32-bit values, for hash table arrays.
func (b *Builder) U32s(vals ...uint32) []byte {
	e := b.enc()
	for _, v := range vals {
		e.u32(v)
	}
	return e.buf.Bytes()
}

// Words encodes a sequence of native words, for bloom filters and auxv
// payloads.
func (b *Builder) Words(vals ...uint64) []byte {
	e := b.enc()
	for _, v := range vals {
		e.word(v)
	}
	return e.buf.Bytes()
}

// Strtab encodes a string table: one leading null byte, then each name null
// terminated. Returns the table and the offset of each name in input order.
func Strtab(names ...string) ([]byte, []uint32) {
	var buf bytes.Buffer
	buf.WriteByte(0)
	offs := make([]uint32, len(names))
	for i, n := range names {
		offs[i] = uint32(buf.Len())
		buf.WriteString(n)
		buf.WriteByte(0)
	}
	return buf.Bytes(), offs
}

// Concat joins record slices into one table.
func Concat(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

// Build lays out and serializes the image.
func (b *Builder) Build() []byte {
	ehdrSize, phentSize, shentSize := b.tableSizes()

	// Full section list: NULL, user sections, .shstrtab.
	names := make([]string, 0, len(b.sections)+1)
	for _, s := range b.sections {
		names = append(names, s.Name)
	}
	names = append(names, ".shstrtab")
	shstrtab, nameOffs := Strtab(names...)

	type placed struct {
		SectionSpec
		offset uint64
		size   uint64
	}
	all := make([]placed, 0, len(b.sections)+2)
	all = append(all, placed{}) // NULL section
	for _, s := range b.sections {
		all = append(all, placed{SectionSpec: s, size: uint64(len(s.Data))})
	}
	all = append(all, placed{
		SectionSpec: SectionSpec{Name: ".shstrtab", Type: elf.SHT_STRTAB,
			Data: shstrtab},
		size: uint64(len(shstrtab)),
	})
	shstrndx := uint16(len(all) - 1)

	off := ehdrSize
	for i := range all[1:] {
		s := &all[i+1]
		off = (off + 7) &^ 7
		s.offset = off
		if s.Type != elf.SHT_NOBITS {
			off += s.size
		}
	}
	shoff := (off + 7) &^ 7
	phoff := shoff + uint64(len(all))*shentSize
	phnum := len(b.segments)
	if b.loadAll {
		phnum++
	}
	total := phoff + uint64(phnum)*phentSize

	segments := b.segments
	if b.loadAll {
		segments = append([]SegmentSpec{{
			Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X,
			Filesz: total, Memsz: total,
		}}, segments...)
	}

	e := b.enc()
	// ELF header.
	e.buf.Write([]byte{0x7f, 'E', 'L', 'F'})
	e.u8(uint8(b.Class))
	if b.Order == binary.BigEndian {
		e.u8(uint8(elf.ELFDATA2MSB))
	} else {
		e.u8(uint8(elf.ELFDATA2LSB))
	}
	e.u8(uint8(elf.EV_CURRENT))
	e.buf.Write(make([]byte, 9)) // ABI + padding
	e.u16(uint16(b.Type))
	e.u16(uint16(b.Machine))
	e.u32(uint32(elf.EV_CURRENT))
	e.word(b.Entry)
	e.word(phoff)
	e.word(shoff)
	e.u32(0) // flags
	e.u16(uint16(ehdrSize))
	e.u16(uint16(phentSize))
	e.u16(uint16(phnum))
	e.u16(uint16(shentSize))
	e.u16(uint16(len(all)))
	e.u16(shstrndx)

	// Section contents.
	for i := range all[1:] {
		s := &all[i+1]
		if s.Type == elf.SHT_NOBITS {
			continue
		}
		pad := s.offset - uint64(e.buf.Len())
		e.buf.Write(make([]byte, pad))
		e.buf.Write(s.Data)
	}

	// Section header table.
	pad := shoff - uint64(e.buf.Len())
	e.buf.Write(make([]byte, pad))
	for i, s := range all {
		nameOff := uint32(0)
		if i > 0 {
			nameOff = nameOffs[i-1]
		}
		e.u32(nameOff)
		e.u32(uint32(s.Type))
		e.word(uint64(s.Flags))
		e.word(s.Addr)
		e.word(s.offset)
		e.word(s.size)
		e.u32(s.Link)
		e.u32(s.Info)
		e.word(0) // addralign
		e.word(s.Entsize)
	}

	// Program header table.
	for _, seg := range segments {
		if b.Class == elf.ELFCLASS32 {
			e.u32(uint32(seg.Type))
			e.word(seg.Offset)
			e.word(seg.Vaddr)
			e.word(seg.Vaddr)
			e.word(seg.Filesz)
			e.word(seg.Memsz)
			e.u32(uint32(seg.Flags))
			e.word(0) // align
		} else {
			e.u32(uint32(seg.Type))
			e.u32(uint32(seg.Flags))
			e.word(seg.Offset)
			e.word(seg.Vaddr)
			e.word(seg.Vaddr)
			e.word(seg.Filesz)
			e.word(seg.Memsz)
			e.word(0) // align
		}
	}

	return e.buf.Bytes()
}

// SectionOffset computes where Build will place the i-th added section
// (1-based header index). Useful when section content must reference other
// sections by file offset.
func (b *Builder) SectionOffset(index uint32) uint64 {
	ehdrSize, _, _ := b.tableSizes()
	off := ehdrSize
	for i, s := range b.sections {
		off = (off + 7) &^ 7
		if uint32(i+1) == index {
			return off
		}
		if s.Type != elf.SHT_NOBITS {
			off += uint64(len(s.Data))
		}
	}
	return 0
}
