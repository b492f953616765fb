// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin

import (
	"debug/elf"
	"encoding/binary"

	"github.com/objscope/elfbin/sliceread"
)

// format carries everything record decoding needs that depends on the file
// header: byte order, word size and the per-class field layouts. It is built
// once, right after the ident bytes are validated, and every decoder shares
// the same algorithm body parameterized by it.
type format struct {
	dec   sliceread.Decoder
	class elf.Class

	ehdrSize uint
	phdrSize uint
	shdrSize uint
	symSize  uint
	dynSize  uint
	relSize  uint
	relaSize uint

	phdr phdrLayout
	sym  symLayout

	// info field split of a relocation entry
	relSymIndex func(info uint64) uint32
	relType     func(info uint64) uint32
}

// phdrLayout holds the field offsets of one program header record. The two
// classes order the fields differently (ELF64 moved p_flags up front), so the
// offsets are data, not code.
type phdrLayout struct {
	flags, off, vaddr, paddr, filesz, memsz, align uint
}

// symLayout holds the field offsets of one symbol record.
type symLayout struct {
	name, info, other, shndx, value, size uint
}

func newFormat(class elf.Class, order binary.ByteOrder) format {
	if class == elf.ELFCLASS32 {
		return format{
			dec:      sliceread.NewDecoder(order, 4),
			class:    class,
			ehdrSize: 52,
			phdrSize: 32,
			shdrSize: 40,
			symSize:  16,
			dynSize:  8,
			relSize:  8,
			relaSize: 12,
			phdr: phdrLayout{
				flags: 24, off: 4, vaddr: 8, paddr: 12,
				filesz: 16, memsz: 20, align: 28,
			},
			sym: symLayout{
				name: 0, value: 4, size: 8, info: 12, other: 13, shndx: 14,
			},
			relSymIndex: func(info uint64) uint32 { return uint32(info >> 8) },
			relType:     func(info uint64) uint32 { return uint32(info & 0xff) },
		}
	}
	return format{
		dec:      sliceread.NewDecoder(order, 8),
		class:    class,
		ehdrSize: 64,
		phdrSize: 56,
		shdrSize: 64,
		symSize:  24,
		dynSize:  16,
		relSize:  16,
		relaSize: 24,
		phdr: phdrLayout{
			flags: 4, off: 8, vaddr: 16, paddr: 24,
			filesz: 32, memsz: 40, align: 48,
		},
		sym: symLayout{
			name: 0, info: 4, other: 5, shndx: 6, value: 8, size: 16,
		},
		relSymIndex: func(info uint64) uint32 { return uint32(info >> 32) },
		relType:     func(info uint64) uint32 { return uint32(info) },
	}
}

// fields is a cursor over one fetched record. Reads past the record end
// yield zeroes, matching the sliceread contract.
type fields struct {
	d   sliceread.Decoder
	b   []byte
	off uint
}

func (f *fields) u8() uint8 {
	v := sliceread.Uint8(f.b, f.off)
	f.off++
	return v
}

func (f *fields) u16() uint16 {
	v := f.d.Uint16(f.b, f.off)
	f.off += 2
	return v
}

func (f *fields) u32() uint32 {
	v := f.d.Uint32(f.b, f.off)
	f.off += 4
	return v
}

func (f *fields) word() uint64 {
	v := f.d.Word(f.b, f.off)
	f.off += f.d.WordSize()
	return v
}

// decodeHeader decodes the fields following the 16 ident bytes.
func (fm *format) decodeHeader(b []byte) Header {
	f := fields{d: fm.dec, b: b, off: 16}
	return Header{
		Type:          elf.Type(f.u16()),
		Machine:       elf.Machine(f.u16()),
		Version:       f.u32(),
		Entry:         f.word(),
		ProgTabOffset: f.word(),
		SectTabOffset: f.word(),
		Flags:         f.u32(),
		Size:          f.u16(),
		ProgEntrySize: f.u16(),
		ProgCount:     uint32(f.u16()),
		SectEntrySize: f.u16(),
		SectCount:     uint32(f.u16()),
		SectNameIndex: uint32(f.u16()),
	}
}

func (fm *format) decodeProgHeader(b []byte) Segment {
	l := &fm.phdr
	return Segment{
		Type:   elf.ProgType(fm.dec.Uint32(b, 0)),
		Flags:  elf.ProgFlag(fm.dec.Uint32(b, l.flags)),
		Offset: fm.dec.Word(b, l.off),
		Vaddr:  fm.dec.Word(b, l.vaddr),
		Paddr:  fm.dec.Word(b, l.paddr),
		Filesz: fm.dec.Word(b, l.filesz),
		Memsz:  fm.dec.Word(b, l.memsz),
		Align:  fm.dec.Word(b, l.align),
	}
}

// decodeSectionHeader returns the section and its name offset into the
// section name string table. Both classes share the field order here.
func (fm *format) decodeSectionHeader(b []byte) (Section, uint32) {
	f := fields{d: fm.dec, b: b}
	nameOff := f.u32()
	s := Section{
		Type:      elf.SectionType(f.u32()),
		Flags:     elf.SectionFlag(f.word()),
		Addr:      f.word(),
		Offset:    f.word(),
		Size:      f.word(),
		Link:      f.u32(),
		Info:      f.u32(),
		Addralign: f.word(),
		Entsize:   f.word(),
	}
	return s, nameOff
}

func (fm *format) decodeSymbol(b []byte) Symbol {
	l := &fm.sym
	return Symbol{
		nameOffset:   fm.dec.Uint32(b, l.name),
		Info:         sliceread.Uint8(b, l.info),
		Other:        sliceread.Uint8(b, l.other),
		SectionIndex: elf.SectionIndex(fm.dec.Uint16(b, l.shndx)),
		Value:        fm.dec.Word(b, l.value),
		Size:         fm.dec.Word(b, l.size),
	}
}

func (fm *format) decodeDyn(b []byte) DynamicEntry {
	f := fields{d: fm.dec, b: b}
	return DynamicEntry{
		Tag:   elf.DynTag(f.word()),
		Value: f.word(),
	}
}

// decodeRel decodes one relocation entry. withAddend selects between the
// implicit-addend (Rel) and explicit-addend (Rela) on-disk formats.
func (fm *format) decodeRel(b []byte, withAddend bool) Relocation {
	f := fields{d: fm.dec, b: b}
	address := f.word()
	info := f.word()
	r := Relocation{
		Address:     address,
		Type:        fm.relType(info),
		SymbolIndex: fm.relSymIndex(info),
		HasAddend:   withAddend,
	}
	if withAddend {
		if fm.dec.WordSize() == 4 {
			r.Addend = int64(int32(f.word()))
		} else {
			r.Addend = int64(f.word())
		}
	}
	return r
}

// relEntrySize returns the on-disk record size for the given addend format.
func (fm *format) relEntrySize(withAddend bool) uint {
	if withAddend {
		return fm.relaSize
	}
	return fm.relSize
}
