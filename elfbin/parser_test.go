// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin_test

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objscope/elfbin/elfbin"
	"github.com/objscope/elfbin/testsupport"
)

func TestParseRejectsNonELF(t *testing.T) {
	_, err := elfbin.ParseBytes([]byte("#!/bin/sh\necho hi\n"), "script")
	require.ErrorIs(t, err, elfbin.ErrNotELF)

	_, err = elfbin.ParseBytes([]byte{0x7f}, "truncated")
	require.ErrorIs(t, err, elfbin.ErrNotELF)
}

func TestParseRejectsUnknownClass(t *testing.T) {
	img := testsupport.NewBuilder().Build()
	img[elf.EI_CLASS] = 9
	_, err := elfbin.ParseBytes(img, "badclass")
	require.ErrorIs(t, err, elfbin.ErrUnsupportedClass)
}

func TestParseBasicImage(t *testing.T) {
	b := testsupport.NewBuilder()
	b.Entry = 0x1000
	textIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".text", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addr:  0x1000, Data: []byte{0xc3, 0x90, 0x90, 0x90},
	})
	b.AddSection(testsupport.SectionSpec{
		Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC,
	})
	b.LoadAll()

	bin, err := elfbin.ParseBytes(b.Build(), "basic")
	require.NoError(t, err)
	defer bin.Close()

	assert.Equal(t, elf.ELFCLASS64, bin.Class)
	assert.Equal(t, elf.ELFDATA2LSB, bin.DataEncoding)
	assert.Equal(t, elf.ET_DYN, bin.Header.Type)
	assert.Equal(t, elf.EM_X86_64, bin.Header.Machine)
	assert.Equal(t, uint64(0x1000), bin.Header.Entry)
	assert.Equal(t, uint64(0), bin.Anomalies())
	assert.False(t, bin.FileID.IsZero())

	// NULL section, .text, .bss, .shstrtab.
	require.Len(t, bin.Sections, 4)
	text := bin.Section(".text")
	require.NotNil(t, text)
	assert.Equal(t, uint64(4), text.Size)
	assert.Equal(t, text, bin.Sections[textIdx])
	data, err := text.Data(64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xc3, 0x90, 0x90, 0x90}, data)

	require.Len(t, bin.Segments, 1)
	load := bin.Segment(elf.PT_LOAD)
	require.NotNil(t, load)
	assert.Equal(t, uint64(0), load.Vaddr)

	off, err := bin.VirtualAddressToOffset(42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), off)
}

func TestParseBigEndian32(t *testing.T) {
	b := testsupport.NewBuilder()
	b.Class = elf.ELFCLASS32
	b.Order = binary.BigEndian
	b.Type = elf.ET_EXEC
	b.Machine = elf.EM_PPC
	b.Entry = 0x10000

	strtab, offs := testsupport.Strtab("main")
	strIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".strtab", Type: elf.SHT_STRTAB, Data: strtab,
	})
	b.AddSection(testsupport.SectionSpec{
		Name: ".symtab", Type: elf.SHT_SYMTAB, Link: strIdx,
		Info: 2, Entsize: 16,
		Data: testsupport.Concat(
			b.Sym(0, 0, 0, 0, 0, 0),
			b.Sym(offs[0], byte(elf.STB_GLOBAL)<<4|byte(elf.STT_FUNC),
				0, 1, 0x10000, 24),
		),
	})

	bin, err := elfbin.ParseBytes(b.Build(), "be32")
	require.NoError(t, err)
	defer bin.Close()

	assert.Equal(t, elf.ELFCLASS32, bin.Class)
	assert.Equal(t, elf.ELFDATA2MSB, bin.DataEncoding)
	assert.Equal(t, elf.ET_EXEC, bin.Header.Type)
	assert.Equal(t, uint64(0x10000), bin.Header.Entry)
	assert.Equal(t, uint64(0), bin.Anomalies())

	require.Len(t, bin.StaticSymbols, 2)
	sym := bin.Symbol("main")
	require.NotNil(t, sym)
	assert.Equal(t, uint64(0x10000), sym.Value)
	assert.Equal(t, uint64(24), sym.Size)
	assert.Equal(t, elf.STB_GLOBAL, sym.Binding())
	assert.Equal(t, elf.STT_FUNC, sym.SymbolType())
}

func TestParseOverlay(t *testing.T) {
	b := testsupport.NewBuilder()
	b.AddSection(testsupport.SectionSpec{
		Name: ".data", Type: elf.SHT_PROGBITS, Data: []byte{1, 2, 3},
	})
	img := b.Build()
	trailing := []byte("overlay payload")
	img = append(img, trailing...)

	bin, err := elfbin.ParseBytes(img, "overlay")
	require.NoError(t, err)
	defer bin.Close()
	assert.Equal(t, trailing, bin.Overlay)
}

func TestParseNoOverlay(t *testing.T) {
	bin, err := elfbin.ParseBytes(testsupport.NewBuilder().Build(), "noverlay")
	require.NoError(t, err)
	defer bin.Close()
	assert.Empty(t, bin.Overlay)
}

func TestTruncatedTablesYieldPartialModel(t *testing.T) {
	b := testsupport.NewBuilder()
	b.AddSection(testsupport.SectionSpec{
		Name: ".data", Type: elf.SHT_PROGBITS, Data: []byte{1, 2, 3, 4},
	})
	img := b.Build()

	// Cut the image in the middle of the section header table. Parsing must
	// still succeed with whatever decoded cleanly.
	cut := len(img) - len(img)/4
	bin, err := elfbin.ParseBytes(img[:cut], "truncated")
	require.NoError(t, err)
	defer bin.Close()
	assert.Positive(t, bin.Anomalies())
}

func TestBadSectionHeaderKeepsIndicesStable(t *testing.T) {
	b := testsupport.NewBuilder()
	victimIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".victim", Type: elf.SHT_PROGBITS, Data: []byte{0xee},
	})
	strtab, offs := testsupport.Strtab("omega")
	symIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".symtab", Type: elf.SHT_SYMTAB, Link: victimIdx + 2,
		Info: 2, Entsize: 24,
		Data: testsupport.Concat(
			b.Sym(0, 0, 0, 0, 0, 0),
			b.Sym(offs[0], byte(elf.STB_GLOBAL)<<4|byte(elf.STT_OBJECT),
				0, 1, 0x2000, 8),
		),
	})
	b.AddSection(testsupport.SectionSpec{
		Name: ".strtab", Type: elf.SHT_STRTAB, Data: strtab,
	})
	img := b.Build()

	// Corrupt the .victim header so its offset+size wraps around. The parser
	// must keep a placeholder at its index so that .symtab's string table
	// link still resolves to .strtab.
	shoff := binary.LittleEndian.Uint64(img[0x28:])
	rec := shoff + uint64(victimIdx)*64
	binary.LittleEndian.PutUint64(img[rec+24:], ^uint64(0)-0xff) // sh_offset
	binary.LittleEndian.PutUint64(img[rec+32:], 0x200)           // sh_size

	bin, err := elfbin.ParseBytes(img, "badsection")
	require.NoError(t, err)
	defer bin.Close()
	assert.Positive(t, bin.Anomalies())

	// NULL, placeholder, .symtab, .strtab, .shstrtab.
	require.Len(t, bin.Sections, 5)
	placeholder := bin.Sections[victimIdx]
	assert.Empty(t, placeholder.Name)
	assert.Zero(t, placeholder.Size)

	symtab := bin.Section(".symtab")
	require.NotNil(t, symtab)
	assert.Equal(t, symtab, bin.Sections[symIdx])

	sym := bin.Symbol("omega")
	require.NotNil(t, sym)
	assert.Equal(t, uint64(0x2000), sym.Value)
}

func TestTruncationSweepNeverPanics(t *testing.T) {
	img := buildDynamicImage(t)

	// Every prefix of a rich image must either fail cleanly or produce a
	// partial model. None may panic.
	for cut := 0; cut <= len(img); cut++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("panic at prefix length %d: %v", cut, r)
				}
			}()
			bin, err := elfbin.ParseBytes(img[:cut], "prefix")
			if err == nil {
				bin.Close()
			}
		}()
	}
}

func TestDebugLink(t *testing.T) {
	link := append([]byte("app.debug\x00"), 0, 0, 0x78, 0x56, 0x34, 0x12)
	b := testsupport.NewBuilder()
	b.AddSection(testsupport.SectionSpec{
		Name: ".gnu_debuglink", Type: elf.SHT_PROGBITS, Data: link,
	})
	bin, err := elfbin.ParseBytes(b.Build(), "debuglink")
	require.NoError(t, err)
	defer bin.Close()

	name, crc, err := bin.DebugLink()
	require.NoError(t, err)
	assert.Equal(t, "app.debug", name)
	assert.Equal(t, int32(0x12345678), crc)

	plain, err := elfbin.ParseBytes(testsupport.NewBuilder().Build(), "nolink")
	require.NoError(t, err)
	defer plain.Close()
	_, _, err = plain.DebugLink()
	require.ErrorIs(t, err, elfbin.ErrNoDebugLink)
}
