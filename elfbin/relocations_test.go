// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

package elfbin_test

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objscope/elfbin/elfbin"
	"github.com/objscope/elfbin/testsupport"
)

// TestSectionRelocations decodes a relocatable object: no segments, no
// dynamic table, relocation targets resolved from the static symbol table
// designated by the relocation section's link field.
func TestSectionRelocations(t *testing.T) {
	b := testsupport.NewBuilder()
	b.Type = elf.ET_REL
	b.AddSection(testsupport.SectionSpec{
		Name: ".text", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Data:  make([]byte, 32),
	})

	strtab, offs := testsupport.Strtab("local_fn", "extern_fn")
	strtabIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".strtab", Type: elf.SHT_STRTAB, Data: strtab,
	})
	symtabIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".symtab", Type: elf.SHT_SYMTAB, Link: strtabIdx,
		Info: 3, Entsize: 24,
		Data: testsupport.Concat(
			b.Sym(0, 0, 0, 0, 0, 0),
			b.Sym(offs[0], byte(elf.STB_LOCAL)<<4|byte(elf.STT_FUNC),
				0, 1, 0x10, 8),
			b.Sym(offs[1], byte(elf.STB_GLOBAL)<<4|byte(elf.STT_NOTYPE),
				0, uint16(elf.SHN_UNDEF), 0, 0),
		),
	})
	b.AddSection(testsupport.SectionSpec{
		Name: ".rela.text", Type: elf.SHT_RELA, Link: symtabIdx,
		Info: 1, Entsize: 24,
		Data: testsupport.Concat(
			b.Rela(0x4, 2, uint32(elf.R_X86_64_PC32), -4),
			b.Rela(0xc, 1, uint32(elf.R_X86_64_64), 8),
			b.Rela(0x14, 0, uint32(elf.R_X86_64_NONE), 0),
		),
	})

	bin, err := elfbin.ParseBytes(b.Build(), "reloc.o")
	require.NoError(t, err)
	defer bin.Close()

	assert.Empty(t, bin.Segments)
	assert.Empty(t, bin.DynamicEntries)
	require.Len(t, bin.Relocations, 3)

	first := bin.Relocations[0]
	assert.Equal(t, elfbin.OriginSectionReloc, first.Origin)
	assert.Equal(t, uint64(0x4), first.Address)
	assert.Equal(t, uint32(elf.R_X86_64_PC32), first.Type)
	assert.True(t, first.HasAddend)
	assert.Equal(t, int64(-4), first.Addend)
	require.NotNil(t, first.Symbol)
	assert.Equal(t, "extern_fn", first.Symbol.Name)
	assert.Equal(t, elfbin.OriginStatic, first.Symbol.Origin)

	second := bin.Relocations[1]
	assert.Equal(t, "local_fn", second.Symbol.Name)
	assert.Equal(t, int64(8), second.Addend)

	// Index 0 is the reserved null symbol and stays unresolved.
	assert.Nil(t, bin.Relocations[2].Symbol)
}

// TestDynamicRelocations decodes a DT_RELA table located through the dynamic
// entries and the identity load segment.
func TestDynamicRelocations(t *testing.T) {
	b := testsupport.NewBuilder()

	dynstr, offs := testsupport.Strtab("target")
	dynstrIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".dynstr", Type: elf.SHT_STRTAB, Flags: elf.SHF_ALLOC,
		Data: dynstr,
	})
	dynsymIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".dynsym", Type: elf.SHT_DYNSYM, Flags: elf.SHF_ALLOC,
		Link: dynstrIdx, Info: 1, Entsize: 24,
		Data: testsupport.Concat(
			b.Sym(0, 0, 0, 0, 0, 0),
			b.Sym(offs[0], byte(elf.STB_GLOBAL)<<4|byte(elf.STT_OBJECT),
				0, 0, 0x1000, 8),
		),
	})
	rela := testsupport.Concat(
		b.Rela(0x5000, 1, uint32(elf.R_X86_64_GLOB_DAT), 0),
		b.Rela(0x5008, 1, uint32(elf.R_X86_64_64), 16),
	)
	relaIdx := b.AddSection(testsupport.SectionSpec{
		Name: ".rela.dyn", Type: elf.SHT_RELA, Flags: elf.SHF_ALLOC,
		Link: dynsymIdx, Entsize: 24, Data: rela,
	})
	b.AddSection(testsupport.SectionSpec{
		Name: ".dynamic", Type: elf.SHT_DYNAMIC, Flags: elf.SHF_ALLOC,
		Entsize: 16,
		Data: testsupport.Concat(
			b.Dyn(elf.DT_STRTAB, b.SectionOffset(dynstrIdx)),
			b.Dyn(elf.DT_STRSZ, uint64(len(dynstr))),
			b.Dyn(elf.DT_SYMTAB, b.SectionOffset(dynsymIdx)),
			b.Dyn(elf.DT_RELA, b.SectionOffset(relaIdx)),
			b.Dyn(elf.DT_RELASZ, uint64(len(rela))),
			b.Dyn(elf.DT_NULL, 0),
		),
	})
	b.LoadAll()

	bin, err := elfbin.ParseBytes(b.Build(), "dynreloc")
	require.NoError(t, err)
	defer bin.Close()

	require.Len(t, bin.Relocations, 2)
	for _, rel := range bin.Relocations {
		assert.Equal(t, elfbin.OriginDynamicReloc, rel.Origin)
		require.NotNil(t, rel.Symbol)
		assert.Equal(t, "target", rel.Symbol.Name)
		assert.Equal(t, elfbin.OriginDynamic, rel.Symbol.Origin)
	}
	assert.Equal(t, int64(16), bin.Relocations[1].Addend)
	assert.Equal(t, uint64(0), bin.Anomalies())
}

// TestPltGotRelocations is covered with the dynamic image fixture: entry
// format selection through DT_PLTREL and origin tagging.
func TestPltGotRelocations(t *testing.T) {
	bin, err := elfbin.ParseBytes(buildDynamicImage(t), "pltgot")
	require.NoError(t, err)
	defer bin.Close()

	require.Len(t, bin.Relocations, 3)
	for _, rel := range bin.Relocations {
		assert.Equal(t, elfbin.OriginPltGot, rel.Origin)
		assert.True(t, rel.HasAddend)
	}
	highest := bin.Relocations[0]
	assert.Equal(t, uint32(41), highest.SymbolIndex)
	require.NotNil(t, highest.Symbol)
	assert.Equal(t, uint64(0x1000+41*16), highest.Symbol.Value)
}
